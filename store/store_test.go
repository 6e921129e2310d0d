package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowkit/hub"
	"github.com/BaSui01/flowkit/types"
)

func sampleEvent(i int) hub.EnrichedEvent {
	return hub.EnrichedEvent{
		ID:        fmt.Sprintf("ev-%d", i),
		Timestamp: time.Date(2026, 3, 14, 9, 0, i, 0, time.UTC),
		Context:   types.EventContext{SessionID: "sess-1"},
		Event:     hub.NodeStarted{NodeID: fmt.Sprintf("n%d", i), NodeType: "control.noop", Attempt: 1},
	}
}

// runStoreConformance exercises the RunStore contract shared by every
// backend: append order, positional afterSeq paging, run isolation, and
// snapshot upsert/load/delete.
func runStoreConformance(t *testing.T, s RunStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("events append in order", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			require.NoError(t, s.AppendEvent(ctx, "run-a", sampleEvent(i)))
		}
		require.NoError(t, s.AppendEvent(ctx, "run-b", sampleEvent(99)))

		events, err := s.LoadEvents(ctx, "run-a", -1)
		require.NoError(t, err)
		require.Len(t, events, 4)
		for i, ev := range events {
			assert.Equal(t, fmt.Sprintf("ev-%d", i), ev.ID)
			started, ok := ev.Event.(hub.NodeStarted)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprintf("n%d", i), started.NodeID)
		}
	})

	t.Run("afterSeq pages positionally", func(t *testing.T) {
		events, err := s.LoadEvents(ctx, "run-a", 1)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "ev-2", events[0].ID)
		assert.Equal(t, "ev-3", events[1].ID)

		events, err = s.LoadEvents(ctx, "run-a", 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("runs are isolated", func(t *testing.T) {
		events, err := s.LoadEvents(ctx, "run-b", -1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "ev-99", events[0].ID)

		events, err = s.LoadEvents(ctx, "run-absent", -1)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("snapshot lifecycle", func(t *testing.T) {
		loaded, err := s.LoadSnapshot(ctx, "run-a")
		require.NoError(t, err)
		assert.Nil(t, loaded, "no snapshot before the first save")

		state := &types.SessionState{
			SessionID:        "run-a",
			FlowName:         "conformance",
			CurrentNodeID:    "n2",
			CurrentNodeIndex: 2,
			Outputs:          map[string]any{"n1": map[string]any{"v": "x"}},
			PausedAt:         time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC),
			PauseReason:      "test pause",
		}
		require.NoError(t, s.SaveSnapshot(ctx, "run-a", state))

		loaded, err = s.LoadSnapshot(ctx, "run-a")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, "conformance", loaded.FlowName)
		assert.Equal(t, 2, loaded.CurrentNodeIndex)
		assert.Equal(t, "test pause", loaded.PauseReason)

		// A later save replaces the snapshot.
		state.CurrentNodeIndex = 3
		require.NoError(t, s.SaveSnapshot(ctx, "run-a", state))
		loaded, err = s.LoadSnapshot(ctx, "run-a")
		require.NoError(t, err)
		assert.Equal(t, 3, loaded.CurrentNodeIndex)

		require.NoError(t, s.DeleteSnapshot(ctx, "run-a"))
		loaded, err = s.LoadSnapshot(ctx, "run-a")
		require.NoError(t, err)
		assert.Nil(t, loaded)

		// Deleting an absent snapshot is not an error.
		require.NoError(t, s.DeleteSnapshot(ctx, "run-a"))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreConformance(t, NewMemoryStore())
}
