package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowkit/types"
)

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"*", "node:start", true},
		{"node:start", "node:start", true},
		{"node:start", "node:complete", false},
		{"node:*", "node:complete", true},
		{"node:*", "flow:start", false},
		{"session:*", "session:paused", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchPattern(tc.pattern, tc.eventType),
			"pattern %q vs %q", tc.pattern, tc.eventType)
	}
}

func TestEnrichedEventWireShape(t *testing.T) {
	ev := EnrichedEvent{
		ID:        "ev-1",
		Timestamp: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Context: types.EventContext{
			SessionID: "sess-1",
			Task:      &types.TaskScope{ID: "t-1"},
		},
		Event: NodeFailed{
			NodeID:  "fetch",
			Code:    types.ErrTimeout,
			Message: "deadline exceeded",
			Attempt: 2,
			Fatal:   true,
		},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	// The payload is flattened with its type tag.
	var raw struct {
		Event map[string]any `json:"event"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "node:failed", raw.Event["type"])
	assert.Equal(t, "fetch", raw.Event["nodeId"])

	var back EnrichedEvent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ev.ID, back.ID)
	assert.Equal(t, "sess-1", back.Context.SessionID)

	failed, ok := back.Event.(NodeFailed)
	require.True(t, ok)
	assert.Equal(t, ev.Event, failed)
}

func TestEnrichedEventUnknownType(t *testing.T) {
	data := []byte(`{"id":"ev-1","timestamp":"2026-03-14T09:00:00Z","context":{"sessionId":"s"},"event":{"type":"node:exploded"}}`)

	var ev EnrichedEvent
	err := json.Unmarshal(data, &ev)
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestDecodeEventCoversAllTypes(t *testing.T) {
	all := []Event{
		FlowStarted{}, FlowCompleted{},
		NodeStarted{}, NodeCompleted{}, NodeSkipped{}, NodeFailed{}, NodeRetrying{},
		TaskStarted{}, TaskCompleted{},
		AgentMessage{},
		SessionMessage{}, SessionPrompt{}, SessionReply{},
		SessionPaused{}, SessionResumed{}, SessionAborted{},
		ChannelRegistered{}, ChannelStarted{}, ChannelStopped{},
	}
	for _, ev := range all {
		decoded, err := decodeEvent(ev.EventType(), []byte(`{}`))
		require.NoError(t, err, "type %s", ev.EventType())
		assert.Equal(t, ev.EventType(), decoded.EventType())
		assert.Equal(t, ev.EventCategory(), decoded.EventCategory())
	}
}
