package flow

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/flowkit/hub"
	"github.com/BaSui01/flowkit/store"
	"github.com/BaSui01/flowkit/types"
)

// SessionManager resumes paused runs through a RunStore, including runs
// paused by a process that has since exited. It rehydrates the persisted
// snapshot into the hub and delegates the state transition to it.
type SessionManager struct {
	store  store.RunStore
	logger *zap.Logger
}

// NewSessionManager creates a manager over the given store.
func NewSessionManager(s store.RunStore, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		store:  s,
		logger: logger.With(zap.String("component", "session_manager")),
	}
}

// Paused returns the persisted snapshot for a session, or nil when the
// session has no pending pause.
func (m *SessionManager) Paused(ctx context.Context, sessionID string) (*types.SessionState, error) {
	state, err := m.store.LoadSnapshot(ctx, sessionID)
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "loading pause snapshot").WithCause(err)
	}
	return state, nil
}

// Resume continues a paused session on the given hub, optionally delivering
// a message to waiting multi-turn nodes. Resuming a session with no
// persisted pause is an error and changes nothing.
func (m *SessionManager) Resume(ctx context.Context, h *hub.Hub, sessionID string, msg *types.Message) error {
	state, err := m.Paused(ctx, sessionID)
	if err != nil {
		return err
	}
	if state == nil {
		return types.NewError(types.ErrSessionNotPaused, "no persisted pause for session "+sessionID)
	}
	if err := h.RestorePaused(state); err != nil {
		return err
	}
	if err := h.Resume(ctx, sessionID, msg); err != nil {
		return err
	}
	m.logger.Info("session resumed from snapshot",
		zap.String("resumed_session_id", sessionID),
		zap.String("flow", state.FlowName),
		zap.String("node_id", state.CurrentNodeID),
	)
	return nil
}

// Replay returns the persisted event log of a run after the given sequence
// number; afterSeq < 0 replays everything.
func (m *SessionManager) Replay(ctx context.Context, runID string, afterSeq int) ([]hub.EnrichedEvent, error) {
	events, err := m.store.LoadEvents(ctx, runID, afterSeq)
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "loading run events").WithCause(err)
	}
	return events, nil
}
