package store

import (
	"context"
	"sync"

	"github.com/BaSui01/flowkit/hub"
	"github.com/BaSui01/flowkit/types"
)

// RunStore is the narrow persistence contract the kernel talks to. The
// kernel defines the snapshot shape and read/apply semantics; durability is
// the implementation's concern.
type RunStore interface {
	// AppendEvent appends one enriched event to the run's ordered log.
	AppendEvent(ctx context.Context, runID string, event hub.EnrichedEvent) error
	// LoadEvents returns the events after the given sequence number
	// (afterSeq < 0 returns everything), in append order.
	LoadEvents(ctx context.Context, runID string, afterSeq int) ([]hub.EnrichedEvent, error)
	// SaveSnapshot persists the resumable session snapshot, replacing any
	// previous one for the run.
	SaveSnapshot(ctx context.Context, runID string, snapshot *types.SessionState) error
	// LoadSnapshot returns the snapshot for the run, or nil when none.
	LoadSnapshot(ctx context.Context, runID string) (*types.SessionState, error)
	// DeleteSnapshot removes the snapshot once a run finishes successfully.
	DeleteSnapshot(ctx context.Context, runID string) error
}

// MemoryStore is an in-process RunStore, sufficient for tests and runs that
// do not need to survive the process.
type MemoryStore struct {
	mu        sync.RWMutex
	events    map[string][]hub.EnrichedEvent
	snapshots map[string]*types.SessionState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string][]hub.EnrichedEvent),
		snapshots: make(map[string]*types.SessionState),
	}
}

var _ RunStore = (*MemoryStore)(nil)

func (s *MemoryStore) AppendEvent(ctx context.Context, runID string, event hub.EnrichedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[runID] = append(s.events[runID], event)
	return nil
}

func (s *MemoryStore) LoadEvents(ctx context.Context, runID string, afterSeq int) ([]hub.EnrichedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[runID]
	if afterSeq < 0 {
		afterSeq = -1
	}
	if afterSeq+1 >= len(all) {
		return nil, nil
	}
	out := make([]hub.EnrichedEvent, len(all)-(afterSeq+1))
	copy(out, all[afterSeq+1:])
	return out, nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, runID string, snapshot *types.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[runID] = snapshot
	return nil
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context, runID string) (*types.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots[runID], nil
}

func (s *MemoryStore) DeleteSnapshot(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, runID)
	return nil
}
