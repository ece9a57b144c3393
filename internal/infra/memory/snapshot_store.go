package memory

import (
	"context"
	"sync"

	"quiz-attempt-engine/internal/domain"
)

// SnapshotStore is an in-memory implementation of engine.SnapshotStore,
// holding at most one attempt snapshot.
type SnapshotStore struct {
	mu   sync.RWMutex
	snap *domain.Snapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

func (s *SnapshotStore) Save(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := snap
	copied.Answers = make(map[int]domain.Answer, len(snap.Answers))
	for i, a := range snap.Answers {
		copied.Answers[i] = a
	}
	s.snap = &copied
	return nil
}

func (s *SnapshotStore) Load(_ context.Context) (domain.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return domain.Snapshot{}, false, nil
	}
	return *s.snap, true, nil
}

func (s *SnapshotStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	return nil
}
