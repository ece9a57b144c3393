package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"quiz-attempt-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SnapshotStore persists the attempt snapshot as a single JSON value so an
// attempt survives process restarts. All snapshot fields live and die
// together under one key, matching the clear-as-a-unit contract.
type SnapshotStore struct {
	client *redis.Client
	userID string
	ttl    time.Duration
}

func NewSnapshotStore(client *redis.Client, userID string, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, userID: userID, ttl: ttl}
}

func (s *SnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context) (domain.Snapshot, bool, error) {
	data, err := s.client.Get(ctx, s.key()).Bytes()
	if err == redis.Nil {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *SnapshotStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) key() string {
	return "attempt:snapshot:" + s.userID
}
