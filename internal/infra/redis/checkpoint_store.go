package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quizmaster-service/internal/domain"
)

// CheckpointStore keeps attempt checkpoints in Redis so a student can resume
// on any instance. Each checkpoint is a JSON string under
// quiz:progress:{userID}:{quizID} that expires after ttl without ticks.
type CheckpointStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCheckpointStore(client *redis.Client, ttl time.Duration) *CheckpointStore {
	return &CheckpointStore{client: client, ttl: ttl}
}

func (s *CheckpointStore) LoadCheckpoint(ctx context.Context, userID, quizID string) (domain.Checkpoint, bool, error) {
	data, err := s.client.Get(ctx, s.key(userID, quizID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Checkpoint{}, false, nil
	}
	if err != nil {
		return domain.Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		// An unreadable checkpoint cannot be resumed; treat it as absent.
		_ = s.client.Del(ctx, s.key(userID, quizID)).Err()
		return domain.Checkpoint{}, false, nil
	}
	return cp, true, nil
}

func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, userID, quizID string, cp domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return s.client.Set(ctx, s.key(userID, quizID), data, s.ttl).Err()
}

func (s *CheckpointStore) ClearCheckpoint(ctx context.Context, userID, quizID string) error {
	return s.client.Del(ctx, s.key(userID, quizID)).Err()
}

func (s *CheckpointStore) key(userID, quizID string) string {
	return "quiz:progress:" + userID + ":" + quizID
}
