package memory

import (
	"context"
	"sync"

	"quizmaster-service/internal/domain"
)

// CheckpointStore keeps attempt checkpoints in process.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]domain.Checkpoint
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[string]domain.Checkpoint)}
}

func (s *CheckpointStore) LoadCheckpoint(_ context.Context, userID, quizID string) (domain.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[key(userID, quizID)]
	return cp, ok, nil
}

func (s *CheckpointStore) SaveCheckpoint(_ context.Context, userID, quizID string, cp domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[key(userID, quizID)] = cp
	return nil
}

func (s *CheckpointStore) ClearCheckpoint(_ context.Context, userID, quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, key(userID, quizID))
	return nil
}

func key(userID, quizID string) string {
	return userID + ":" + quizID
}
