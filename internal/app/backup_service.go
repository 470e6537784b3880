package app

import (
	"context"

	"go.uber.org/zap"

	"quizmaster-service/internal/domain"
)

// BackupService exports and restores the whole data set. Admin only.
type BackupService struct {
	store  SnapshotStore
	caches []QuizCache
	logger *zap.Logger
}

func NewBackupService(store SnapshotStore, logger *zap.Logger, caches ...QuizCache) *BackupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackupService{store: store, caches: caches, logger: logger}
}

// Export returns a copy of everything stored.
func (s *BackupService) Export(ctx context.Context, actor domain.User) (domain.Snapshot, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.Snapshot{}, domain.ErrForbidden
	}
	return s.store.Snapshot(ctx)
}

// Restore overwrites all stored data with snap. A backup without users,
// quizzes and results is rejected, and a restore never leaves the store
// without an admin.
func (s *BackupService) Restore(ctx context.Context, actor domain.User, snap domain.Snapshot) error {
	if actor.Role != domain.RoleAdmin {
		return domain.ErrForbidden
	}
	if snap.Users == nil || snap.Quizzes == nil || snap.Results == nil {
		return domain.ErrInvalidBackup
	}
	hasAdmin := false
	for _, u := range snap.Users {
		if u.Role == domain.RoleAdmin {
			hasAdmin = true
			break
		}
	}
	if !hasAdmin {
		snap.Users = append(snap.Users, actor)
	}
	if err := s.store.Restore(ctx, snap); err != nil {
		return err
	}
	for _, q := range snap.Quizzes {
		for _, c := range s.caches {
			c.Invalidate(ctx, q.ID)
		}
	}
	s.logger.Warn("data restored from backup",
		zap.String("actor", actor.ID),
		zap.Int("users", len(snap.Users)),
		zap.Int("quizzes", len(snap.Quizzes)),
		zap.Int("results", len(snap.Results)),
	)
	return nil
}
