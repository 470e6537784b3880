package app

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"quizmaster-service/internal/domain"
)

// GroupService manages student groups.
type GroupService struct {
	groups GroupRepository
	logger *zap.Logger
}

func NewGroupService(groups GroupRepository, logger *zap.Logger) *GroupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupService{groups: groups, logger: logger}
}

// ListGroups returns every group.
func (s *GroupService) ListGroups(ctx context.Context) ([]domain.Group, error) {
	return s.groups.ListGroups(ctx)
}

// SaveGroup creates or replaces a group. Duplicate members are collapsed.
func (s *GroupService) SaveGroup(ctx context.Context, actor domain.User, g domain.Group) (domain.Group, error) {
	if !actor.CanGrade() {
		return domain.Group{}, domain.ErrForbidden
	}
	g.Name = strings.TrimSpace(g.Name)
	if err := validation.ValidateStruct(&g,
		validation.Field(&g.Name, validation.Required, validation.RuneLength(1, 100)),
	); err != nil {
		return domain.Group{}, fmt.Errorf("%w: %v", domain.ErrInvalidGroup, err)
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.Members = uniqueMembers(g.Members)
	if err := s.groups.SaveGroup(ctx, g); err != nil {
		return domain.Group{}, err
	}
	s.logger.Info("group saved", zap.String("group", g.ID), zap.Int("members", len(g.Members)))
	return g, nil
}

// DeleteGroup removes a group; quizzes assigned to it keep the dangling id.
func (s *GroupService) DeleteGroup(ctx context.Context, actor domain.User, groupID string) error {
	if !actor.CanGrade() {
		return domain.ErrForbidden
	}
	return s.groups.DeleteGroup(ctx, groupID)
}

// AddMembers puts users into a group, skipping those already in it.
func (s *GroupService) AddMembers(ctx context.Context, actor domain.User, groupID string, userIDs ...string) (domain.Group, error) {
	return s.update(ctx, actor, groupID, func(g *domain.Group) {
		for _, id := range userIDs {
			if id != "" && !g.HasMember(id) {
				g.Members = append(g.Members, id)
			}
		}
	})
}

// RemoveMember takes a user out of a group.
func (s *GroupService) RemoveMember(ctx context.Context, actor domain.User, groupID, userID string) (domain.Group, error) {
	return s.update(ctx, actor, groupID, func(g *domain.Group) {
		kept := g.Members[:0]
		for _, id := range g.Members {
			if id != userID {
				kept = append(kept, id)
			}
		}
		g.Members = kept
	})
}

func (s *GroupService) update(ctx context.Context, actor domain.User, groupID string, mutate func(*domain.Group)) (domain.Group, error) {
	if !actor.CanGrade() {
		return domain.Group{}, domain.ErrForbidden
	}
	g, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return domain.Group{}, err
	}
	mutate(&g)
	if err := s.groups.SaveGroup(ctx, g); err != nil {
		return domain.Group{}, err
	}
	return g, nil
}

func uniqueMembers(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
