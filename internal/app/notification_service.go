package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quizmaster-service/internal/domain"
)

// NotificationLimit caps the notification center; older entries are dropped first.
const NotificationLimit = 100

// Notification categories.
const (
	CategorySystem  = "system"
	CategoryQuiz    = "quiz"
	CategoryGrading = "grading"
	CategoryUser    = "user"
)

// NotificationService feeds the notification center.
type NotificationService struct {
	repo   NotificationRepository
	users  UserRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewNotificationService(repo NotificationRepository, users UserRepository, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, users: users, logger: logger, now: time.Now}
}

// Notify stores a notification, filling in its id and timestamp.
func (s *NotificationService) Notify(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Type == "" {
		n.Type = "info"
	}
	if n.Category == "" {
		n.Category = CategorySystem
	}
	n.Timestamp = s.now()
	n.Read = false
	if err := s.repo.AddNotification(ctx, n, NotificationLimit); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// NotifyGraders sends one copy of n to every teacher and admin.
func (s *NotificationService) NotifyGraders(ctx context.Context, n domain.Notification) error {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if !u.CanGrade() {
			continue
		}
		copyN := n
		copyN.ID = ""
		copyN.UserID = u.ID
		if _, err := s.Notify(ctx, copyN); err != nil {
			return err
		}
	}
	return nil
}

// Broadcast sends a notification to everyone. Only graders may broadcast.
func (s *NotificationService) Broadcast(ctx context.Context, sender domain.User, title, message, kind string) (domain.Notification, error) {
	if !sender.CanGrade() {
		return domain.Notification{}, domain.ErrForbidden
	}
	if title == "" || message == "" {
		return domain.Notification{}, domain.ErrInvalidNotification
	}
	n, err := s.Notify(ctx, domain.Notification{
		Type:     kind,
		Category: CategoryUser,
		Title:    title,
		Message:  message,
		SentBy:   sender.ID,
	})
	if err != nil {
		return domain.Notification{}, err
	}
	s.logger.Info("notification broadcast", zap.String("sender", sender.ID), zap.String("notification", n.ID))
	return n, nil
}

// ListFor returns the user's own notifications plus broadcasts, newest first.
func (s *NotificationService) ListFor(ctx context.Context, user domain.User) ([]domain.Notification, error) {
	all, err := s.repo.ListNotifications(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(all))
	for _, n := range all {
		if n.UserID == "" || n.UserID == user.ID {
			out = append(out, n)
		}
	}
	return out, nil
}

// UnreadCount counts the unread entries visible to the user.
func (s *NotificationService) UnreadCount(ctx context.Context, user domain.User) (int, error) {
	list, err := s.ListFor(ctx, user)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range list {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

// MarkRead marks one notification read. Users may only touch notifications addressed to them.
func (s *NotificationService) MarkRead(ctx context.Context, user domain.User, notificationID string) error {
	list, err := s.ListFor(ctx, user)
	if err != nil {
		return err
	}
	for _, n := range list {
		if n.ID == notificationID {
			return s.repo.MarkRead(ctx, notificationID)
		}
	}
	return domain.ErrNotificationNotFound
}
