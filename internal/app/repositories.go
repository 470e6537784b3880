package app

import (
	"context"

	"quizmaster-service/internal/domain"
)

// QuizRepository loads and stores quiz definitions.
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	ListQuizzes(ctx context.Context) ([]domain.Quiz, error)
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
	DeleteQuiz(ctx context.Context, quizID string) error
}

// QuizReader is the read side attempts depend on; caches implement it.
type QuizReader interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizCache is a QuizReader that can drop stale entries after a quiz is edited.
type QuizCache interface {
	QuizReader
	Invalidate(ctx context.Context, quizID string)
}

// ResultRepository stores submitted results.
type ResultRepository interface {
	ListResults(ctx context.Context) ([]domain.Result, error)
	GetResult(ctx context.Context, resultID string) (domain.Result, error)
	SaveResult(ctx context.Context, result domain.Result) error
	UpdateResult(ctx context.Context, result domain.Result) error
}

// UserRepository stores accounts.
type UserRepository interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, userID string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	SaveUser(ctx context.Context, user domain.User) error
	DeleteUser(ctx context.Context, userID string) error
}

// GroupRepository stores student groups.
type GroupRepository interface {
	ListGroups(ctx context.Context) ([]domain.Group, error)
	GetGroup(ctx context.Context, groupID string) (domain.Group, error)
	SaveGroup(ctx context.Context, group domain.Group) error
	DeleteGroup(ctx context.Context, groupID string) error
}

// NotificationRepository stores the notification center, newest first.
type NotificationRepository interface {
	AddNotification(ctx context.Context, n domain.Notification, limit int) error
	ListNotifications(ctx context.Context) ([]domain.Notification, error)
	MarkRead(ctx context.Context, notificationID string) error
}

// TemplateRepository stores quiz templates.
type TemplateRepository interface {
	ListTemplates(ctx context.Context) ([]domain.Template, error)
	GetTemplate(ctx context.Context, templateID string) (domain.Template, error)
	SaveTemplate(ctx context.Context, t domain.Template) error
	DeleteTemplate(ctx context.Context, templateID string) error
}

// QuestionBankRepository stores reusable questions.
type QuestionBankRepository interface {
	ListBankQuestions(ctx context.Context) ([]domain.BankQuestion, error)
	GetBankQuestion(ctx context.Context, questionID string) (domain.BankQuestion, error)
	// SaveBankQuestions upserts every question in one write.
	SaveBankQuestions(ctx context.Context, questions ...domain.BankQuestion) error
	DeleteBankQuestion(ctx context.Context, questionID string) error
}

// SnapshotStore exports and wholesale replaces everything a store holds.
type SnapshotStore interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	Restore(ctx context.Context, snap domain.Snapshot) error
}

// CheckpointStore persists in-progress attempts keyed by user and quiz.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, userID, quizID string) (domain.Checkpoint, bool, error)
	SaveCheckpoint(ctx context.Context, userID, quizID string, cp domain.Checkpoint) error
	ClearCheckpoint(ctx context.Context, userID, quizID string) error
}

// Metrics receives counters from the use cases.
type Metrics interface {
	AttemptStarted(quizID string)
	AttemptSubmitted(quizID, reason string)
	ResultGraded(action string)
}

type nopMetrics struct{}

func (nopMetrics) AttemptStarted(string)           {}
func (nopMetrics) AttemptSubmitted(string, string) {}
func (nopMetrics) ResultGraded(string)             {}

// Store is everything the service persists apart from checkpoints.
type Store interface {
	QuizRepository
	ResultRepository
	UserRepository
	GroupRepository
	NotificationRepository
	TemplateRepository
	QuestionBankRepository
	SnapshotStore
}
