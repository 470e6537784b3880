package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a question referenced by the attempt no longer exists.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrResultNotFound is returned when a result id is unknown.
	ErrResultNotFound = errors.New("result not found")
	// ErrUserNotFound is returned when a user id or username is unknown.
	ErrUserNotFound = errors.New("user not found")
	// ErrGroupNotFound is returned when a group id is unknown.
	ErrGroupNotFound = errors.New("group not found")
	// ErrAttemptNotFound is returned when no attempt is active for a user and quiz.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrNotificationNotFound is returned when a notification id is unknown.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrTemplateNotFound is returned when a template id is unknown.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrBankQuestionNotFound is returned when a question bank id is unknown.
	ErrBankQuestionNotFound = errors.New("bank question not found")

	ErrPasswordRequired  = errors.New("quiz password required")
	ErrWrongPassword     = errors.New("incorrect quiz password")
	ErrRetakeNotAllowed  = errors.New("retake not allowed")
	ErrQuizUnavailable   = errors.New("quiz is not available")
	ErrSectionIncomplete = errors.New("answer all questions in the current section before proceeding")
	ErrAtBoundary        = errors.New("no further question in this direction")
	ErrInvalidAnswer     = errors.New("answer does not fit the question type")
	ErrInvalidState      = errors.New("operation not allowed in the current attempt state")
	ErrInvalidScore      = errors.New("manual score must be between 0 and 100")
	ErrInvalidTransition = errors.New("grading status transition not allowed")
	ErrTimerClaimed      = errors.New("attempt timer already running")

	ErrForbidden          = errors.New("permission denied")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUsernameTaken      = errors.New("username already exists")

	// Validation failures wrap one of these with the field details.
	ErrInvalidQuiz         = errors.New("invalid quiz")
	ErrInvalidQuestion     = errors.New("invalid question")
	ErrInvalidUser         = errors.New("invalid user")
	ErrInvalidGroup        = errors.New("invalid group")
	ErrInvalidNotification = errors.New("notification needs a title and a message")
	ErrInvalidBackup       = errors.New("backup must contain users, quizzes and results")
)
