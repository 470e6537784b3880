package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quizmaster-service/internal/domain"
)

// ResultListener is told whenever a result is stored or its grading changes.
type ResultListener interface {
	ResultChanged(ctx context.Context, result domain.Result)
}

// ManualGrade is a grader's override. A nil Score leaves the auto score authoritative.
type ManualGrade struct {
	Score    *int              `json:"manualScore"`
	Feedback map[string]string `json:"feedback"`
}

// GradingService turns submissions into results and runs the manual grading workflow.
type GradingService struct {
	quizzes       QuizReader
	results       ResultRepository
	notifications *NotificationService
	listeners     []ResultListener
	logger        *zap.Logger
	metrics       Metrics
	now           func() time.Time
}

// GradingOption customizes a GradingService.
type GradingOption func(*GradingService)

// WithGradingClock overrides the clock used for submission and grading timestamps.
func WithGradingClock(now func() time.Time) GradingOption {
	return func(s *GradingService) { s.now = now }
}

// WithGradingMetrics records grading counters.
func WithGradingMetrics(m Metrics) GradingOption {
	return func(s *GradingService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithResultListener subscribes l to result changes.
func WithResultListener(l ResultListener) GradingOption {
	return func(s *GradingService) { s.listeners = append(s.listeners, l) }
}

func NewGradingService(quizzes QuizReader, results ResultRepository, notifications *NotificationService, logger *zap.Logger, opts ...GradingOption) *GradingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GradingService{
		quizzes:       quizzes,
		results:       results,
		notifications: notifications,
		logger:        logger,
		metrics:       nopMetrics{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record scores a submission and persists it as a new result.
func (s *GradingService) Record(ctx context.Context, studentID string, quiz domain.Quiz, sub Submission) (domain.Result, error) {
	summary := Score(sub.Questions, sub.Answers)
	result := domain.Result{
		ID:             uuid.NewString(),
		QuizID:         quiz.ID,
		StudentID:      studentID,
		Date:           s.now(),
		Score:          summary.Score,
		Answers:        sub.Answers,
		TotalQuestions: summary.TotalQuestions,
		CorrectCount:   summary.CorrectCount,
		EarnedPoints:   summary.EarnedPoints,
		TotalPoints:    summary.TotalPoints,
		GradingStatus:  InitialStatus(quiz.GradingMode),
		Feedback:       map[string]string{},
		TabSwitches:    sub.TabSwitches,
		OptionOrder:    sub.OptionOrder,
	}
	if err := s.results.SaveResult(ctx, result); err != nil {
		return domain.Result{}, fmt.Errorf("save result: %w", err)
	}
	s.logger.Info("result recorded",
		zap.String("result", result.ID),
		zap.String("quiz", quiz.ID),
		zap.String("student", studentID),
		zap.Int("score", result.Score),
		zap.String("status", string(result.GradingStatus)),
	)

	s.notify(ctx, domain.Notification{
		Type:     "success",
		Category: CategoryQuiz,
		Title:    "Quiz Submitted",
		Message:  fmt.Sprintf("Your answers for %q have been submitted.", quiz.Title),
		UserID:   studentID,
		Action:   &domain.NotificationAction{Type: "result", Target: result.ID, Label: "View result"},
	})
	if quiz.GradingMode == domain.GradingManual && s.notifications != nil {
		err := s.notifications.NotifyGraders(ctx, domain.Notification{
			Type:     "warning",
			Category: CategoryGrading,
			Title:    "Quiz Needs Grading",
			Message:  fmt.Sprintf("A new submission for %q is waiting for manual grading.", quiz.Title),
			Action:   &domain.NotificationAction{Type: "grade", Target: result.ID, Label: "Grade now"},
		})
		if err != nil {
			s.logger.Warn("notify graders", zap.Error(err))
		}
	}
	s.changed(ctx, result)
	return result, nil
}

// Grade applies a manual score and per-question feedback and marks the result graded.
func (s *GradingService) Grade(ctx context.Context, grader domain.User, resultID string, g ManualGrade) (domain.Result, error) {
	if !grader.CanGrade() {
		return domain.Result{}, domain.ErrForbidden
	}
	if g.Score != nil && (*g.Score < 0 || *g.Score > 100) {
		return domain.Result{}, domain.ErrInvalidScore
	}
	result, err := s.results.GetResult(ctx, resultID)
	if err != nil {
		return domain.Result{}, err
	}

	if g.Score != nil {
		manual := *g.Score
		result.ManualScore = &manual
		result.EarnedPoints = int(math.Round(float64(manual) / 100 * float64(result.TotalPoints)))
	}
	if result.Feedback == nil {
		result.Feedback = map[string]string{}
	}
	for questionID, text := range g.Feedback {
		if text == "" {
			delete(result.Feedback, questionID)
			continue
		}
		result.Feedback[questionID] = text
	}
	now := s.now()
	result.GradingStatus = domain.StatusGraded
	result.GradedBy = grader.ID
	result.GradedAt = &now

	if err := s.results.UpdateResult(ctx, result); err != nil {
		return domain.Result{}, fmt.Errorf("update result: %w", err)
	}
	s.metrics.ResultGraded("grade")
	s.logger.Info("result graded", zap.String("result", result.ID), zap.String("grader", grader.ID))

	s.notify(ctx, domain.Notification{
		Type:     "info",
		Category: CategoryGrading,
		Title:    "Quiz Graded",
		Message:  fmt.Sprintf("Your submission has been graded: %d%%.", result.AuthoritativeScore()),
		UserID:   result.StudentID,
		Action:   &domain.NotificationAction{Type: "result", Target: result.ID, Label: "View result"},
	})
	s.changed(ctx, result)
	return result, nil
}

// Approve moves a graded result to reviewed without touching the score.
func (s *GradingService) Approve(ctx context.Context, grader domain.User, resultID string) (domain.Result, error) {
	return s.transition(ctx, grader, resultID, "approve", func(status domain.GradingStatus) (domain.GradingStatus, bool) {
		return domain.StatusReviewed, status == domain.StatusGraded
	})
}

// RequestRegrade sends a result back to the pending queue.
func (s *GradingService) RequestRegrade(ctx context.Context, grader domain.User, resultID string) (domain.Result, error) {
	return s.transition(ctx, grader, resultID, "regrade", func(domain.GradingStatus) (domain.GradingStatus, bool) {
		return domain.StatusPending, true
	})
}

func (s *GradingService) transition(ctx context.Context, grader domain.User, resultID, action string, next func(domain.GradingStatus) (domain.GradingStatus, bool)) (domain.Result, error) {
	if !grader.CanGrade() {
		return domain.Result{}, domain.ErrForbidden
	}
	result, err := s.results.GetResult(ctx, resultID)
	if err != nil {
		return domain.Result{}, err
	}
	status, ok := next(result.GradingStatus)
	if !ok {
		return domain.Result{}, fmt.Errorf("%s from %s: %w", action, result.GradingStatus, domain.ErrInvalidTransition)
	}
	result.GradingStatus = status
	if err := s.results.UpdateResult(ctx, result); err != nil {
		return domain.Result{}, fmt.Errorf("update result: %w", err)
	}
	s.metrics.ResultGraded(action)
	s.logger.Info("grading status changed",
		zap.String("result", result.ID),
		zap.String("action", action),
		zap.String("status", string(status)),
	)
	s.changed(ctx, result)
	return result, nil
}

// PendingQueue lists results waiting for a grader, oldest first. An empty
// quizID covers every quiz.
func (s *GradingService) PendingQueue(ctx context.Context, grader domain.User, quizID string) ([]domain.Result, error) {
	if !grader.CanGrade() {
		return nil, domain.ErrForbidden
	}
	all, err := s.results.ListResults(ctx)
	if err != nil {
		return nil, err
	}
	modes := make(map[string]domain.GradingMode)
	queue := make([]domain.Result, 0)
	for _, r := range all {
		if quizID != "" && r.QuizID != quizID {
			continue
		}
		if r.GradingStatus == domain.StatusPending {
			queue = append(queue, r)
			continue
		}
		if r.GradingStatus != domain.StatusAuto {
			continue
		}
		mode, ok := modes[r.QuizID]
		if !ok {
			if quiz, err := s.quizzes.GetQuiz(ctx, r.QuizID); err == nil {
				mode = quiz.GradingMode
			}
			modes[r.QuizID] = mode
		}
		if mode == domain.GradingManual {
			queue = append(queue, r)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].Date.Before(queue[j].Date) })
	return queue, nil
}

// ResultView renders one result for the viewer. Students may only open their own.
func (s *GradingService) ResultView(ctx context.Context, viewer domain.User, resultID string) (ResultView, error) {
	result, err := s.results.GetResult(ctx, resultID)
	if err != nil {
		return ResultView{}, err
	}
	if !viewer.CanGrade() && result.StudentID != viewer.ID {
		return ResultView{}, domain.ErrForbidden
	}
	quiz, err := s.lookupQuiz(ctx, result.QuizID)
	if err != nil {
		return ResultView{}, err
	}
	return BuildResultView(quiz, result, viewer.CanGrade(), s.now()), nil
}

// ResultViews lists results newest first: a student's own, or everything for graders.
func (s *GradingService) ResultViews(ctx context.Context, viewer domain.User) ([]ResultView, error) {
	all, err := s.results.ListResults(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	quizzes := make(map[string]*domain.Quiz)
	views := make([]ResultView, 0, len(all))
	for _, r := range all {
		if !viewer.CanGrade() && r.StudentID != viewer.ID {
			continue
		}
		quiz, ok := quizzes[r.QuizID]
		if !ok {
			quiz, err = s.lookupQuiz(ctx, r.QuizID)
			if err != nil {
				return nil, err
			}
			quizzes[r.QuizID] = quiz
		}
		views = append(views, BuildResultView(quiz, r, viewer.CanGrade(), now))
	}
	sort.SliceStable(views, func(i, j int) bool { return views[i].Date.After(views[j].Date) })
	return views, nil
}

// lookupQuiz returns nil for deleted quizzes.
func (s *GradingService) lookupQuiz(ctx context.Context, quizID string) (*domain.Quiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &quiz, nil
}

func (s *GradingService) notify(ctx context.Context, n domain.Notification) {
	if s.notifications == nil {
		return
	}
	if _, err := s.notifications.Notify(ctx, n); err != nil {
		s.logger.Warn("notification failed", zap.String("title", n.Title), zap.Error(err))
	}
}

func (s *GradingService) changed(ctx context.Context, result domain.Result) {
	for _, l := range s.listeners {
		l.ResultChanged(ctx, result)
	}
}
