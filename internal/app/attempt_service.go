package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"quizmaster-service/internal/domain"
)

// AttemptView is everything a client needs to render the attempt after an operation.
type AttemptView struct {
	QuizID       string        `json:"quizId"`
	QuizTitle    string        `json:"quizTitle"`
	State        AttemptState  `json:"state"`
	Instructions string        `json:"instructions,omitempty"`
	Resume       *ResumeOffer  `json:"resume,omitempty"`
	Question     *QuestionView `json:"question,omitempty"`
	Progress     *Progress     `json:"progress,omitempty"`
	Reason       SubmitReason  `json:"reason,omitempty"`
	Result       *ResultView   `json:"result,omitempty"`
}

// ResumeOffer describes the saved progress a student may pick up.
type ResumeOffer struct {
	QuestionIndex int       `json:"questionIndex"`
	TimeLeft      int       `json:"timeLeft"`
	Answered      int       `json:"answered"`
	SavedAt       time.Time `json:"savedAt"`
}

type attemptKey struct {
	userID string
	quizID string
}

type activeAttempt struct {
	mu      sync.Mutex
	user    domain.User
	quiz    domain.Quiz
	attempt *Attempt
	done    bool
	timed   bool
}

// AttemptService runs attempts for connected students. One attempt exists
// per (user, quiz); a reconnecting client picks the live one back up.
type AttemptService struct {
	quizzes     QuizReader
	results     ResultRepository
	groups      GroupRepository
	checkpoints CheckpointStore
	grading     *GradingService
	logger      *zap.Logger
	metrics     Metrics
	now         func() time.Time
	newRand     func() *rand.Rand

	mu     sync.Mutex
	active map[attemptKey]*activeAttempt
}

// AttemptServiceOption customizes an AttemptService.
type AttemptServiceOption func(*AttemptService)

// WithServiceClock overrides the wall clock.
func WithServiceClock(now func() time.Time) AttemptServiceOption {
	return func(s *AttemptService) { s.now = now }
}

// WithRandSource fixes how each attempt's shuffles are seeded.
func WithRandSource(newRand func() *rand.Rand) AttemptServiceOption {
	return func(s *AttemptService) { s.newRand = newRand }
}

// WithAttemptMetrics records attempt counters.
func WithAttemptMetrics(m Metrics) AttemptServiceOption {
	return func(s *AttemptService) {
		if m != nil {
			s.metrics = m
		}
	}
}

func NewAttemptService(
	quizzes QuizReader,
	results ResultRepository,
	groups GroupRepository,
	checkpoints CheckpointStore,
	grading *GradingService,
	logger *zap.Logger,
	opts ...AttemptServiceOption,
) *AttemptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AttemptService{
		quizzes:     quizzes,
		results:     results,
		groups:      groups,
		checkpoints: checkpoints,
		grading:     grading,
		logger:      logger,
		metrics:     nopMetrics{},
		now:         time.Now,
		active:      make(map[attemptKey]*activeAttempt),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens an attempt, or returns the live one if the user reconnects.
// Students must pass the availability check; everyone is subject to the
// retake guard.
func (s *AttemptService) Start(ctx context.Context, user domain.User, quizID string) (AttemptView, error) {
	key := attemptKey{userID: user.ID, quizID: quizID}
	s.mu.Lock()
	if rec, ok := s.active[key]; ok {
		s.mu.Unlock()
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return s.view(rec), nil
	}
	s.mu.Unlock()

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return AttemptView{}, err
	}
	if user.Role == domain.RoleStudent {
		groups, err := s.groups.ListGroups(ctx)
		if err != nil {
			return AttemptView{}, err
		}
		if !Available(quiz, user.ID, groups, s.now()) {
			return AttemptView{}, domain.ErrQuizUnavailable
		}
	}
	if !quiz.AllowRetake {
		taken, err := s.hasResult(ctx, user.ID, quizID)
		if err != nil {
			return AttemptView{}, err
		}
		if taken {
			return AttemptView{}, domain.ErrRetakeNotAllowed
		}
	}

	opts := []AttemptOption{WithAttemptClock(s.now)}
	if s.newRand != nil {
		opts = append(opts, WithRand(s.newRand()))
	}
	cp, found, err := s.checkpoints.LoadCheckpoint(ctx, user.ID, quizID)
	if err != nil {
		s.logger.Warn("load checkpoint", zap.String("user", user.ID), zap.String("quiz", quizID), zap.Error(err))
	} else if found {
		opts = append(opts, WithCheckpoint(cp))
	}

	rec := &activeAttempt{user: user, quiz: quiz, attempt: NewAttempt(quiz, user.ID, opts...)}
	s.mu.Lock()
	if existing, ok := s.active[key]; ok {
		s.mu.Unlock()
		existing.mu.Lock()
		defer existing.mu.Unlock()
		return s.view(existing), nil
	}
	rec.mu.Lock()
	s.active[key] = rec
	s.mu.Unlock()
	defer rec.mu.Unlock()

	if err := rec.attempt.Begin(); err != nil {
		s.remove(key, rec)
		return AttemptView{}, err
	}
	s.metrics.AttemptStarted(quizID)
	s.logger.Info("attempt started",
		zap.String("user", user.ID),
		zap.String("quiz", quizID),
		zap.String("state", string(rec.attempt.State())),
		zap.Bool("checkpoint", found),
	)
	return s.settled(ctx, key, rec)
}

func (s *AttemptService) hasResult(ctx context.Context, userID, quizID string) (bool, error) {
	results, err := s.results.ListResults(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range results {
		if r.QuizID == quizID && r.StudentID == userID {
			return true, nil
		}
	}
	return false, nil
}

// VerifyPassword answers the password gate.
func (s *AttemptService) VerifyPassword(ctx context.Context, userID, quizID, password string) (AttemptView, error) {
	return s.do(ctx, userID, quizID, func(a *Attempt) error { return a.VerifyPassword(password) })
}

// Acknowledge confirms the instructions.
func (s *AttemptService) Acknowledge(ctx context.Context, userID, quizID string) (AttemptView, error) {
	return s.do(ctx, userID, quizID, func(a *Attempt) error { return a.AcknowledgeInstructions() })
}

// Resume accepts or declines the saved checkpoint. Declining discards it.
func (s *AttemptService) Resume(ctx context.Context, userID, quizID string, accept bool) (AttemptView, error) {
	return s.do(ctx, userID, quizID, func(a *Attempt) error {
		if err := a.Resume(accept); err != nil {
			return err
		}
		if !accept {
			if err := s.checkpoints.ClearCheckpoint(ctx, userID, quizID); err != nil {
				s.logger.Warn("discard checkpoint", zap.String("user", userID), zap.String("quiz", quizID), zap.Error(err))
			}
		}
		return nil
	})
}

// Answer records an answer for the current question.
func (s *AttemptService) Answer(ctx context.Context, userID, quizID string, ans domain.Answer) (AttemptView, error) {
	return s.do(ctx, userID, quizID, func(a *Attempt) error { return a.Answer(ans) })
}

// ToggleFlag flags or unflags the current question.
func (s *AttemptService) ToggleFlag(ctx context.Context, userID, quizID string) (AttemptView, error) {
	return s.do(ctx, userID, quizID, func(a *Attempt) error {
		_, err := a.ToggleFlag()
		return err
	})
}

// Next moves forward; running past the last displayable question submits.
func (s *AttemptService) Next(ctx context.Context, userID, quizID string) (AttemptView, error) {
	return s.do(ctx, userID, quizID, func(a *Attempt) error { return a.Next() })
}

// Prev moves back.
func (s *AttemptService) Prev(ctx context.Context, userID, quizID string) (AttemptView, error) {
	return s.do(ctx, userID, quizID, func(a *Attempt) error { return a.Prev() })
}

// NextSection enters the next section.
func (s *AttemptService) NextSection(ctx context.Context, userID, quizID string) (AttemptView, error) {
	return s.do(ctx, userID, quizID, func(a *Attempt) error { return a.NextSection() })
}

// TabSwitch counts a tab switch and returns the running total.
func (s *AttemptService) TabSwitch(ctx context.Context, userID, quizID string) (int, error) {
	var count int
	_, err := s.do(ctx, userID, quizID, func(a *Attempt) error {
		var err error
		count, err = a.RecordTabSwitch()
		return err
	})
	if err == nil {
		s.logger.Info("tab switch", zap.String("user", userID), zap.String("quiz", quizID), zap.Int("count", count))
	}
	return count, err
}

// Tick advances the timer one second and saves a checkpoint. A failed save
// is logged; the attempt carries on.
func (s *AttemptService) Tick(ctx context.Context, userID, quizID string) (TickStatus, error) {
	key := attemptKey{userID: userID, quizID: quizID}
	rec, err := s.lookup(key)
	if err != nil {
		return TickStatus{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.done {
		return TickStatus{}, domain.ErrAttemptNotFound
	}
	status, err := rec.attempt.Tick()
	if err != nil {
		return TickStatus{}, err
	}
	if err := s.checkpoints.SaveCheckpoint(ctx, userID, quizID, rec.attempt.Checkpoint()); err != nil {
		s.logger.Warn("save checkpoint", zap.String("user", userID), zap.String("quiz", quizID), zap.Error(err))
	}
	if status.Warning {
		s.logger.Info("attempt time warning", zap.String("user", userID), zap.String("quiz", quizID))
	}
	return status, nil
}

// Submit ends the attempt and hands it to grading.
func (s *AttemptService) Submit(ctx context.Context, userID, quizID string, reason SubmitReason) (AttemptView, error) {
	return s.do(ctx, userID, quizID, func(a *Attempt) error {
		_, err := a.Submit(reason)
		return err
	})
}

// View returns the current view without changing anything.
func (s *AttemptService) View(ctx context.Context, userID, quizID string) (AttemptView, error) {
	return s.do(ctx, userID, quizID, func(*Attempt) error { return nil })
}

// ClaimTimer reserves the countdown of a live attempt for one driver, so a
// second connection for the same attempt does not tick it as well. Another
// driver holding it gives ErrTimerClaimed. release hands the timer back.
func (s *AttemptService) ClaimTimer(userID, quizID string) (release func(), err error) {
	rec, err := s.lookup(attemptKey{userID: userID, quizID: quizID})
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.done {
		return nil, domain.ErrAttemptNotFound
	}
	if rec.timed {
		return nil, domain.ErrTimerClaimed
	}
	rec.timed = true
	var once sync.Once
	return func() {
		once.Do(func() {
			rec.mu.Lock()
			rec.timed = false
			rec.mu.Unlock()
		})
	}, nil
}

// Abandon drops the live attempt, for example when the socket closes. The
// last checkpoint stays so the student can resume later.
func (s *AttemptService) Abandon(ctx context.Context, userID, quizID string) {
	key := attemptKey{userID: userID, quizID: quizID}
	rec, err := s.lookup(key)
	if err != nil {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.done {
		return
	}
	if rec.attempt.State() == StateInProgress {
		if err := s.checkpoints.SaveCheckpoint(ctx, userID, quizID, rec.attempt.Checkpoint()); err != nil {
			s.logger.Warn("save checkpoint", zap.String("user", userID), zap.String("quiz", quizID), zap.Error(err))
		}
	}
	rec.done = true
	s.remove(key, rec)
	s.logger.Info("attempt abandoned", zap.String("user", userID), zap.String("quiz", quizID))
}

// Active reports how many attempts are live.
func (s *AttemptService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *AttemptService) do(ctx context.Context, userID, quizID string, op func(*Attempt) error) (AttemptView, error) {
	key := attemptKey{userID: userID, quizID: quizID}
	rec, err := s.lookup(key)
	if err != nil {
		return AttemptView{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.done {
		return AttemptView{}, domain.ErrAttemptNotFound
	}
	if err := op(rec.attempt); err != nil {
		return AttemptView{}, err
	}
	return s.settled(ctx, key, rec)
}

// settled finalizes the attempt if the last operation submitted it. Callers hold rec.mu.
func (s *AttemptService) settled(ctx context.Context, key attemptKey, rec *activeAttempt) (AttemptView, error) {
	if rec.attempt.State() != StateSubmitted {
		return s.view(rec), nil
	}
	return s.finalize(ctx, key, rec)
}

func (s *AttemptService) finalize(ctx context.Context, key attemptKey, rec *activeAttempt) (AttemptView, error) {
	rec.done = true
	s.remove(key, rec)

	sub := rec.attempt.Submission()
	result, err := s.grading.Record(ctx, key.userID, rec.quiz, sub)
	if err != nil {
		// The checkpoint is left alone so the answers can still be resumed.
		return AttemptView{}, err
	}
	if err := s.checkpoints.ClearCheckpoint(ctx, key.userID, key.quizID); err != nil {
		s.logger.Warn("clear checkpoint", zap.String("user", key.userID), zap.String("quiz", key.quizID), zap.Error(err))
	}
	s.metrics.AttemptSubmitted(key.quizID, string(sub.Reason))
	s.logger.Info("attempt submitted",
		zap.String("user", key.userID),
		zap.String("quiz", key.quizID),
		zap.String("reason", string(sub.Reason)),
		zap.String("result", result.ID),
	)

	view := s.view(rec)
	rv := BuildResultView(&rec.quiz, result, rec.user.CanGrade(), s.now())
	view.Result = &rv
	return view, nil
}

func (s *AttemptService) view(rec *activeAttempt) AttemptView {
	a := rec.attempt
	view := AttemptView{
		QuizID:    rec.quiz.ID,
		QuizTitle: rec.quiz.Title,
		State:     a.State(),
	}
	switch a.State() {
	case StateInstructions:
		view.Instructions = rec.quiz.Instructions
	case StateResumeOffer:
		if cp, ok := a.PendingCheckpoint(); ok {
			view.Resume = &ResumeOffer{
				QuestionIndex: cp.QuestionIndex,
				TimeLeft:      cp.TimeLeft,
				Answered:      len(cp.Attempt.Answers),
				SavedAt:       time.UnixMilli(cp.Timestamp),
			}
		}
	case StateInProgress:
		if q, err := a.Current(); err == nil {
			view.Question = &q
		}
		p := a.Progress()
		view.Progress = &p
	case StateSubmitted:
		view.Reason = a.Reason()
	}
	return view
}

func (s *AttemptService) lookup(key attemptKey) (*activeAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.active[key]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	return rec, nil
}

func (s *AttemptService) remove(key attemptKey, rec *activeAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[key] == rec {
		delete(s.active, key)
	}
}
