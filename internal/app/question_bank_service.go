package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"quizmaster-service/internal/domain"
)

// BankFilter narrows a question bank search. Empty fields match everything.
type BankFilter struct {
	Query      string
	Topic      string
	Difficulty string
	Type       domain.QuestionType
}

func (f BankFilter) matches(q domain.BankQuestion) bool {
	if f.Topic != "" && q.Topic != f.Topic {
		return false
	}
	if f.Difficulty != "" && q.Difficulty != f.Difficulty {
		return false
	}
	if f.Type != "" && q.Type != f.Type {
		return false
	}
	needle := strings.ToLower(strings.TrimSpace(f.Query))
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(q.Text), needle) || strings.Contains(strings.ToLower(q.Topic), needle) {
		return true
	}
	for _, tag := range q.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// QuestionBankService keeps reusable questions that can be copied into quizzes.
type QuestionBankService struct {
	bank    QuestionBankRepository
	quizzes *QuizService
	logger  *zap.Logger
	now     func() time.Time
}

// BankOption customizes a QuestionBankService.
type BankOption func(*QuestionBankService)

// WithBankClock overrides the clock used for creation timestamps.
func WithBankClock(now func() time.Time) BankOption {
	return func(s *QuestionBankService) { s.now = now }
}

func NewQuestionBankService(bank QuestionBankRepository, quizzes *QuizService, logger *zap.Logger, opts ...BankOption) *QuestionBankService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &QuestionBankService{bank: bank, quizzes: quizzes, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns the bank questions matching f, oldest first.
func (s *QuestionBankService) Search(ctx context.Context, actor domain.User, f BankFilter) ([]domain.BankQuestion, error) {
	if !actor.CanGrade() {
		return nil, domain.ErrForbidden
	}
	all, err := s.bank.ListBankQuestions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.BankQuestion, 0, len(all))
	for _, q := range all {
		if f.matches(q) {
			out = append(out, q)
		}
	}
	return out, nil
}

// Topics lists the distinct topics in the bank, sorted.
func (s *QuestionBankService) Topics(ctx context.Context, actor domain.User) ([]string, error) {
	if !actor.CanGrade() {
		return nil, domain.ErrForbidden
	}
	all, err := s.bank.ListBankQuestions(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	topics := make([]string, 0)
	for _, q := range all {
		if q.Topic != "" && !seen[q.Topic] {
			seen[q.Topic] = true
			topics = append(topics, q.Topic)
		}
	}
	sort.Strings(topics)
	return topics, nil
}

// Get loads one bank question.
func (s *QuestionBankService) Get(ctx context.Context, actor domain.User, questionID string) (domain.BankQuestion, error) {
	if !actor.CanGrade() {
		return domain.BankQuestion{}, domain.ErrForbidden
	}
	return s.bank.GetBankQuestion(ctx, questionID)
}

// Save adds a question to the bank, or replaces it when the id is already
// known. Creation metadata survives an update.
func (s *QuestionBankService) Save(ctx context.Context, actor domain.User, q domain.BankQuestion) (domain.BankQuestion, error) {
	if !actor.CanGrade() {
		return domain.BankQuestion{}, domain.ErrForbidden
	}
	if q.ID != "" {
		existing, err := s.bank.GetBankQuestion(ctx, q.ID)
		if err != nil {
			return domain.BankQuestion{}, err
		}
		q.CreatedBy = existing.CreatedBy
		q.CreatedAt = existing.CreatedAt
	}
	q, err := s.prepare(actor, q)
	if err != nil {
		return domain.BankQuestion{}, err
	}
	if err := s.bank.SaveBankQuestions(ctx, q); err != nil {
		return domain.BankQuestion{}, fmt.Errorf("save bank question: %w", err)
	}
	return q, nil
}

// Delete removes a question from the bank. Quizzes holding a copy keep it.
func (s *QuestionBankService) Delete(ctx context.Context, actor domain.User, questionID string) error {
	if !actor.CanGrade() {
		return domain.ErrForbidden
	}
	return s.bank.DeleteBankQuestion(ctx, questionID)
}

// Import reads a JSON array of questions. Items that fail to decode or
// validate are reported and skipped; the rest are stored together.
func (s *QuestionBankService) Import(ctx context.Context, actor domain.User, r io.Reader) (ImportReport, error) {
	if !actor.CanGrade() {
		return ImportReport{}, domain.ErrForbidden
	}
	var items []json.RawMessage
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return ImportReport{}, fmt.Errorf("%w: expected an array of questions: %v", domain.ErrInvalidQuestion, err)
	}

	var (
		report ImportReport
		errs   error
		keep   []domain.BankQuestion
	)
	for i, raw := range items {
		var q domain.BankQuestion
		err := json.Unmarshal(raw, &q)
		if err == nil {
			q.CreatedBy, q.CreatedAt = "", time.Time{}
			q, err = s.prepare(actor, q)
		}
		if err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("item %d: %w", i+1, err))
			continue
		}
		keep = append(keep, q)
	}
	if err := s.bank.SaveBankQuestions(ctx, keep...); err != nil {
		return ImportReport{}, fmt.Errorf("save bank questions: %w", err)
	}
	report.Created = len(keep)
	for _, err := range multierr.Errors(errs) {
		report.Errors = append(report.Errors, err.Error())
	}
	s.logger.Info("question bank imported", zap.Int("created", report.Created), zap.Int("failed", report.Failed))
	return report, errs
}

// Export returns the listed questions, or the whole bank when ids is empty.
func (s *QuestionBankService) Export(ctx context.Context, actor domain.User, ids []string) ([]domain.BankQuestion, error) {
	if !actor.CanGrade() {
		return nil, domain.ErrForbidden
	}
	all, err := s.bank.ListBankQuestions(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]domain.BankQuestion, 0, len(ids))
	for _, q := range all {
		if want[q.ID] {
			out = append(out, q)
		}
	}
	return out, nil
}

// AddToQuiz appends copies of the bank questions to a quiz and saves it.
// The copies get fresh ids and are spread over the quiz's sections again.
func (s *QuestionBankService) AddToQuiz(ctx context.Context, actor domain.User, quizID string, questionIDs ...string) (domain.Quiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, actor, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	for _, id := range questionIDs {
		bq, err := s.bank.GetBankQuestion(ctx, id)
		if err != nil {
			return domain.Quiz{}, fmt.Errorf("%s: %w", id, err)
		}
		q := cloneQuiz(domain.Quiz{Questions: []domain.Question{bq.Question}}).Questions[0]
		q.ID = ""
		q.SectionID = ""
		quiz.Questions = append(quiz.Questions, q)
	}
	return s.quizzes.SaveQuiz(ctx, actor, quiz)
}

// prepare fills defaults and validates a question headed for the bank.
func (s *QuestionBankService) prepare(actor domain.User, q domain.BankQuestion) (domain.BankQuestion, error) {
	applyQuestionDefaults(&q.Question)
	q.Condition = nil
	q.SectionID = ""
	q.Topic = strings.TrimSpace(q.Topic)
	q.Difficulty = strings.TrimSpace(q.Difficulty)
	tags := make([]string, 0, len(q.Tags))
	for _, t := range q.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	q.Tags = tags
	if err := validateQuestion(q.Question, 0); err != nil {
		return domain.BankQuestion{}, fmt.Errorf("%w: %v", domain.ErrInvalidQuestion, err)
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = s.now()
		q.CreatedBy = actor.ID
	}
	return q, nil
}
