package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"quizmaster-service/internal/domain"
)

const defaultDifficulty = "medium"

// QuizService covers quiz authoring and the student's catalogue.
type QuizService struct {
	quizzes QuizRepository
	results ResultRepository
	groups  GroupRepository
	caches  []QuizCache
	logger  *zap.Logger
	now     func() time.Time
}

// QuizOption customizes a QuizService.
type QuizOption func(*QuizService)

// WithQuizClock overrides the clock used for timestamps and availability windows.
func WithQuizClock(now func() time.Time) QuizOption {
	return func(s *QuizService) { s.now = now }
}

// WithQuizCaches registers caches to invalidate whenever a quiz changes.
func WithQuizCaches(caches ...QuizCache) QuizOption {
	return func(s *QuizService) { s.caches = append(s.caches, caches...) }
}

func NewQuizService(quizzes QuizRepository, results ResultRepository, groups GroupRepository, logger *zap.Logger, opts ...QuizOption) *QuizService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &QuizService{quizzes: quizzes, results: results, groups: groups, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveQuiz creates or replaces a quiz definition after validating it and
// filling in defaults. Questions are spread evenly over the sections.
func (s *QuizService) SaveQuiz(ctx context.Context, actor domain.User, quiz domain.Quiz) (domain.Quiz, error) {
	if !actor.CanGrade() {
		return domain.Quiz{}, domain.ErrForbidden
	}

	var existing *domain.Quiz
	if quiz.ID != "" {
		prev, err := s.quizzes.GetQuiz(ctx, quiz.ID)
		switch {
		case err == nil:
			existing = &prev
		case !errors.Is(err, domain.ErrQuizNotFound):
			return domain.Quiz{}, err
		}
	}

	applyQuizDefaults(&quiz, existing)
	if err := ValidateQuiz(quiz); err != nil {
		return domain.Quiz{}, err
	}
	assignQuestionIDs(&quiz)
	distributeSections(&quiz)

	now := s.now()
	quiz.UpdatedAt = now
	if existing != nil {
		quiz.CreatedAt = existing.CreatedAt
		if quiz.CreatedBy == "" {
			quiz.CreatedBy = existing.CreatedBy
		}
	} else {
		if quiz.ID == "" {
			quiz.ID = uuid.NewString()
		}
		quiz.CreatedAt = now
		quiz.CreatedBy = actor.ID
	}

	if err := s.quizzes.SaveQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("save quiz: %w", err)
	}
	s.invalidate(ctx, quiz.ID)
	s.logger.Info("quiz saved",
		zap.String("quiz", quiz.ID),
		zap.String("actor", actor.ID),
		zap.Int("questions", len(quiz.Questions)),
		zap.Bool("update", existing != nil),
	)
	return quiz, nil
}

// DuplicateQuiz copies a quiz under a new id as a draft.
func (s *QuizService) DuplicateQuiz(ctx context.Context, actor domain.User, quizID, title string) (domain.Quiz, error) {
	if !actor.CanGrade() {
		return domain.Quiz{}, domain.ErrForbidden
	}
	src, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	dup := cloneQuiz(src)
	dup.ID = ""
	dup.Title = strings.TrimSpace(title)
	if dup.Title == "" {
		dup.Title = src.Title + " (Copy)"
	}
	dup.Status = domain.StatusDraft
	dup.CreatedBy = ""
	return s.SaveQuiz(ctx, actor, dup)
}

// DeleteQuiz removes a quiz. Results that reference it are kept.
func (s *QuizService) DeleteQuiz(ctx context.Context, actor domain.User, quizID string) error {
	if !actor.CanGrade() {
		return domain.ErrForbidden
	}
	if err := s.quizzes.DeleteQuiz(ctx, quizID); err != nil {
		return err
	}
	s.invalidate(ctx, quizID)
	s.logger.Info("quiz deleted", zap.String("quiz", quizID), zap.String("actor", actor.ID))
	return nil
}

// GetQuiz returns the full definition, answer keys included. Graders only.
func (s *QuizService) GetQuiz(ctx context.Context, actor domain.User, quizID string) (domain.Quiz, error) {
	if !actor.CanGrade() {
		return domain.Quiz{}, domain.ErrForbidden
	}
	return s.quizzes.GetQuiz(ctx, quizID)
}

// ListQuizzes returns every quiz, newest first. Graders only.
func (s *QuizService) ListQuizzes(ctx context.Context, actor domain.User) ([]domain.Quiz, error) {
	if !actor.CanGrade() {
		return nil, domain.ErrForbidden
	}
	quizzes, err := s.quizzes.ListQuizzes(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(quizzes, func(i, j int) bool { return quizzes[i].CreatedAt.After(quizzes[j].CreatedAt) })
	return quizzes, nil
}

// QuizSummary is what a student sees in the catalogue.
type QuizSummary struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	TimeLimit     int        `json:"timeLimit"`
	QuestionCount int        `json:"questionCount"`
	SectionCount  int        `json:"sectionCount,omitempty"`
	Difficulty    string     `json:"difficulty,omitempty"`
	Categories    []string   `json:"categories,omitempty"`
	HasPassword   bool       `json:"hasPassword"`
	EndDate       *time.Time `json:"endDate,omitempty"`
	Attempted     bool       `json:"attempted"`
	CanTake       bool       `json:"canTake"`
}

// AvailableQuizzes lists the quizzes the user may currently see.
func (s *QuizService) AvailableQuizzes(ctx context.Context, user domain.User) ([]QuizSummary, error) {
	quizzes, err := s.quizzes.ListQuizzes(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.groups.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	results, err := s.results.ListResults(ctx)
	if err != nil {
		return nil, err
	}
	attempted := make(map[string]bool)
	for _, r := range results {
		if r.StudentID == user.ID {
			attempted[r.QuizID] = true
		}
	}

	now := s.now()
	out := make([]QuizSummary, 0, len(quizzes))
	for _, q := range quizzes {
		if !Available(q, user.ID, groups, now) {
			continue
		}
		out = append(out, QuizSummary{
			ID:            q.ID,
			Title:         q.Title,
			Description:   q.Description,
			TimeLimit:     q.TimeLimit,
			QuestionCount: len(q.Questions),
			SectionCount:  len(q.Sections),
			Difficulty:    q.Difficulty,
			Categories:    q.Categories,
			HasPassword:   q.Password != "",
			EndDate:       q.EndDate,
			Attempted:     attempted[q.ID],
			CanTake:       !attempted[q.ID] || q.AllowRetake,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// Available reports whether a quiz is open to the user: published, inside its
// date window, and either unassigned or assigned to the user directly or
// through a group.
func Available(quiz domain.Quiz, userID string, groups []domain.Group, now time.Time) bool {
	if quiz.Status != domain.StatusPublished {
		return false
	}
	if quiz.StartDate != nil && now.Before(*quiz.StartDate) {
		return false
	}
	if quiz.EndDate != nil && now.After(*quiz.EndDate) {
		return false
	}
	if len(quiz.AssignedStudents) == 0 && len(quiz.AssignedGroups) == 0 {
		return true
	}
	for _, id := range quiz.AssignedStudents {
		if id == userID {
			return true
		}
	}
	for _, g := range groups {
		if !g.HasMember(userID) {
			continue
		}
		for _, id := range quiz.AssignedGroups {
			if id == g.ID {
				return true
			}
		}
	}
	return false
}

func (s *QuizService) invalidate(ctx context.Context, quizID string) {
	for _, c := range s.caches {
		c.Invalidate(ctx, quizID)
	}
}

func applyQuizDefaults(q *domain.Quiz, existing *domain.Quiz) {
	q.Title = strings.TrimSpace(q.Title)
	if q.Status == "" {
		q.Status = domain.StatusDraft
	}
	if q.GradingMode == "" {
		q.GradingMode = domain.GradingAuto
	}
	if q.ShowAnswers == "" {
		q.ShowAnswers = domain.VisibleImmediately
	}
	if q.ShowGrades == "" {
		q.ShowGrades = domain.VisibleImmediately
	}
	if q.Difficulty == "" {
		q.Difficulty = defaultDifficulty
	}

	mark := domain.DefaultPassMark
	switch {
	case q.PassMark != nil:
		mark = *q.PassMark
	case existing != nil && existing.PassMark != nil:
		mark = *existing.PassMark
	}
	mark = clamp(mark, 0, 100)
	q.PassMark = &mark

	cats := q.Categories[:0]
	for _, c := range q.Categories {
		if c = strings.TrimSpace(c); c != "" {
			cats = append(cats, c)
		}
	}
	q.Categories = cats

	for i := range q.Questions {
		applyQuestionDefaults(&q.Questions[i])
	}
}

func applyQuestionDefaults(question *domain.Question) {
	question.Text = strings.TrimSpace(question.Text)
	if question.Points <= 0 {
		question.Points = 1
	}
	if question.Type.IsText() {
		question.Options = nil
		question.CorrectIndex = -1
	}
	if question.Type == domain.TrueFalse && len(question.Options) == 0 {
		question.Options = []string{"True", "False"}
	}
	switch question.Type {
	case domain.ImageQuestion:
		question.MediaType = "image"
	case domain.VideoQuestion:
		question.MediaType = "video"
	}
}

func assignQuestionIDs(q *domain.Quiz) {
	seen := make(map[string]bool, len(q.Questions))
	for i := range q.Questions {
		id := q.Questions[i].ID
		if id == "" || seen[id] {
			id = uuid.NewString()
			q.Questions[i].ID = id
		}
		seen[id] = true
	}
	for i := range q.Sections {
		if q.Sections[i].ID == "" {
			q.Sections[i].ID = uuid.NewString()
		}
	}
}

// distributeSections assigns ceil(n/k) consecutive questions to each section;
// the last section absorbs any remainder.
func distributeSections(q *domain.Quiz) {
	for i := range q.Questions {
		q.Questions[i].SectionID = ""
	}
	k := len(q.Sections)
	if k == 0 {
		return
	}
	n := len(q.Questions)
	per := (n + k - 1) / k
	for i := range q.Sections {
		q.Sections[i].QuestionIndices = []int{}
	}
	for idx := range q.Questions {
		s := k - 1
		if per > 0 && idx/per < k {
			s = idx / per
		}
		q.Sections[s].QuestionIndices = append(q.Sections[s].QuestionIndices, idx)
		q.Questions[idx].SectionID = q.Sections[s].ID
	}
}

// ValidateQuiz checks a quiz definition after defaults have been applied.
func ValidateQuiz(q domain.Quiz) error {
	err := validation.ValidateStruct(&q,
		validation.Field(&q.Title, validation.Required, validation.RuneLength(1, 200)),
		validation.Field(&q.TimeLimit, validation.Required, validation.Min(1)),
		validation.Field(&q.Questions, validation.Required, validation.By(questionsRule)),
		validation.Field(&q.Status, validation.In(domain.StatusDraft, domain.StatusPublished)),
		validation.Field(&q.GradingMode, validation.In(domain.GradingAuto, domain.GradingAutoDelayed, domain.GradingManual)),
		validation.Field(&q.ShowAnswers, validation.In(visibilities...)),
		validation.Field(&q.ShowGrades, validation.In(visibilities...)),
		validation.Field(&q.AnswersTime, validation.When(q.ShowAnswers == domain.VisibleScheduled, validation.Required)),
		validation.Field(&q.GradesTime, validation.When(q.ShowGrades == domain.VisibleScheduled, validation.Required)),
		validation.Field(&q.EndDate, validation.By(func(interface{}) error {
			if q.StartDate != nil && q.EndDate != nil && q.EndDate.Before(*q.StartDate) {
				return errors.New("must not be before the start date")
			}
			return nil
		})),
		validation.Field(&q.Sections, validation.Each(validation.By(sectionRule))),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidQuiz, err)
	}
	return nil
}

var visibilities = []interface{}{
	domain.VisibleNever, domain.VisibleImmediately, domain.VisibleAfterGrading, domain.VisibleScheduled,
}

func sectionRule(value interface{}) error {
	sec, _ := value.(domain.Section)
	return validation.Validate(sec.Title, validation.Required)
}

func questionsRule(value interface{}) error {
	questions, _ := value.([]domain.Question)
	errs := validation.Errors{}
	for i, q := range questions {
		if err := validateQuestion(q, i); err != nil {
			errs[fmt.Sprint(i)] = err
		}
	}
	return errs.Filter()
}

func validateQuestion(q domain.Question, index int) error {
	optionCount := len(q.Options)
	return validation.ValidateStruct(&q,
		validation.Field(&q.Text, validation.Required),
		validation.Field(&q.Type, validation.Required, validation.In(
			domain.MultipleChoice, domain.TrueFalse, domain.ShortAnswer,
			domain.FillInBlank, domain.ImageQuestion, domain.VideoQuestion,
		)),
		validation.Field(&q.Options, validation.When(q.Type.ShufflesOptions(), validation.Required, validation.Length(2, 0))),
		validation.Field(&q.CorrectIndex, validation.When(!q.Type.IsText(),
			validation.Min(0), validation.Max(optionCount-1).Error("must reference an existing option"))),
		validation.Field(&q.CorrectAnswerText, validation.When(q.Type.IsText(), validation.Required)),
		validation.Field(&q.MediaURL, validation.When(q.Type == domain.ImageQuestion || q.Type == domain.VideoQuestion, validation.Required)),
		validation.Field(&q.Condition, validation.By(func(interface{}) error {
			if q.Condition == nil {
				return nil
			}
			c := q.Condition
			if c.DependsOn < 0 || c.DependsOn >= index {
				return errors.New("must depend on an earlier question")
			}
			return validation.Validate(c.Operator, validation.Required, validation.In(domain.OpEquals, domain.OpNotEquals, domain.OpContains))
		})),
	)
}
