package app

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quizmaster-service/internal/domain"
)

// TemplateService manages reusable quiz skeletons.
type TemplateService struct {
	templates TemplateRepository
	quizzes   *QuizService
	logger    *zap.Logger
	now       func() time.Time
}

func NewTemplateService(templates TemplateRepository, quizzes *QuizService, logger *zap.Logger) *TemplateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateService{templates: templates, quizzes: quizzes, logger: logger, now: time.Now}
}

// ListTemplates returns all templates, newest first.
func (s *TemplateService) ListTemplates(ctx context.Context, actor domain.User) ([]domain.Template, error) {
	if !actor.CanGrade() {
		return nil, domain.ErrForbidden
	}
	list, err := s.templates.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

// SaveFromQuiz captures a quiz's questions and settings as a template.
func (s *TemplateService) SaveFromQuiz(ctx context.Context, actor domain.User, quizID, name, description, category string) (domain.Template, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, actor, quizID)
	if err != nil {
		return domain.Template{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = quiz.Title
	}
	if description == "" {
		description = quiz.Description
	}
	t := domain.Template{
		ID:                 uuid.NewString(),
		Name:               name,
		Description:        description,
		Category:           category,
		TimeLimit:          quiz.TimeLimit,
		Questions:          cloneQuiz(quiz).Questions,
		RandomizeQuestions: quiz.RandomizeQuestions,
		RandomizeOptions:   quiz.RandomizeOptions,
		AllowRetake:        quiz.AllowRetake,
		CreatedBy:          actor.ID,
		CreatedAt:          s.now(),
	}
	for i := range t.Questions {
		t.Questions[i].SectionID = ""
	}
	if err := s.templates.SaveTemplate(ctx, t); err != nil {
		return domain.Template{}, err
	}
	s.logger.Info("template saved", zap.String("template", t.ID), zap.String("quiz", quizID))
	return t, nil
}

// CloneTemplate copies a template under a new id.
func (s *TemplateService) CloneTemplate(ctx context.Context, actor domain.User, templateID string) (domain.Template, error) {
	if !actor.CanGrade() {
		return domain.Template{}, domain.ErrForbidden
	}
	t, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.Template{}, err
	}
	t.ID = uuid.NewString()
	t.Name += " (Copy)"
	t.CreatedBy = actor.ID
	t.CreatedAt = s.now()
	if err := s.templates.SaveTemplate(ctx, t); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

// UseTemplate creates a draft quiz from a template. Question ids are
// regenerated so the new quiz shares nothing with earlier ones.
func (s *TemplateService) UseTemplate(ctx context.Context, actor domain.User, templateID, title string) (domain.Quiz, error) {
	if !actor.CanGrade() {
		return domain.Quiz{}, domain.ErrForbidden
	}
	t, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.Quiz{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = t.Name + " (Copy)"
	}
	quiz := cloneQuiz(domain.Quiz{Questions: t.Questions})
	for i := range quiz.Questions {
		quiz.Questions[i].ID = ""
	}
	quiz.Title = title
	quiz.Description = t.Description
	quiz.TimeLimit = t.TimeLimit
	quiz.Status = domain.StatusDraft
	quiz.RandomizeQuestions = t.RandomizeQuestions
	quiz.RandomizeOptions = t.RandomizeOptions
	quiz.AllowRetake = t.AllowRetake
	quiz.Sections = nil
	if t.Category != "" {
		quiz.Categories = []string{t.Category}
	}
	return s.quizzes.SaveQuiz(ctx, actor, quiz)
}

// DeleteTemplate removes a template.
func (s *TemplateService) DeleteTemplate(ctx context.Context, actor domain.User, templateID string) error {
	if !actor.CanGrade() {
		return domain.ErrForbidden
	}
	return s.templates.DeleteTemplate(ctx, templateID)
}
