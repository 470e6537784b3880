package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizmaster-service/internal/domain"
)

// NewSeedCmd loads the default accounts and a sample quiz.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed default users and a sample quiz",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			b, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()
			return seed(cmd.Context(), b, logger)
		},
	}
}

func seed(ctx context.Context, b *backend, logger *zap.Logger) error {
	services := buildServices(b, logger, nil)
	if err := services.Identity.EnsureDefaults(ctx); err != nil {
		return err
	}
	existing, err := b.store.ListQuizzes(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Info("quizzes present, sample quiz skipped", zap.Int("quizzes", len(existing)))
		return nil
	}
	teacher, err := b.store.GetUserByUsername(ctx, "teacher")
	if err != nil {
		// Only the admin is seeded into a store that already had users.
		teacher, err = b.store.GetUserByUsername(ctx, "admin")
		if err != nil {
			return err
		}
	}
	quiz, err := services.Quizzes.SaveQuiz(ctx, teacher, sampleQuiz())
	if err != nil {
		return err
	}
	logger.Info("sample quiz seeded", zap.String("quiz", quiz.ID))
	return nil
}

func sampleQuiz() domain.Quiz {
	passMark := 60
	return domain.Quiz{
		Title:        "Getting Started",
		Description:  "A short warm-up covering every question type.",
		TimeLimit:    10,
		Status:       domain.StatusPublished,
		Instructions: "Answer each question, then submit. You can flag questions to revisit them.",
		PassMark:     &passMark,
		AllowRetake:  true,
		Categories:   []string{"General"},
		Sections: []domain.Section{
			{Title: "Basics"},
			{Title: "Follow-up"},
		},
		Questions: []domain.Question{
			{Text: "What is 2 + 2?", Type: domain.MultipleChoice, Options: []string{"3", "4", "5"}, CorrectIndex: 1},
			{Text: "The sun rises in the east.", Type: domain.TrueFalse, CorrectIndex: 0},
			{Text: "Which word names the + operator?", Type: domain.ShortAnswer, CorrectAnswerText: "plus"},
			{
				Text: "Why did you pick 3 in the first question?", Type: domain.ShortAnswer, CorrectAnswerText: "typo",
				Condition: &domain.Condition{DependsOn: 0, Operator: domain.OpEquals, Value: "0"},
			},
		},
	}
}
