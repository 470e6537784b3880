package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/domain"
	"quizmaster-service/internal/infra/memory"
)

func newBank(store *memory.Store) *app.QuestionBankService {
	return app.NewQuestionBankService(store, newQuizService(store), nil, app.WithBankClock(fixedClock))
}

func TestQuestionBankSaveAndSearch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	bank := newBank(store)

	cell, err := bank.Save(ctx, teacher, domain.BankQuestion{
		Question: domain.Question{
			Text: " Powerhouse of the cell? ", Type: domain.ShortAnswer, CorrectAnswerText: "mitochondria",
			Condition: &domain.Condition{DependsOn: 0, Operator: domain.OpEquals}, SectionID: "s1",
		},
		Topic: " Biology ", Tags: []string{"cells", " "}, Difficulty: "easy",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if cell.ID == "" || cell.Text != "Powerhouse of the cell?" || cell.Topic != "Biology" || cell.Points != 1 {
		t.Fatalf("unexpected defaults %+v", cell)
	}
	if cell.Condition != nil || cell.SectionID != "" || len(cell.Tags) != 1 {
		t.Fatalf("bank questions drop quiz-only fields, got %+v", cell)
	}
	if cell.CreatedBy != teacher.ID || !cell.CreatedAt.Equal(fixedClock()) {
		t.Fatalf("unexpected authorship %+v", cell)
	}

	_, err = bank.Save(ctx, teacher, domain.BankQuestion{
		Question: domain.Question{Text: "2 + 2?", Type: domain.MultipleChoice, Options: []string{"3", "4"}, CorrectIndex: 1},
		Topic:    "Math", Difficulty: "easy",
	})
	if err != nil {
		t.Fatalf("save math: %v", err)
	}

	hits, _ := bank.Search(ctx, teacher, app.BankFilter{Query: "CELL"})
	if len(hits) != 1 || hits[0].ID != cell.ID {
		t.Fatalf("expected a text match, got %+v", hits)
	}
	hits, _ = bank.Search(ctx, teacher, app.BankFilter{Query: "cells", Topic: "Biology"})
	if len(hits) != 1 {
		t.Fatalf("expected a tag match within the topic, got %d", len(hits))
	}
	hits, _ = bank.Search(ctx, teacher, app.BankFilter{Difficulty: "easy", Type: domain.MultipleChoice})
	if len(hits) != 1 || hits[0].Topic != "Math" {
		t.Fatalf("expected the math question, got %+v", hits)
	}
	if topics, _ := bank.Topics(ctx, teacher); len(topics) != 2 || topics[0] != "Biology" || topics[1] != "Math" {
		t.Fatalf("unexpected topics %v", topics)
	}

	cell.Text = "What is the powerhouse of the cell?"
	cell.CreatedBy = "someone-else"
	later := app.NewQuestionBankService(store, newQuizService(store), nil,
		app.WithBankClock(func() time.Time { return fixedClock().Add(time.Hour) }))
	updated, err := later.Save(ctx, teacher, cell)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CreatedBy != teacher.ID || !updated.CreatedAt.Equal(fixedClock()) {
		t.Fatalf("updates keep creation data, got %+v", updated)
	}
	if all, _ := bank.Search(ctx, teacher, app.BankFilter{}); len(all) != 2 {
		t.Fatalf("update should replace in place, got %d questions", len(all))
	}

	if _, err := bank.Save(ctx, teacher, domain.BankQuestion{Question: domain.Question{ID: "missing", Text: "x", Type: domain.TrueFalse}}); !errors.Is(err, domain.ErrBankQuestionNotFound) {
		t.Fatalf("expected not found for an unknown id, got %v", err)
	}
	if _, err := bank.Save(ctx, teacher, domain.BankQuestion{Question: domain.Question{Text: "Pick one", Type: domain.MultipleChoice}}); !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("expected invalid question, got %v", err)
	}

	if err := bank.Delete(ctx, teacher, cell.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := bank.Get(ctx, teacher, cell.ID); !errors.Is(err, domain.ErrBankQuestionNotFound) {
		t.Fatalf("expected the question to be gone, got %v", err)
	}
}

func TestQuestionBankImportExport(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	bank := newBank(store)

	body := `[
		{"text": "Water boils at 100C.", "type": "true_false", "correctIndex": 0, "topic": "Physics"},
		{"text": "", "type": "short_answer"},
		{"text": "Speed of light unit?", "type": "short_answer", "correctAnswerText": "m/s", "tags": ["units"]},
		"not a question"
	]`
	report, err := bank.Import(ctx, teacher, strings.NewReader(body))
	if err == nil {
		t.Fatalf("expected the bad items to be reported")
	}
	if report.Created != 2 || report.Failed != 2 || len(report.Errors) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !strings.HasPrefix(report.Errors[0], "item 2:") || !strings.HasPrefix(report.Errors[1], "item 4:") {
		t.Fatalf("errors should name the failing items, got %v", report.Errors)
	}

	if _, err := bank.Import(ctx, teacher, strings.NewReader(`{"text": "single"}`)); !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("expected a non-array body to be rejected, got %v", err)
	}

	all, err := bank.Export(ctx, teacher, nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected the whole bank, got %d (%v)", len(all), err)
	}
	some, _ := bank.Export(ctx, teacher, []string{all[1].ID, "missing"})
	if len(some) != 1 || some[0].Text != "Speed of light unit?" {
		t.Fatalf("expected only the listed question, got %+v", some)
	}
}

func TestQuestionBankAddToQuiz(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	quizzes := newQuizService(store)
	bank := newBank(store)

	quiz, err := quizzes.SaveQuiz(ctx, teacher, draftQuiz())
	if err != nil {
		t.Fatalf("save quiz: %v", err)
	}
	bq, err := bank.Save(ctx, teacher, domain.BankQuestion{
		Question: domain.Question{Text: "Sky color?", Type: domain.MultipleChoice, Options: []string{"blue", "green"}, Points: 3},
	})
	if err != nil {
		t.Fatalf("save bank question: %v", err)
	}

	updated, err := bank.AddToQuiz(ctx, teacher, quiz.ID, bq.ID)
	if err != nil {
		t.Fatalf("add to quiz: %v", err)
	}
	if len(updated.Questions) != len(quiz.Questions)+1 {
		t.Fatalf("expected one more question, got %d", len(updated.Questions))
	}
	added := updated.Questions[len(updated.Questions)-1]
	if added.ID == "" || added.ID == bq.ID || added.Text != "Sky color?" || added.Points != 3 {
		t.Fatalf("expected a fresh copy of the bank question, got %+v", added)
	}
	stored, _ := store.GetQuiz(ctx, quiz.ID)
	if len(stored.Questions) != len(updated.Questions) {
		t.Fatalf("the quiz should be saved with the new question")
	}

	if _, err := bank.AddToQuiz(ctx, teacher, quiz.ID, "missing"); !errors.Is(err, domain.ErrBankQuestionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQuestionBankIsForGraders(t *testing.T) {
	ctx := context.Background()
	bank := newBank(memory.NewStore())

	if _, err := bank.Search(ctx, student, app.BankFilter{}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden search, got %v", err)
	}
	if _, err := bank.Save(ctx, student, domain.BankQuestion{}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden save, got %v", err)
	}
	if _, err := bank.Import(ctx, student, strings.NewReader("[]")); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden import, got %v", err)
	}
	if _, err := bank.AddToQuiz(ctx, student, "q1", "b1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden add, got %v", err)
	}
}
