package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quizmaster-service/internal/domain"
)

func TestStorePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.json")

	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("open empty: %v", err)
	}
	if err := s.SaveUser(ctx, domain.User{ID: "u1", Username: "teacher", Role: domain.RoleTeacher}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	if err := s.SaveQuiz(ctx, domain.Quiz{ID: "quiz-1", Title: "Capitals"}); err != nil {
		t.Fatalf("save quiz: %v", err)
	}
	err = s.SaveResult(ctx, domain.Result{
		ID: "r1", QuizID: "quiz-1", StudentID: "u2", Date: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Answers: map[string]domain.Answer{"q1": domain.Choice(2), "q2": domain.Text("Rome")},
	})
	if err != nil {
		t.Fatalf("save result: %v", err)
	}

	reopened, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	u, err := reopened.GetUserByUsername(ctx, "teacher")
	if err != nil || u.ID != "u1" {
		t.Fatalf("user not persisted: %+v %v", u, err)
	}
	r, err := reopened.GetResult(ctx, "r1")
	if err != nil {
		t.Fatalf("result not persisted: %v", err)
	}
	if r.Answers["q1"] != domain.Choice(2) || r.Answers["q2"] != domain.Text("Rome") {
		t.Fatalf("answers lost their kind: %+v", r.Answers)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}

func TestOpenStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenStore(path); err == nil {
		t.Fatalf("expected a decode error")
	}
}

func TestStoreReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.SaveQuiz(ctx, domain.Quiz{ID: "quiz-1", Questions: []domain.Question{{ID: "q1", Text: "original"}}}); err != nil {
		t.Fatalf("save quiz: %v", err)
	}

	q, _ := s.GetQuiz(ctx, "quiz-1")
	q.Questions[0].Text = "mutated"

	again, _ := s.GetQuiz(ctx, "quiz-1")
	if again.Questions[0].Text != "original" {
		t.Fatalf("callers must not share stored slices")
	}
}

func TestStoreWritesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	quiz := domain.Quiz{
		ID:        "quiz-1",
		Questions: []domain.Question{{ID: "q1", Text: "original", Options: []string{"a", "b"}}},
		Sections:  []domain.Section{{ID: "s1", QuestionIndices: []int{0}}},
	}
	if err := s.SaveQuiz(ctx, quiz); err != nil {
		t.Fatalf("save quiz: %v", err)
	}
	result := domain.Result{ID: "r1", QuizID: "quiz-1", Answers: map[string]domain.Answer{"q1": domain.Choice(0)}}
	if err := s.SaveResult(ctx, result); err != nil {
		t.Fatalf("save result: %v", err)
	}

	quiz.Questions[0].Text = "mutated"
	quiz.Questions[0].Options[0] = "z"
	quiz.Sections[0].QuestionIndices[0] = 9
	result.Answers["q1"] = domain.Choice(1)

	stored, _ := s.GetQuiz(ctx, "quiz-1")
	if stored.Questions[0].Text != "original" || stored.Questions[0].Options[0] != "a" || stored.Sections[0].QuestionIndices[0] != 0 {
		t.Fatalf("in-place edits after save leaked into the store: %+v", stored)
	}
	r, _ := s.GetResult(ctx, "r1")
	if r.Answers["q1"] != domain.Choice(0) {
		t.Fatalf("result answers leaked into the store: %+v", r.Answers)
	}
}

func TestStoreUpdateResultOnlyTouchesGrading(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.SaveResult(ctx, domain.Result{ID: "r1", QuizID: "quiz-1", StudentID: "u2", Score: 40, GradingStatus: domain.StatusPending}); err != nil {
		t.Fatalf("save result: %v", err)
	}

	manual := 85
	err := s.UpdateResult(ctx, domain.Result{
		ID: "r1", QuizID: "other", Score: 0,
		GradingStatus: domain.StatusGraded, ManualScore: &manual, GradedBy: "u1",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	r, _ := s.GetResult(ctx, "r1")
	if r.QuizID != "quiz-1" || r.Score != 40 {
		t.Fatalf("submission fields must not change, got %+v", r)
	}
	if r.GradingStatus != domain.StatusGraded || r.ManualScore == nil || *r.ManualScore != 85 || r.GradedBy != "u1" {
		t.Fatalf("grading fields not applied, got %+v", r)
	}
	if err := s.UpdateResult(ctx, domain.Result{ID: "missing"}); !errors.Is(err, domain.ErrResultNotFound) {
		t.Fatalf("expected result not found, got %v", err)
	}
}

func TestStoreNotificationsNewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for _, id := range []string{"n1", "n2", "n3"} {
		if err := s.AddNotification(ctx, domain.Notification{ID: id}, 2); err != nil {
			t.Fatalf("add notification: %v", err)
		}
	}
	list, _ := s.ListNotifications(ctx)
	if len(list) != 2 || list[0].ID != "n3" || list[1].ID != "n2" {
		t.Fatalf("unexpected notifications %+v", list)
	}
	if err := s.MarkRead(ctx, "n1"); !errors.Is(err, domain.ErrNotificationNotFound) {
		t.Fatalf("dropped notifications are gone, got %v", err)
	}
}

func TestStoreRestoreReplacesEverything(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.SaveGroup(ctx, domain.Group{ID: "g1", Name: "Old"}); err != nil {
		t.Fatalf("save group: %v", err)
	}

	err := s.Restore(ctx, domain.Snapshot{
		Users:   []domain.User{{ID: "u0", Role: domain.RoleAdmin}},
		Quizzes: []domain.Quiz{},
		Results: []domain.Result{},
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := s.GetGroup(ctx, "g1"); !errors.Is(err, domain.ErrGroupNotFound) {
		t.Fatalf("groups should be replaced, got %v", err)
	}
	snap, _ := s.Snapshot(ctx)
	if len(snap.Users) != 1 || snap.Users[0].ID != "u0" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
