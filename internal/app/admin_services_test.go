package app_test

import (
	"context"
	"errors"
	"testing"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/domain"
	"quizmaster-service/internal/infra/memory"
)

func TestGroupMembership(t *testing.T) {
	ctx := context.Background()
	svc := app.NewGroupService(memory.NewStore(), nil)

	g, err := svc.SaveGroup(ctx, teacher, domain.Group{Name: " Period 1 ", Members: []string{"u2", "u2", "", "u3"}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if g.ID == "" || g.Name != "Period 1" || len(g.Members) != 2 {
		t.Fatalf("unexpected group %+v", g)
	}
	g, _ = svc.AddMembers(ctx, teacher, g.ID, "u3", "u4")
	if len(g.Members) != 3 {
		t.Fatalf("existing members are skipped, got %v", g.Members)
	}
	g, _ = svc.RemoveMember(ctx, teacher, g.ID, "u2")
	if g.HasMember("u2") || len(g.Members) != 2 {
		t.Fatalf("expected u2 removed, got %v", g.Members)
	}
	if _, err := svc.SaveGroup(ctx, teacher, domain.Group{Name: " "}); !errors.Is(err, domain.ErrInvalidGroup) {
		t.Fatalf("expected invalid group, got %v", err)
	}
	if _, err := svc.AddMembers(ctx, student, g.ID, "u9"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("students cannot manage groups, got %v", err)
	}
	if _, err := svc.AddMembers(ctx, teacher, "missing", "u9"); !errors.Is(err, domain.ErrGroupNotFound) {
		t.Fatalf("expected group not found, got %v", err)
	}
	if err := svc.DeleteGroup(ctx, teacher, g.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if list, _ := svc.ListGroups(ctx); len(list) != 0 {
		t.Fatalf("expected no groups, got %+v", list)
	}
}

func TestNotificationCenter(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.SaveUser(ctx, student); err != nil {
		t.Fatalf("save user: %v", err)
	}
	if err := store.SaveUser(ctx, teacher); err != nil {
		t.Fatalf("save user: %v", err)
	}
	svc := app.NewNotificationService(store, store, nil)

	if _, err := svc.Broadcast(ctx, student, "Hi", "All", "info"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("students cannot broadcast, got %v", err)
	}
	if _, err := svc.Broadcast(ctx, teacher, "", "All", "info"); !errors.Is(err, domain.ErrInvalidNotification) {
		t.Fatalf("expected a title to be required, got %v", err)
	}
	broadcast, err := svc.Broadcast(ctx, teacher, "Exam week", "Good luck", "")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	private, _ := svc.Notify(ctx, domain.Notification{Title: "Graded", Message: "85%", UserID: teacher.ID})

	list, _ := svc.ListFor(ctx, student)
	if len(list) != 1 || list[0].ID != broadcast.ID || list[0].Type != "info" || list[0].SentBy != teacher.ID {
		t.Fatalf("students see broadcasts only, got %+v", list)
	}
	if err := svc.MarkRead(ctx, student, private.ID); !errors.Is(err, domain.ErrNotificationNotFound) {
		t.Fatalf("others' notifications are invisible, got %v", err)
	}
	if err := svc.MarkRead(ctx, student, broadcast.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n, _ := svc.UnreadCount(ctx, teacher); n != 1 {
		t.Fatalf("a read broadcast is read for everyone, teacher has %d unread", n)
	}

	for i := 0; i < app.NotificationLimit+5; i++ {
		if _, err := svc.Notify(ctx, domain.Notification{Title: "n", Message: "m"}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	all, _ := store.ListNotifications(ctx)
	if len(all) != app.NotificationLimit {
		t.Fatalf("expected the center capped at %d, got %d", app.NotificationLimit, len(all))
	}
}

func TestTemplates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	quizzes := newQuizService(store)
	svc := app.NewTemplateService(store, quizzes, nil)

	src := draftQuiz()
	src.Sections = []domain.Section{{Title: "Only"}}
	src.AllowRetake = true
	quiz, err := quizzes.SaveQuiz(ctx, teacher, src)
	if err != nil {
		t.Fatalf("save quiz: %v", err)
	}

	tpl, err := svc.SaveFromQuiz(ctx, teacher, quiz.ID, "", "", "Science")
	if err != nil {
		t.Fatalf("save template: %v", err)
	}
	if tpl.Name != "Biology" || len(tpl.Questions) != 5 || tpl.Questions[0].SectionID != "" || !tpl.AllowRetake {
		t.Fatalf("unexpected template %+v", tpl)
	}
	clone, err := svc.CloneTemplate(ctx, teacher, tpl.ID)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if clone.ID == tpl.ID || clone.Name != "Biology (Copy)" {
		t.Fatalf("unexpected clone %+v", clone)
	}

	made, err := svc.UseTemplate(ctx, teacher, tpl.ID, "Biology Retake")
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if made.Title != "Biology Retake" || made.Status != domain.StatusDraft || len(made.Sections) != 0 {
		t.Fatalf("unexpected quiz from template %+v", made)
	}
	if made.Questions[0].ID == quiz.Questions[0].ID {
		t.Fatalf("question ids must be fresh")
	}
	if len(made.Categories) != 1 || made.Categories[0] != "Science" {
		t.Fatalf("template category should carry over, got %v", made.Categories)
	}

	if _, err := svc.ListTemplates(ctx, student); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("students cannot see templates, got %v", err)
	}
	if err := svc.DeleteTemplate(ctx, teacher, clone.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if list, _ := svc.ListTemplates(ctx, teacher); len(list) != 1 {
		t.Fatalf("expected one template left, got %d", len(list))
	}
}

func TestBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.SaveUser(ctx, admin); err != nil {
		t.Fatalf("save user: %v", err)
	}
	if err := store.SaveQuiz(ctx, threeQuestionQuiz()); err != nil {
		t.Fatalf("save quiz: %v", err)
	}
	cache := &invalidationRecorder{}
	svc := app.NewBackupService(store, nil, cache)

	if _, err := svc.Export(ctx, teacher); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("only admins export, got %v", err)
	}
	snap, err := svc.Export(ctx, admin)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(snap.Users) != 1 || len(snap.Quizzes) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if err := svc.Restore(ctx, admin, domain.Snapshot{Users: []domain.User{}}); !errors.Is(err, domain.ErrInvalidBackup) {
		t.Fatalf("partial backups are rejected, got %v", err)
	}

	restore := domain.Snapshot{
		Users:   []domain.User{student},
		Quizzes: []domain.Quiz{{ID: "other", Title: "Other"}},
		Results: []domain.Result{},
	}
	if err := svc.Restore(ctx, admin, restore); err != nil {
		t.Fatalf("restore: %v", err)
	}
	users, _ := store.ListUsers(ctx)
	if len(users) != 2 {
		t.Fatalf("the restoring admin is kept when the backup has none, got %+v", users)
	}
	if _, err := store.GetQuiz(ctx, "quiz-1"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("restore replaces everything, got %v", err)
	}
	if len(cache.ids) != 1 || cache.ids[0] != "other" {
		t.Fatalf("restored quizzes are invalidated, got %v", cache.ids)
	}
}
