package integration

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"golang.org/x/crypto/bcrypt"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/domain"
	"quizmaster-service/internal/infra/postgres"
	pgmigrations "quizmaster-service/internal/infra/postgres/migrations"
	infraredis "quizmaster-service/internal/infra/redis"
)

func TestAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL := startPostgres(t, ctx)
	redisClient := startRedis(t, ctx)

	migrateSchema(t, ctx, pgURL)

	pool, err := postgres.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	quizCache := infraredis.NewQuizCache(redisClient, store, 5*time.Minute, nil)
	checkpoints := infraredis.NewCheckpointStore(redisClient, time.Hour)

	identity := app.NewIdentityService(store, nil, app.WithHashCost(bcrypt.MinCost))
	if err := identity.EnsureDefaults(ctx); err != nil {
		t.Fatalf("seed users: %v", err)
	}
	teacher, err := identity.Authenticate(ctx, "teacher", app.DefaultPassword)
	if err != nil {
		t.Fatalf("teacher login: %v", err)
	}
	student, err := identity.Authenticate(ctx, "student", app.DefaultPassword)
	if err != nil {
		t.Fatalf("student login: %v", err)
	}

	reports := app.NewReportService(store, store, store, nil)
	notifications := app.NewNotificationService(store, store, nil)
	grading := app.NewGradingService(store, store, notifications, nil, app.WithResultListener(reports))
	quizzes := app.NewQuizService(store, store, store, nil, app.WithQuizCaches(quizCache))
	attempts := app.NewAttemptService(quizCache, store, store, checkpoints, grading, nil)

	quiz, err := quizzes.SaveQuiz(ctx, teacher, sampleQuiz())
	if err != nil {
		t.Fatalf("save quiz: %v", err)
	}

	if _, err := attempts.Start(ctx, student, quiz.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := attempts.Answer(ctx, student.ID, quiz.ID, domain.Choice(1)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := attempts.Tick(ctx, student.ID, quiz.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}
	attempts.Abandon(ctx, student.ID, quiz.ID)

	view, err := attempts.Start(ctx, student, quiz.ID)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if view.State != app.StateResumeOffer || view.Resume == nil || view.Resume.Answered != 1 {
		t.Fatalf("expected a resume offer from redis, got %+v", view)
	}
	if _, err := attempts.Resume(ctx, student.ID, quiz.ID, true); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := attempts.Next(ctx, student.ID, quiz.ID); err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, err := attempts.Answer(ctx, student.ID, quiz.ID, domain.Text("Paris")); err != nil {
		t.Fatalf("answer: %v", err)
	}
	view, err = attempts.Submit(ctx, student.ID, quiz.ID, app.SubmitManual)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.Result == nil || view.Result.Score == nil || *view.Result.Score != 100 {
		t.Fatalf("expected a perfect score, got %+v", view.Result)
	}
	if _, found, _ := checkpoints.LoadCheckpoint(ctx, student.ID, quiz.ID); found {
		t.Fatalf("submission should clear the redis checkpoint")
	}

	results, err := store.ListResults(ctx)
	if err != nil || len(results) != 1 {
		t.Fatalf("expected one stored result, got %d (%v)", len(results), err)
	}
	manual := 80
	graded, err := grading.Grade(ctx, teacher, results[0].ID, app.ManualGrade{Score: &manual, Feedback: map[string]string{"q2": "spelling"}})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if graded.GradingStatus != domain.StatusGraded {
		t.Fatalf("expected graded status, got %s", graded.GradingStatus)
	}
	stored, _ := store.GetResult(ctx, results[0].ID)
	if stored.ManualScore == nil || *stored.ManualScore != 80 || stored.Score != 100 || stored.Feedback["q2"] != "spelling" {
		t.Fatalf("grading not persisted correctly: %+v", stored)
	}

	lb, err := reports.Leaderboard(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 1 || lb.Entries[0].Score != 80 || lb.Entries[0].DisplayName != student.Name {
		t.Fatalf("unexpected leaderboard %+v", lb.Entries)
	}

	if _, err := attempts.Start(ctx, student, quiz.ID); !errors.Is(err, domain.ErrRetakeNotAllowed) {
		t.Fatalf("expected retake refusal, got %v", err)
	}
}

func TestBackupRestoreOnPostgres(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL := startPostgres(t, ctx)
	migrateSchema(t, ctx, pgURL)

	pool, err := postgres.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	identity := app.NewIdentityService(store, nil, app.WithHashCost(bcrypt.MinCost))
	if err := identity.EnsureDefaults(ctx); err != nil {
		t.Fatalf("seed users: %v", err)
	}
	admin, err := identity.Authenticate(ctx, "admin", app.DefaultPassword)
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	teacher, _ := identity.Authenticate(ctx, "teacher", app.DefaultPassword)
	quizzes := app.NewQuizService(store, store, store, nil)
	if _, err := quizzes.SaveQuiz(ctx, teacher, sampleQuiz()); err != nil {
		t.Fatalf("save quiz: %v", err)
	}
	bank := app.NewQuestionBankService(store, quizzes, nil)
	items := `[{"text": "Zero is even.", "type": "true_false", "topic": "Parity"},
		{"text": "Largest planet?", "type": "short_answer", "correctAnswerText": "Jupiter", "topic": "Space"}]`
	if _, err := bank.Import(ctx, teacher, strings.NewReader(items)); err != nil {
		t.Fatalf("import bank: %v", err)
	}
	if topics, _ := bank.Topics(ctx, teacher); len(topics) != 2 {
		t.Fatalf("expected two topics, got %v", topics)
	}

	backup := app.NewBackupService(store, nil)
	snap, err := backup.Export(ctx, admin)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(snap.Users) != 3 || len(snap.Quizzes) != 1 || len(snap.QuestionBank) != 2 {
		t.Fatalf("unexpected export %d users %d quizzes %d bank questions", len(snap.Users), len(snap.Quizzes), len(snap.QuestionBank))
	}

	err = backup.Restore(ctx, admin, domain.Snapshot{
		Users:   []domain.User{{ID: "s9", Username: "solo", Name: "Solo", Role: domain.RoleStudent}},
		Quizzes: []domain.Quiz{},
		Results: []domain.Result{},
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	users, _ := store.ListUsers(ctx)
	if len(users) != 2 {
		t.Fatalf("expected the backup user plus the restoring admin, got %+v", users)
	}
	if quizzes, _ := store.ListQuizzes(ctx); len(quizzes) != 0 {
		t.Fatalf("expected quizzes replaced, got %d", len(quizzes))
	}
	if questions, _ := store.ListBankQuestions(ctx); len(questions) != 0 {
		t.Fatalf("expected the bank cleared, got %d", len(questions))
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

// startContainer runs req and returns the host:port of its first exposed
// port. The container is removed when the test ends.
func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest) string {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("%s endpoint: %v", req.Image, err)
	}
	return endpoint
}

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	addr := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quizmaster", "POSTGRES_PASSWORD": "quizmaster", "POSTGRES_DB": "quizmaster"},
		ExposedPorts: []string{"5432/tcp"},
		// Postgres restarts once after initdb; the second line means it is really up.
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(time.Minute),
	})
	return "postgres://quizmaster:quizmaster@" + addr + "/quizmaster?sslmode=disable"
}

func startRedis(t *testing.T, ctx context.Context) *goredis.Client {
	t.Helper()
	addr := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		Title:     "Geography",
		TimeLimit: 10,
		Status:    domain.StatusPublished,
		Questions: []domain.Question{
			{ID: "q1", Text: "Largest ocean?", Type: domain.MultipleChoice, Options: []string{"Atlantic", "Pacific", "Indian"}, CorrectIndex: 1},
			{ID: "q2", Text: "Capital of France?", Type: domain.ShortAnswer, CorrectAnswerText: "Paris"},
		},
	}
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
