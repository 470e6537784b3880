package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/config"
	"quizmaster-service/internal/infra/memory"
	"quizmaster-service/internal/infra/postgres"
	redisinfra "quizmaster-service/internal/infra/redis"
	"quizmaster-service/internal/logging"
	transport "quizmaster-service/internal/transport/http"
)

func loadConfig(path string) (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.File), nil
}

// backend holds the storage chosen by the config: Postgres when a URL is
// set, otherwise the JSON document store. Redis, when configured, backs
// checkpoints and the quiz cache.
type backend struct {
	store       app.Store
	quizCache   app.QuizCache
	checkpoints app.CheckpointStore
	pool        *pgxpool.Pool
	redis       *redis.Client
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{}
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, logger); err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		b.pool = pool
		b.store = postgres.NewStore(pool)
		logger.Info("using postgres store")
	} else {
		path := cfg.StorePath()
		store, err := memory.OpenStore(path)
		if err != nil {
			return nil, err
		}
		b.store = store
		logger.Info("using document store", zap.String("path", path))
	}

	quizTTL := cfg.QuizTTL()
	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.checkpoints = redisinfra.NewCheckpointStore(b.redis, cfg.CheckpointTTL())
		b.quizCache = redisinfra.NewQuizCache(b.redis, b.store, quizTTL, logger)
	} else {
		b.checkpoints = memory.NewCheckpointStore()
		b.quizCache = memory.NewQuizCache(b.store, quizTTL)
	}
	return b, nil
}

func (b *backend) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

// buildServices wires the use cases over a backend.
func buildServices(b *backend, logger *zap.Logger, m app.Metrics) transport.Services {
	identity := app.NewIdentityService(b.store, logger)
	notifications := app.NewNotificationService(b.store, b.store, logger)
	reports := app.NewReportService(b.quizCache, b.store, b.store, logger)
	grading := app.NewGradingService(b.quizCache, b.store, notifications, logger,
		app.WithGradingMetrics(m),
		app.WithResultListener(reports),
	)
	quizzes := app.NewQuizService(b.store, b.store, b.store, logger, app.WithQuizCaches(b.quizCache))
	return transport.Services{
		Identity:      identity,
		Quizzes:       quizzes,
		Attempts:      app.NewAttemptService(b.quizCache, b.store, b.store, b.checkpoints, grading, logger, app.WithAttemptMetrics(m)),
		Grading:       grading,
		Groups:        app.NewGroupService(b.store, logger),
		Notifications: notifications,
		Reports:       reports,
		Templates:     app.NewTemplateService(b.store, quizzes, logger),
		Bank:          app.NewQuestionBankService(b.store, quizzes, logger),
		Backup:        app.NewBackupService(b.store, logger, b.quizCache),
	}
}

var errNoSecret = errors.New("server.jwtSecret must be set (or JWT_SECRET)")
