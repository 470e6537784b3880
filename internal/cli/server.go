package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizmaster-service/internal/auth"
	"quizmaster-service/internal/metrics"
	transport "quizmaster-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	secret := cfg.JWTSecret()
	if secret == "" {
		return errNoSecret
	}
	tokens, err := auth.NewTokens(secret, cfg.TokenTTL())
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	collector := metrics.New()
	services := buildServices(b, logger, collector)
	if err := services.Identity.EnsureDefaults(ctx); err != nil {
		return err
	}

	api := transport.NewServer(services, tokens, logger,
		transport.WithMetrics(collector),
		transport.WithCORSOrigins(cfg.Server.CORSOrigins...),
		transport.WithWSOptions(transport.WithExpiryGrace(cfg.ExpiryGrace())),
	)
	server := transport.NewHTTPServer(":"+cfg.ListenPort(portFlag), api.Routes())

	go func() {
		logger.Info("starting quiz service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
