package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/auth"
	"quizmaster-service/internal/metrics"
)

// Services groups the use cases the API exposes.
type Services struct {
	Identity      *app.IdentityService
	Quizzes       *app.QuizService
	Attempts      *app.AttemptService
	Grading       *app.GradingService
	Groups        *app.GroupService
	Notifications *app.NotificationService
	Reports       *app.ReportService
	Templates     *app.TemplateService
	Bank          *app.QuestionBankService
	Backup        *app.BackupService
}

// Server is the HTTP face of the service: REST endpoints plus the attempt
// and leaderboard WebSockets.
type Server struct {
	Services
	tokens      *auth.Tokens
	logger      *zap.Logger
	metrics     *metrics.Collector
	corsOrigins []string
	ws          *WSHandler
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithMetrics records request metrics and serves them at /metrics.
func WithMetrics(m *metrics.Collector) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithCORSOrigins sets the origins browsers may call from.
func WithCORSOrigins(origins ...string) ServerOption {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithWSOptions passes options to the WebSocket handler.
func WithWSOptions(opts ...WSOption) ServerOption {
	return func(s *Server) { s.ws = NewWSHandler(s.Attempts, s.Reports, s.logger, opts...) }
}

func NewServer(svc Services, tokens *auth.Tokens, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{Services: svc, tokens: tokens, logger: logger}
	s.ws = NewWSHandler(svc.Attempts, svc.Reports, logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(s.observe)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Post("/api/login", s.login)

	r.Group(func(pr chi.Router) {
		pr.Use(s.authenticate)

		pr.Get("/ws/attempt", s.ws.ServeAttempt)
		pr.Get("/ws/leaderboard", s.ws.ServeLeaderboard)

		pr.Route("/api", func(api chi.Router) {
			api.Get("/me", s.me)

			api.Route("/quizzes", func(q chi.Router) {
				q.Get("/", s.listQuizzes)
				q.Get("/{quizID}/leaderboard", s.leaderboard)
				q.Group(func(g chi.Router) {
					g.Use(s.requireGrader)
					g.Post("/", s.saveQuiz)
					g.Get("/{quizID}", s.getQuiz)
					g.Put("/{quizID}", s.saveQuiz)
					g.Delete("/{quizID}", s.deleteQuiz)
					g.Post("/{quizID}/duplicate", s.duplicateQuiz)
					g.Get("/{quizID}/stats", s.quizStats)
					g.Post("/{quizID}/template", s.saveTemplate)
					g.Post("/{quizID}/bank", s.addBankQuestions)
				})
			})

			api.Route("/results", func(res chi.Router) {
				res.Get("/", s.listResults)
				res.With(s.requireGrader).Get("/export.csv", s.exportResults)
				res.Get("/{resultID}", s.getResult)
				res.Get("/{resultID}/scorecard", s.scorecard)
				res.Post("/{resultID}/grade", s.gradeResult)
				res.Post("/{resultID}/approve", s.approveResult)
				res.Post("/{resultID}/regrade", s.regradeResult)
			})
			api.Get("/grading/queue", s.gradingQueue)

			api.Route("/users", func(u chi.Router) {
				u.Get("/", s.listUsers)
				u.Post("/", s.createUser)
				u.Post("/import", s.importUsers)
				u.Patch("/{userID}", s.updateUser)
				u.Delete("/{userID}", s.deleteUser)
			})

			api.Route("/groups", func(g chi.Router) {
				g.Get("/", s.listGroups)
				g.Post("/", s.saveGroup)
				g.Delete("/{groupID}", s.deleteGroup)
				g.Post("/{groupID}/members", s.addMembers)
				g.Post("/{groupID}/members/{userID}", s.addMember)
				g.Delete("/{groupID}/members/{userID}", s.removeMember)
			})

			api.Route("/notifications", func(n chi.Router) {
				n.Get("/", s.listNotifications)
				n.Post("/{notificationID}/read", s.markRead)
				n.Post("/broadcast", s.broadcast)
			})

			api.Route("/templates", func(t chi.Router) {
				t.Get("/", s.listTemplates)
				t.Post("/{templateID}/clone", s.cloneTemplate)
				t.Post("/{templateID}/use", s.useTemplate)
				t.Delete("/{templateID}", s.deleteTemplate)
			})

			api.Route("/bank", func(b chi.Router) {
				b.Get("/", s.searchBank)
				b.Post("/", s.saveBankQuestion)
				b.Get("/topics", s.bankTopics)
				b.Get("/export", s.exportBank)
				b.Post("/import", s.importBank)
				b.Put("/{questionID}", s.saveBankQuestion)
				b.Delete("/{questionID}", s.deleteBankQuestion)
			})

			api.Get("/backup", s.exportBackup)
			api.Post("/backup", s.restoreBackup)
		})
	})
	return r
}

// NewHTTPServer wraps the router with the service's timeouts. Writes are not
// bounded so WebSocket connections can stay open.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
