package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"quizmaster-service/internal/domain"
)

type ctxKey string

const ctxKeyUser ctxKey = "user"

func withUser(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, u)
}

// userFrom returns the authenticated user placed on the context by authenticate.
func userFrom(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(ctxKeyUser).(domain.User)
	return u, ok
}

// authenticate resolves the caller from a bearer token, or from the token
// query parameter for WebSocket clients that cannot set headers. The user
// is reloaded so deleted accounts lose access immediately.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" {
			writeError(w, s.logger, domain.ErrInvalidToken)
			return
		}
		claims, err := s.tokens.Parse(raw)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		user, err := s.Identity.User(r.Context(), claims.UserID)
		if err != nil {
			writeError(w, s.logger, domain.ErrInvalidToken)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// requireGrader rejects students.
func (s *Server) requireGrader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, _ := userFrom(r.Context()); !u.CanGrade() {
			writeError(w, s.logger, domain.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe logs each request and records it in the request metrics, keyed by
// the matched route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, status, elapsed)
		}
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
