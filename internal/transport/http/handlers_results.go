package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/domain"
)

// GET /api/results
func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	views, err := s.Grading.ResultViews(r.Context(), user)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// GET /api/results/{resultID}
func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	view, err := s.Grading.ResultView(r.Context(), user, chi.URLParam(r, "resultID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /api/results/{resultID}/scorecard
func (s *Server) scorecard(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	card, err := s.Reports.Scorecard(r.Context(), user, chi.URLParam(r, "resultID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// POST /api/results/{resultID}/grade {"manualScore": 80, "feedback": {"q1": "..."}}
func (s *Server) gradeResult(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var req app.ManualGrade
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	result, err := s.Grading.Grade(r.Context(), user, chi.URLParam(r, "resultID"), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /api/results/{resultID}/approve
func (s *Server) approveResult(w http.ResponseWriter, r *http.Request) {
	s.quickGrade(w, r, s.Grading.Approve)
}

// POST /api/results/{resultID}/regrade
func (s *Server) regradeResult(w http.ResponseWriter, r *http.Request) {
	s.quickGrade(w, r, s.Grading.RequestRegrade)
}

func (s *Server) quickGrade(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, grader domain.User, resultID string) (domain.Result, error)) {
	user, _ := userFrom(r.Context())
	result, err := action(r.Context(), user, chi.URLParam(r, "resultID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /api/grading/queue?quizId=
func (s *Server) gradingQueue(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	queue, err := s.Grading.PendingQueue(r.Context(), user, r.URL.Query().Get("quizId"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

// GET /api/results/export.csv?quizId=
func (s *Server) exportResults(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	name := "quiz-results.csv"
	if quizID != "" {
		name = fmt.Sprintf("quiz-results-%s.csv", quizID)
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := s.Reports.ExportResultsCSV(r.Context(), w, quizID); err != nil {
		// Headers are already out; all that is left is to log.
		s.logger.Error("export results", zap.String("quiz", quizID), zap.Error(err))
	}
}
