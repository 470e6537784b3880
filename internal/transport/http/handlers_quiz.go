package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"quizmaster-service/internal/domain"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

// POST /api/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	user, err := s.Identity.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: publicUser(user)})
}

// GET /api/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	unread, err := s.Notifications.UnreadCount(r.Context(), user)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		userResponse
		UnreadNotifications int `json:"unreadNotifications"`
	}{publicUser(user), unread})
}

// GET /api/quizzes lists every quiz for graders and the available catalogue for students.
func (s *Server) listQuizzes(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	if user.CanGrade() {
		quizzes, err := s.Quizzes.ListQuizzes(r.Context(), user)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, quizzes)
		return
	}
	summaries, err := s.Quizzes.AvailableQuizzes(r.Context(), user)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// POST /api/quizzes, PUT /api/quizzes/{quizID}
func (s *Server) saveQuiz(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var quiz domain.Quiz
	if err := decodeJSON(r, &quiz); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if id := chi.URLParam(r, "quizID"); id != "" {
		quiz.ID = id
	}
	status := http.StatusCreated
	if quiz.ID != "" {
		status = http.StatusOK
	}
	saved, err := s.Quizzes.SaveQuiz(r.Context(), user, quiz)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, status, saved)
}

// GET /api/quizzes/{quizID}
func (s *Server) getQuiz(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	quiz, err := s.Quizzes.GetQuiz(r.Context(), user, chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

// DELETE /api/quizzes/{quizID}
func (s *Server) deleteQuiz(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	if err := s.Quizzes.DeleteQuiz(r.Context(), user, chi.URLParam(r, "quizID")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/quizzes/{quizID}/duplicate {"title": "..."}
func (s *Server) duplicateQuiz(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var req struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}
	quiz, err := s.Quizzes.DuplicateQuiz(r.Context(), user, chi.URLParam(r, "quizID"), req.Title)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

// GET /api/quizzes/{quizID}/stats
func (s *Server) quizStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Reports.QuizStats(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /api/quizzes/{quizID}/leaderboard
func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := s.Reports.Leaderboard(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}
