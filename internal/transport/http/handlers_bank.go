package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/domain"
)

// GET /api/bank?q=&topic=&difficulty=&type=
func (s *Server) searchBank(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	q := r.URL.Query()
	list, err := s.Bank.Search(r.Context(), user, app.BankFilter{
		Query:      q.Get("q"),
		Topic:      q.Get("topic"),
		Difficulty: q.Get("difficulty"),
		Type:       domain.QuestionType(q.Get("type")),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GET /api/bank/topics
func (s *Server) bankTopics(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	topics, err := s.Bank.Topics(r.Context(), user)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

// POST /api/bank, PUT /api/bank/{questionID}
func (s *Server) saveBankQuestion(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var q domain.BankQuestion
	if err := decodeJSON(r, &q); err != nil {
		writeError(w, s.logger, err)
		return
	}
	status := http.StatusCreated
	if id := chi.URLParam(r, "questionID"); id != "" {
		q.ID = id
		status = http.StatusOK
	}
	saved, err := s.Bank.Save(r.Context(), user, q)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, status, saved)
}

// DELETE /api/bank/{questionID}
func (s *Server) deleteBankQuestion(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	if err := s.Bank.Delete(r.Context(), user, chi.URLParam(r, "questionID")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/bank/import takes a JSON array of questions.
func (s *Server) importBank(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	report, err := s.Bank.Import(r.Context(), user, r.Body)
	if err != nil && report.Created == 0 && report.Failed == 0 {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /api/bank/export?ids=a,b
func (s *Server) exportBank(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var ids []string
	if raw := r.URL.Query().Get("ids"); raw != "" {
		ids = strings.Split(raw, ",")
	}
	list, err := s.Bank.Export(r.Context(), user, ids)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="question-bank.json"`)
	writeJSON(w, http.StatusOK, list)
}

// POST /api/quizzes/{quizID}/bank {"questionIds": [...]}
func (s *Server) addBankQuestions(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var req struct {
		QuestionIDs []string `json:"questionIds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	quiz, err := s.Bank.AddToQuiz(r.Context(), user, chi.URLParam(r, "quizID"), req.QuestionIDs...)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}
