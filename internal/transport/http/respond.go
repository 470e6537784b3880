package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"quizmaster-service/internal/domain"
)

type errorPayload struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Anything unrecognized is a
// 500 and gets logged; its message is not echoed to the client.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorPayload{Message: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrResultNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrGroupNotFound),
		errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrNotificationNotFound),
		errors.Is(err, domain.ErrTemplateNotFound),
		errors.Is(err, domain.ErrBankQuestionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrWrongPassword),
		errors.Is(err, domain.ErrPasswordRequired):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRetakeNotAllowed),
		errors.Is(err, domain.ErrQuizUnavailable),
		errors.Is(err, domain.ErrUsernameTaken),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrSectionIncomplete),
		errors.Is(err, domain.ErrAtBoundary):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidAnswer),
		errors.Is(err, domain.ErrInvalidScore),
		errors.Is(err, domain.ErrInvalidQuiz),
		errors.Is(err, domain.ErrInvalidQuestion),
		errors.Is(err, domain.ErrInvalidUser),
		errors.Is(err, domain.ErrInvalidGroup),
		errors.Is(err, domain.ErrInvalidNotification),
		errors.Is(err, domain.ErrInvalidBackup),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// userResponse is a user as the API shows it, without the password hash.
type userResponse struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Name     string      `json:"name"`
	Role     domain.Role `json:"role"`
	Email    string      `json:"email,omitempty"`
}

func publicUser(u domain.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username, Name: u.Name, Role: u.Role, Email: u.Email}
}

func publicUsers(users []domain.User) []userResponse {
	out := make([]userResponse, len(users))
	for i, u := range users {
		out[i] = publicUser(u)
	}
	return out
}
