package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/multierr"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/domain"
)

// GET /api/users
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	users, err := s.Identity.ListUsers(r.Context(), user)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, publicUsers(users))
}

// POST /api/users
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var req app.NewUser
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	created, err := s.Identity.CreateUser(r.Context(), user, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, publicUser(created))
}

// PATCH /api/users/{userID}
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var req app.UserUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	updated, err := s.Identity.UpdateUser(r.Context(), user, chi.URLParam(r, "userID"), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, publicUser(updated))
}

// DELETE /api/users/{userID}
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	if err := s.Identity.DeleteUser(r.Context(), user, chi.URLParam(r, "userID")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/users/import takes either a CSV body
// (username,password,name,role[,email]) or a JSON array of users.
func (s *Server) importUsers(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	if user.Role != domain.RoleAdmin {
		writeError(w, s.logger, domain.ErrForbidden)
		return
	}
	var rows []app.NewUser
	var parseErr error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv") {
		rows, parseErr = app.ParseUsersCSV(r.Body)
	} else if err := decodeJSON(r, &rows); err != nil {
		writeError(w, s.logger, err)
		return
	}
	// Row failures are listed in the report rather than failing the request.
	report, _ := s.Identity.ImportUsers(r.Context(), user, rows)
	for _, err := range multierr.Errors(parseErr) {
		report.Errors = append(report.Errors, err.Error())
		report.Failed++
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /api/groups
func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	if !user.CanGrade() {
		writeError(w, s.logger, domain.ErrForbidden)
		return
	}
	groups, err := s.Groups.ListGroups(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// POST /api/groups creates or updates a group.
func (s *Server) saveGroup(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var g domain.Group
	if err := decodeJSON(r, &g); err != nil {
		writeError(w, s.logger, err)
		return
	}
	saved, err := s.Groups.SaveGroup(r.Context(), user, g)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// DELETE /api/groups/{groupID}
func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	if err := s.Groups.DeleteGroup(r.Context(), user, chi.URLParam(r, "groupID")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/groups/{groupID}/members {"userIds": [...]}
func (s *Server) addMembers(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var req struct {
		UserIDs []string `json:"userIds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	g, err := s.Groups.AddMembers(r.Context(), user, chi.URLParam(r, "groupID"), req.UserIDs...)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// POST /api/groups/{groupID}/members/{userID}
func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	g, err := s.Groups.AddMembers(r.Context(), user, chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// DELETE /api/groups/{groupID}/members/{userID}
func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	g, err := s.Groups.RemoveMember(r.Context(), user, chi.URLParam(r, "groupID"), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GET /api/notifications
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	list, err := s.Notifications.ListFor(r.Context(), user)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /api/notifications/{notificationID}/read
func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	if err := s.Notifications.MarkRead(r.Context(), user, chi.URLParam(r, "notificationID")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/notifications/broadcast {"title", "message", "type"}
func (s *Server) broadcast(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var req struct {
		Title   string `json:"title"`
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	n, err := s.Notifications.Broadcast(r.Context(), user, req.Title, req.Message, req.Type)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// GET /api/templates
func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	list, err := s.Templates.ListTemplates(r.Context(), user)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /api/quizzes/{quizID}/template {"name", "description", "category"}
func (s *Server) saveTemplate(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Category    string `json:"category"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}
	t, err := s.Templates.SaveFromQuiz(r.Context(), user, chi.URLParam(r, "quizID"), req.Name, req.Description, req.Category)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// POST /api/templates/{templateID}/clone
func (s *Server) cloneTemplate(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	t, err := s.Templates.CloneTemplate(r.Context(), user, chi.URLParam(r, "templateID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// POST /api/templates/{templateID}/use {"title"}
func (s *Server) useTemplate(w http.ResponseWriter, r *http.Request) {
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
	quiz, err := s.Templates.UseTemplate(r.Context(), user, chi.URLParam(r, "templateID"), req.Title)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

// DELETE /api/templates/{templateID}
func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	if err := s.Templates.DeleteTemplate(r.Context(), user, chi.URLParam(r, "templateID")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/backup
func (s *Server) exportBackup(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	snap, err := s.Backup.Export(r.Context(), user)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="quizmaster-backup.json"`)
	writeJSON(w, http.StatusOK, snap)
}

// POST /api/backup
func (s *Server) restoreBackup(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var snap domain.Snapshot
	if err := decodeJSON(r, &snap); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.Backup.Restore(r.Context(), user, snap); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
