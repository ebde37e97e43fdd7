package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/users"
)

type updateUserRoleReq struct {
	Role string `json:"role"`
}

// PUT /users/{userID}/role  (userID may be an id or a username)
func AdminUpdateUserRoleHandler(us *users.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "userID")
		var req updateUserRoleReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "bad json")
			return
		}
		role := strings.ToLower(strings.TrimSpace(req.Role))
		if !users.ValidRole(role) {
			badRequest(w, "invalid role")
			return
		}
		if err := us.UpdateRole(r.Context(), target, role); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
