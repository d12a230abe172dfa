package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
)

type updateUserRequest struct {
	Name        *string   `json:"name"`
	Email       *string   `json:"email"`
	Role        *string   `json:"role"`
	Permissions *[]string `json:"permissions"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.deps.Service.ListUsers(r.Context())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	if users == nil {
		users = []*auth.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	upd := auth.UserUpdate{
		Name:        req.Name,
		Email:       req.Email,
		Permissions: req.Permissions,
	}
	if req.Role != nil {
		role, ok := auth.ParseRole(*req.Role)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "role must be admin or user")
			return
		}
		upd.Role = &role
	}
	user, err := a.deps.Service.UpdateUser(r.Context(), id, upd)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	fields := map[string]any{"target_id": user.ID}
	if upd.Role != nil {
		fields["role"] = string(*upd.Role)
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserUpdated, fields)
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := a.deps.Service.DeleteUser(r.Context(), id); err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventUserDeleted, map[string]any{"target_id": id})
	w.WriteHeader(http.StatusNoContent)
}
