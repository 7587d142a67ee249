package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"flextraff.org/internal/auth"
	"flextraff.org/internal/ids"
)

type createUserRequest struct {
	Handle      string `json:"handle" validate:"required,min=1,max=64"`
	Password    string `json:"password" validate:"required,min=8,max=256"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Email       string `json:"email" validate:"omitempty,email"`
	Role        string `json:"role" validate:"required,oneof=ADMIN OPERATOR OBSERVER"`
}

type updateUserRequest struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=128"`
	Email       *string `json:"email" validate:"omitempty,email"`
	Role        *string `json:"role" validate:"omitempty,oneof=ADMIN OPERATOR OBSERVER"`
	Active      *bool   `json:"active"`
}

type changePasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=256"`
}

func actorFrom(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.Subject
	}
	return ""
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid user payload")
		return
	}

	user, err := a.admin.CreateUser(r.Context(), auth.NewUserInput{
		Handle:      req.Handle,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Role:        auth.Role(req.Role),
	}, actorFrom(r), clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/users/"+user.ID)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.admin.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := parseQueryInt(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	offset, err := parseQueryInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	users, total, err := a.admin.ListUsers(r.Context(), limit, offset)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":  out,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid patch payload")
		return
	}

	patch := auth.UserPatch{
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Active:      req.Active,
	}
	if req.Role != nil {
		role := auth.Role(*req.Role)
		patch.Role = &role
	}

	user, err := a.admin.UpdateUser(r.Context(), chi.URLParam(r, "id"), patch, actorFrom(r), clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (a *API) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.Deactivate(r.Context(), chi.URLParam(r, "id"), actorFrom(r), clientMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "password must be 8-256 characters")
		return
	}

	if err := a.admin.ChangePassword(r.Context(), chi.URLParam(r, "id"), req.Password, actorFrom(r), clientMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

func (a *API) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !ids.IsValid(id) {
		writeError(w, r, http.StatusBadRequest, "invalid session id")
		return
	}
	if err := a.service.RevokeSession(r.Context(), id, actorFrom(r), clientMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func parseQueryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return val, nil
}
