package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"flextraff.org/internal/auth"
)

var errInvalidIDs = errors.New("ids must be a comma-separated list of positive integers")

type loginRequest struct {
	Handle   string `json:"handle" validate:"required,min=1,max=64"`
	Password string `json:"password" validate:"required,min=1,max=256"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type userResponse struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role"`
	Active      bool   `json:"active"`
	LastLoginAt string `json:"last_login_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toUserResponse(u *auth.User) userResponse {
	resp := userResponse{
		ID:          u.ID,
		Handle:      u.Handle,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Role:        string(u.Role),
		Active:      u.Active,
		CreatedAt:   u.CreatedAt.Format(timeLayout),
	}
	if u.LastLoginAt != nil {
		resp.LastLoginAt = u.LastLoginAt.Format(timeLayout)
	}
	return resp
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "handle and password are required")
		return
	}

	pair, user, err := a.service.Authenticate(r.Context(), req.Handle, req.Password, clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tokens": pair,
		"user":   toUserResponse(user),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, user, err := a.service.Refresh(r.Context(), req.RefreshToken, clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tokens": pair,
		"user":   toUserResponse(user),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	if err := a.service.Logout(r.Context(), req.RefreshToken, clientMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// handleAccessibleJunctions filters ?ids= down to the junctions the caller
// may act on at ?level= (observer by default).
func (a *API) handleAccessibleJunctions(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}

	ids, err := parseJunctionIDs(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	level := auth.LevelObserver
	if raw := r.URL.Query().Get("level"); raw != "" {
		level = auth.AccessLevel(strings.ToUpper(raw))
		if !level.Valid() {
			writeError(w, r, http.StatusBadRequest, "level must be OPERATOR or OBSERVER")
			return
		}
	}

	accessible, err := a.authorizer.FilterAccessible(r.Context(), claims, ids, level)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessible": accessible,
		"level":      level,
	})
}

func parseJunctionIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []int64{}, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) > 500 {
		return nil, errInvalidIDs
	}
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			return nil, errInvalidIDs
		}
		ids = append(ids, id)
	}
	return ids, nil
}
