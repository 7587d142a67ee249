package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"flextraff.org/internal/auth"
)

type grantRequest struct {
	Level string `json:"level" validate:"required,oneof=OPERATOR OBSERVER"`
}

type bulkGrantRequest struct {
	JunctionIDs []int64 `json:"junction_ids" validate:"required,min=1,max=500"`
	Level       string  `json:"level" validate:"required,oneof=OPERATOR OBSERVER"`
}

type bulkRevokeRequest struct {
	JunctionIDs []int64 `json:"junction_ids" validate:"required,min=1,max=500"`
}

type grantResponse struct {
	UserID     string `json:"user_id"`
	JunctionID int64  `json:"junction_id"`
	Level      string `json:"level"`
	GrantedBy  string `json:"granted_by"`
	GrantedAt  string `json:"granted_at"`
}

func junctionIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "junctionID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (a *API) handleGrant(w http.ResponseWriter, r *http.Request) {
	junctionID, ok := junctionIDParam(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "junction id must be a positive integer")
		return
	}
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "level must be OPERATOR or OBSERVER")
		return
	}

	err := a.admin.Grant(r.Context(), chi.URLParam(r, "id"), junctionID, auth.AccessLevel(req.Level), actorFrom(r), clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "granted"})
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	junctionID, ok := junctionIDParam(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "junction id must be a positive integer")
		return
	}

	err := a.admin.Revoke(r.Context(), chi.URLParam(r, "id"), junctionID, actorFrom(r), clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func (a *API) handleListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := a.admin.ListGrants(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, grantResponse{
			UserID:     g.UserID,
			JunctionID: g.JunctionID,
			Level:      string(g.Level),
			GrantedBy:  g.GrantedBy,
			GrantedAt:  g.GrantedAt.Format(timeLayout),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": out})
}

func (a *API) handleBulkGrant(w http.ResponseWriter, r *http.Request) {
	var req bulkGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "junction_ids and level are required")
		return
	}

	result, err := a.admin.BulkGrant(r.Context(), chi.URLParam(r, "id"), req.JunctionIDs, auth.AccessLevel(req.Level), actorFrom(r), clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleBulkRevoke(w http.ResponseWriter, r *http.Request) {
	var req bulkRevokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "junction_ids are required")
		return
	}

	result, err := a.admin.BulkRevoke(r.Context(), chi.URLParam(r, "id"), req.JunctionIDs, actorFrom(r), clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
