package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"portafirmas.dev/internal/audit"
	"portafirmas.dev/internal/backend"
)

type updateRolePagesRequest struct {
	PageIDs []int64 `json:"page_ids"`
}

// handleRoleResource routes /v1/roles/{id}/pages.
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	if a.svc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "records service unavailable")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "pages" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	roleID, err := backend.ParseID(parts[0])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid role id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.handleRolePagesGet(w, r, roleID)
	case http.MethodPut:
		a.handleRolePagesPut(w, r, roleID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleRolePagesGet(w http.ResponseWriter, r *http.Request, roleID int64) {
	pages, err := a.svc.RolePages(r.Context(), roleID)
	if err != nil {
		handleBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (a *API) handleRolePagesPut(w http.ResponseWriter, r *http.Request, roleID int64) {
	if !a.requireRole(w, r, "ADMINISTRADOR") {
		return
	}
	var req updateRolePagesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetRolePages(r.Context(), roleID, req.PageIDs); err != nil {
		handleBackendError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "entitlements.role.pages.update", map[string]any{
		"role_id": roleID,
		"count":   fmt.Sprintf("%d", len(req.PageIDs)),
	})
	w.WriteHeader(http.StatusNoContent)
}

// requireRole denies with 403 unless the principal carries the role.
func (a *API) requireRole(w http.ResponseWriter, r *http.Request, role string) bool {
	principal, ok := backend.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !principal.HasRole(role) {
		writeError(w, r, http.StatusForbidden, "insufficient role")
		return false
	}
	return true
}

func handleBackendError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, backend.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, backend.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, backend.ErrNotAssigned):
		writeError(w, r, http.StatusForbidden, "not assigned")
	case errors.Is(err, backend.ErrAlreadySigned):
		writeError(w, r, http.StatusConflict, "already signed")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
