package httpapi

import (
	"net/http"

	"portafirmas.dev/internal/backend"
)

// handleProfile serves GET /users/me: the identity and entitlement
// snapshot for the bearer credential.
func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.svc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "records service unavailable")
		return
	}
	principal, ok := backend.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	profile, err := a.svc.Profile(r.Context(), principal)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "profile resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
