package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"portafirmas.dev/internal/audit"
	"portafirmas.dev/internal/backend"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.svc == nil || !a.svc.SupportsTokens() {
		writeError(w, r, http.StatusServiceUnavailable, "token issuance unavailable")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	token, expiresAt, user, err := a.svc.IssueToken(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, backend.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user_id":    user.ID,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
