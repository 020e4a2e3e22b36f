package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"portafirmas.dev/internal/credential"
	"portafirmas.dev/internal/guard"
	"portafirmas.dev/internal/httpapi"
	"portafirmas.dev/internal/obs"
	"portafirmas.dev/internal/session"
)

type setCredentialRequest struct {
	Token string `json:"token"`
}

// handleCredential installs or clears the portal credential. Setting it
// also writes the HTTP-only cookie the proxy variant reads, so browser
// API calls and the session engine share one credential source.
func (g *Gateway) handleCredential(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req setCredentialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid body")
			return
		}
		token := strings.TrimSpace(req.Token)
		if token == "" {
			writeError(w, r, http.StatusBadRequest, "token is required")
			return
		}
		// The manager detaches from the store when the credential is
		// cleared; re-attach before the new value lands so the channel
		// rebinds on re-login. No-op while still attached.
		_ = g.manager.Subscribe(g.store)
		g.store.Set(credential.Credential(token))
		g.guard.Reset()
		http.SetCookie(w, &http.Cookie{
			Name:     g.cfg.CookieName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		g.store.Clear()
		g.guard.Reset()
		http.SetCookie(w, &http.Cookie{
			Name:     g.cfg.CookieName,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			MaxAge:   -1,
		})
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "POST, DELETE")
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSession reports the resolver snapshot.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := g.resolver.Snapshot()
	payload := map[string]any{
		"status": snap.Status.String(),
	}
	if snap.Session != nil {
		payload["session"] = snap.Session
	}
	if snap.Err != nil {
		payload["error"] = snap.Err.Error()
	}
	if !snap.FetchedAt.IsZero() {
		payload["fetched_at"] = snap.FetchedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleAccess evaluates a guard requirement for the UI router:
// ?path=/docs/123 or ?role=SUPERVISOR (comma-separated for any-of).
func (g *Gateway) handleAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var (
		req  guard.Requirement
		kind string
	)
	switch {
	case r.URL.Query().Get("path") != "":
		req = guard.PathRequirement{Path: r.URL.Query().Get("path")}
		kind = "path"
	case r.URL.Query().Get("role") != "":
		req = guard.RoleRequirement{Roles: strings.Split(r.URL.Query().Get("role"), ",")}
		kind = "role"
	default:
		writeError(w, r, http.StatusBadRequest, "path or role is required")
		return
	}

	decision, redirect := g.guard.Resolve(g.resolver.Snapshot(), req)
	if decision == guard.DecisionDeny {
		obs.GuardDenial(kind)
	}

	payload := map[string]any{"decision": decision.String()}
	if redirect != "" {
		payload["redirect"] = redirect
	}
	writeJSON(w, http.StatusOK, payload)
}

func (g *Gateway) handleForbidden(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusForbidden, map[string]any{
		"error": "access denied",
	})
}

// handleEvents bridges the notification hub to Server-Sent Events for
// browser consumers. Only events the channel manager accepted for the
// current credential reach this stream.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := g.resolver.Snapshot()
	if snap.Status != session.StatusResolved {
		writeError(w, r, http.StatusUnauthorized, "session not resolved")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := g.hub.Subscribe(r.Context())
	obs.StreamSubscribers(g.hub.Subscribers())
	defer func() { obs.StreamSubscribers(g.hub.Subscribers()) }()

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := httpapi.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
