// Package httpapi is the HTTP surface of the records backend: token
// issuance, profile resolution, role entitlements, document signature
// workflows and the websocket notification endpoint.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"portafirmas.dev/internal/backend"
	"portafirmas.dev/internal/obs"
	"portafirmas.dev/internal/realtime"
)

// ReadyProbe checks backing-service readiness (database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the records HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        *backend.Service
	hub        *realtime.Hub
	readyProbe ReadyProbe
	version    string
}

// New wires routes onto a fresh mux.
func New(svc *backend.Service, hub *realtime.Hub, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		hub:        hub,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/users/me", a.handleProfile)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/documents/", a.handleDocumentResource)
	a.mux.Handle("/v1/events/ws", a.eventsHandler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 100, 50)
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	h = CORS(nil)(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "records-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "records-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
