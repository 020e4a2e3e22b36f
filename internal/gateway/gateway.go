// Package gateway is the portal's HTTP surface: it owns the session
// engine for the running portal instance (credential store, session
// resolver, route guard, realtime channel) and fronts the records
// backend with a verbatim reverse proxy.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"portafirmas.dev/internal/config"
	"portafirmas.dev/internal/credential"
	"portafirmas.dev/internal/guard"
	"portafirmas.dev/internal/httpapi"
	"portafirmas.dev/internal/obs"
	"portafirmas.dev/internal/proxy"
	"portafirmas.dev/internal/realtime"
	"portafirmas.dev/internal/session"
)

var errUpstreamNotReady = errors.New("gateway: records backend not ready")

// Gateway wires the session engine to HTTP routes.
type Gateway struct {
	mux      *http.ServeMux
	cfg      config.Portal
	store    *credential.Store
	resolver *session.Resolver
	guard    *guard.Guard
	hub      *realtime.Hub
	manager  *realtime.Manager
	version  string
}

// New constructs the gateway and starts its session engine.
func New(cfg config.Portal, version string) *Gateway {
	store := credential.New()

	resolver := session.NewResolver(
		store,
		session.NewClient(cfg.BackendBaseURL),
		session.WithFetchTimeout(cfg.FetchTimeout),
	)

	policy := guard.EmptyPagesDenyAll
	if cfg.FallbackPath != "" {
		policy = guard.EmptyPagesFallback
	}
	g := guard.New(guard.Config{
		ForbiddenPath:     cfg.ForbiddenPath,
		EmptyEntitlements: policy,
		FallbackPath:      cfg.FallbackPath,
	})

	hub := realtime.NewHub()
	manager := realtime.NewManager(
		&realtime.WSTransport{Endpoint: cfg.EventsURL},
		hub,
		realtime.WithStateHook(func(s realtime.State) {
			obs.RealtimeState(s.String())
			if s == realtime.Reconnecting {
				obs.RealtimeReconnect()
			}
		}),
	)

	gw := &Gateway{
		mux:      http.NewServeMux(),
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		guard:    g,
		hub:      hub,
		manager:  manager,
		version:  version,
	}

	resolver.Start()
	_ = manager.Subscribe(store)

	fwd := proxy.New(cfg.BackendBaseURL, cfg.ProxyPrefix,
		proxy.WithCookieCredential(cfg.CookieName))

	gw.mux.HandleFunc("/healthz", gw.healthz)
	gw.mux.HandleFunc("/readyz", gw.ready)
	gw.mux.HandleFunc("/v1/info", gw.info)
	gw.mux.Handle("/metrics", obs.Handler())
	gw.mux.HandleFunc("/session/credential", gw.handleCredential)
	gw.mux.HandleFunc("/session", gw.handleSession)
	gw.mux.HandleFunc("/session/access", gw.handleAccess)
	gw.mux.HandleFunc("/session/sign-state", gw.handleSignState)
	gw.mux.HandleFunc("/events", gw.handleEvents)
	gw.mux.HandleFunc("/forbidden", gw.handleForbidden)
	gw.mux.Handle(cfg.ProxyPrefix+"/", fwd)

	gw.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return gw
}

// Handler returns the instrumented handler for the server.
func (g *Gateway) Handler() http.Handler {
	h := http.Handler(g.mux)
	h = httpapi.MaxBodyBytes(h, 1<<20)
	h = httpapi.RateLimit(h, g.cfg.RateLimitBurst, g.cfg.RateLimitPerSecond)
	h = httpapi.LoggingJSON(h)
	h = httpapi.SecurityHeaders(h)
	h = httpapi.RequestID(h)
	return obs.Instrument(h)
}

// Close tears down the session engine.
func (g *Gateway) Close(ctx context.Context) error {
	g.resolver.Stop()
	err := g.manager.Close()
	g.store.Close()
	return err
}

func (g *Gateway) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "portal",
		"version": g.version,
	})
}

// ready reports backend reachability so load balancers stop routing to
// a portal whose records backend is gone.
func (g *Gateway) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BackendBaseURL+"/healthz", nil)
	if err == nil {
		var resp *http.Response
		resp, err = http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 500 {
				err = errUpstreamNotReady
			}
		}
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (g *Gateway) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "portal",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": g.version,
	})
}
