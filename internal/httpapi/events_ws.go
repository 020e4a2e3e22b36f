package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"

	"portafirmas.dev/internal/obs"
)

// eventsHandler upgrades authenticated clients to a websocket and
// forwards notification events. The credential travels as the
// access_token query parameter and is verified before the upgrade; an
// invalid or expired credential is rejected with 401 so the client's
// transport sees a connection error, not a silent empty stream.
func (a *API) eventsHandler() http.Handler {
	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		a.serveEvents(conn)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if a.hub == nil {
			http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
			return
		}

		token := strings.TrimSpace(r.URL.Query().Get("access_token"))
		if token == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if a.svc != nil && a.svc.SupportsTokens() {
			if _, err := a.svc.Authenticate(r.Context(), token); err != nil {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
		}

		wsHandler.ServeHTTP(w, r)
	})
}

func (a *API) serveEvents(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	req := conn.Request()
	if req == nil {
		return
	}
	ctx := req.Context()

	ch := a.hub.Subscribe(ctx)
	obs.StreamSubscribers(a.hub.Subscribers())
	defer func() { obs.StreamSubscribers(a.hub.Subscribers()) }()

	enc := json.NewEncoder(conn)
	for evt := range ch {
		if err := enc.Encode(evt); err != nil {
			return
		}
	}
}
