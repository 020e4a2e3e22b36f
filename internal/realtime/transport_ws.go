package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"portafirmas.dev/internal/credential"
)

const (
	wsDialTimeout    = 10 * time.Second
	wsInitialBackoff = 500 * time.Millisecond
	wsMaxBackoff     = 30 * time.Second
)

// WSTransport dials the records backend's websocket notification
// endpoint, attaching the credential as the access_token query parameter
// at handshake time. Connection errors are retried with exponential
// backoff until the context ends; the server closing an
// invalid-credential connection surfaces here as an ordinary dial error.
type WSTransport struct {
	// Endpoint is the ws:// or wss:// notification URL.
	Endpoint string
	// Origin is sent in the handshake; defaults to the endpoint host.
	Origin string
}

// Connect establishes an authenticated websocket connection, retrying
// with backoff. It returns an error only when ctx ends first.
func (t *WSTransport) Connect(ctx context.Context, cred credential.Credential) (Conn, error) {
	if cred.IsEmpty() {
		return nil, errors.New("realtime: empty credential")
	}
	cfg, err := t.config(cred)
	if err != nil {
		return nil, err
	}

	backoff := wsInitialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ws, err := dialWithContext(ctx, cfg)
		if err == nil {
			return newWSConn(ws), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsMaxBackoff {
			backoff = wsMaxBackoff
		}
	}
}

func (t *WSTransport) config(cred credential.Credential) (*websocket.Config, error) {
	u, err := url.Parse(t.Endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("access_token", string(cred))
	u.RawQuery = q.Encode()

	origin := t.Origin
	if origin == "" {
		origin = "http://" + u.Host
	}
	cfg, err := websocket.NewConfig(u.String(), origin)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// dialWithContext bounds websocket.DialConfig, which has no context
// support of its own.
func dialWithContext(ctx context.Context, cfg *websocket.Config) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	defer cancel()

	type result struct {
		ws  *websocket.Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		ws, err := websocket.DialConfig(cfg)
		done <- result{ws: ws, err: err}
	}()

	select {
	case <-dialCtx.Done():
		go func() {
			if res := <-done; res.ws != nil {
				_ = res.ws.Close()
			}
		}()
		return nil, dialCtx.Err()
	case res := <-done:
		return res.ws, res.err
	}
}

type wsConn struct {
	ws     *websocket.Conn
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:     ws,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *wsConn) readLoop() {
	defer close(c.events)
	dec := json.NewDecoder(c.ws)
	for {
		var evt Event
		if err := dec.Decode(&evt); err != nil {
			return
		}
		// When the consumer stopped draining, Close must still be able
		// to unblock this goroutine.
		select {
		case c.events <- evt:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) Events() <-chan Event { return c.events }

func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.ws.Close()
}
