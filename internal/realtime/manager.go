package realtime

import (
	"context"
	"errors"
	"sync"

	"portafirmas.dev/internal/credential"
)

// ErrClosed is returned by operations on a closed manager.
var ErrClosed = errors.New("realtime: manager closed")

// State of the logical channel.
type State int

const (
	// Disconnected: no credential, no transport, no pending dial.
	Disconnected State = iota
	// Connecting: first dial for a credential is outstanding.
	Connecting
	// Connected: a live transport is bound to the current credential.
	Connected
	// Reconnecting: the credential rotated; a dial for the new value is
	// outstanding and any older transport is already stale.
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Conn is one authenticated transport instance.
type Conn interface {
	// Events yields received events until the connection ends; the
	// channel is closed on transport teardown.
	Events() <-chan Event
	Close() error
}

// Transport dials the notification endpoint with the given credential.
// Implementations own their reconnect backoff: Connect blocks, retrying
// transport-level errors, until a connection is established or the
// context ends.
type Transport interface {
	Connect(ctx context.Context, cred credential.Credential) (Conn, error)
}

// Manager binds the notification channel to the credential store. At any
// instant the channel's authentication equals the store's current value;
// when the value changes while a transport is open, that transport is
// stale immediately, before teardown completes, and nothing it delivers
// afterwards reaches the hub. Under rapid rotation the manager
// converges to the store's final value, skipping superseded dials.
type Manager struct {
	transport Transport
	hub       *Hub
	onState   func(State)

	mu     sync.Mutex
	state  State
	cred   credential.Credential
	gen    uint64
	conn   Conn
	cancel context.CancelFunc
	unsub  func()
	closed bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStateHook registers a callback invoked after every state
// transition, outside the manager lock.
func WithStateHook(fn func(State)) ManagerOption {
	return func(m *Manager) { m.onState = fn }
}

// NewManager constructs a manager publishing into hub.
func NewManager(transport Transport, hub *Hub, opts ...ManagerOption) *Manager {
	m := &Manager{transport: transport, hub: hub, state: Disconnected}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe attaches the manager to the store. With an empty credential
// the manager stays Disconnected: an unauthenticated session never opens
// a channel.
func (m *Manager) Subscribe(store *credential.Store) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.unsub != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	unsub := store.Subscribe(m.onCredential)
	m.mu.Lock()
	m.unsub = unsub
	m.mu.Unlock()

	if cred := store.Get(); !cred.IsEmpty() {
		m.onCredential(cred)
	}
	return nil
}

// State returns the current channel state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Credential returns the credential the channel is currently bound to.
func (m *Manager) Credential() credential.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// Close tears the manager down: cancels any pending dial, closes the
// live transport and detaches from the store.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.gen++
	conn, cancel, unsub := m.conn, m.cancel, m.unsub
	m.conn, m.cancel, m.unsub = nil, nil, nil
	m.state = Disconnected
	m.cred = ""
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if unsub != nil {
		unsub()
	}
	m.transition(Disconnected)
	return nil
}

func (m *Manager) onCredential(cred credential.Credential) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if cred == m.cred && (m.state == Connected || m.state == Connecting || m.state == Reconnecting) {
		m.mu.Unlock()
		return
	}

	// Staleness is declared before teardown: bumping the generation
	// invalidates the current transport and any outstanding dial for
	// authorization purposes right now.
	m.gen++
	gen := m.gen
	oldConn, oldCancel := m.conn, m.cancel
	m.conn, m.cancel = nil, nil

	if cred.IsEmpty() {
		m.cred = ""
		m.state = Disconnected
		unsub := m.unsub
		m.unsub = nil
		m.mu.Unlock()

		if oldCancel != nil {
			oldCancel()
		}
		if oldConn != nil {
			_ = oldConn.Close()
		}
		if unsub != nil {
			unsub()
		}
		m.transition(Disconnected)
		return
	}

	next := Connecting
	if m.state == Connected || m.state == Connecting || m.state == Reconnecting {
		next = Reconnecting
	}
	m.cred = cred
	m.state = next

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	if oldConn != nil {
		// Force-close without waiting for a graceful shutdown.
		go func() { _ = oldConn.Close() }()
	}
	m.transition(next)

	go m.dial(ctx, gen, cred)
}

func (m *Manager) dial(ctx context.Context, gen uint64, cred credential.Credential) {
	conn, err := m.transport.Connect(ctx, cred)

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		// Connect only errors when its context ended, which means this
		// dial was superseded or the manager closed; nothing to do.
		m.mu.Unlock()
		return
	}
	m.conn = conn
	m.state = Connected
	m.mu.Unlock()

	m.transition(Connected)
	go m.pump(gen, conn)
}

// pump forwards events from one transport into the hub for as long as
// that transport's bind generation is current. Events already buffered
// when the credential rotates are dropped, never attributed to the new
// credential's authorization context.
func (m *Manager) pump(gen uint64, conn Conn) {
	for evt := range conn.Events() {
		m.mu.Lock()
		stale := gen != m.gen || m.closed
		m.mu.Unlock()
		if stale {
			return
		}
		if m.hub != nil {
			m.hub.Publish(evt)
		}
	}

	// Transport ended on its own (server close or network error).
	// Re-dial for the same credential; the transport owns the backoff.
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = Reconnecting
	cred := m.cred
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	m.transition(Reconnecting)
	go m.dial(ctx, gen, cred)
}

func (m *Manager) transition(s State) {
	if m.onState != nil {
		m.onState(s)
	}
}
