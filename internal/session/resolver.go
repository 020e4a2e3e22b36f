package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"portafirmas.dev/internal/credential"
)

// ErrNoCredential is reported when a fetch is requested while the store
// holds no credential.
var ErrNoCredential = errors.New("session: no credential")

// ProfileClient fetches the profile for a credential. Implementations
// must honor the context and return an error for non-2xx responses.
type ProfileClient interface {
	FetchProfile(ctx context.Context, cred credential.Credential) (*Session, error)
}

// Resolver tracks the credential store and keeps the session snapshot
// for the store's current value. At most one fetch is in flight per
// credential value; results arriving for a superseded credential are
// discarded (last-credential-wins, never last-completed-wins).
type Resolver struct {
	store   *credential.Store
	client  ProfileClient
	now     func() time.Time
	timeout time.Duration

	mu        sync.Mutex
	gen       uint64
	cred      credential.Credential
	inflight  bool
	snap      Snapshot
	listeners []func(Snapshot)
	unsub     func()
}

// Option configures the resolver.
type Option func(*Resolver)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithFetchTimeout bounds each profile fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewResolver constructs a resolver bound to the store. Start must be
// called before snapshots track credential changes.
func NewResolver(store *credential.Store, client ProfileClient, opts ...Option) *Resolver {
	r := &Resolver{
		store:   store,
		client:  client,
		now:     time.Now,
		timeout: 15 * time.Second,
		snap:    Snapshot{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to the store and, when a credential is already held,
// issues exactly one initial fetch.
func (r *Resolver) Start() {
	r.mu.Lock()
	if r.unsub != nil {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	unsub := r.store.Subscribe(r.onCredential)
	r.mu.Lock()
	r.unsub = unsub
	r.mu.Unlock()

	if cred := r.store.Get(); !cred.IsEmpty() {
		r.onCredential(cred)
	}
}

// Stop unsubscribes from the store. The last snapshot remains readable.
func (r *Resolver) Stop() {
	r.mu.Lock()
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Snapshot returns the current resolver state.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// OnChange registers a listener invoked after every snapshot change.
func (r *Resolver) OnChange(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Refresh re-fetches the profile for the current credential, e.g. after
// an error. A fetch already in flight for the same credential is not
// duplicated.
func (r *Resolver) Refresh() {
	cred := r.store.Get()
	if cred.IsEmpty() {
		return
	}
	r.mu.Lock()
	if r.inflight {
		r.mu.Unlock()
		return
	}
	r.inflight = true
	r.snap = Snapshot{Status: StatusLoading}
	gen := r.gen
	r.mu.Unlock()

	r.notify()
	go r.fetch(gen, cred)
}

func (r *Resolver) onCredential(cred credential.Credential) {
	r.mu.Lock()
	if cred == r.cred && !cred.IsEmpty() && (r.inflight || r.snap.Status == StatusResolved) {
		// Re-delivery of the value already being fetched (or already
		// resolved) must not spawn a second fetch.
		r.mu.Unlock()
		return
	}
	r.cred = cred
	r.gen++
	gen := r.gen
	r.inflight = false

	if cred.IsEmpty() {
		// Reset to idle synchronously; any in-flight fetch for the old
		// credential is stale and its result will be dropped.
		r.snap = Snapshot{Status: StatusIdle}
		r.mu.Unlock()
		r.notify()
		return
	}

	r.inflight = true
	r.snap = Snapshot{Status: StatusLoading}
	r.mu.Unlock()

	r.notify()
	go r.fetch(gen, cred)
}

func (r *Resolver) fetch(gen uint64, cred credential.Credential) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	sess, err := r.client.FetchProfile(ctx, cred)

	r.mu.Lock()
	if gen != r.gen {
		// The credential changed while this fetch was outstanding.
		r.mu.Unlock()
		return
	}
	r.inflight = false
	if err != nil {
		r.snap = Snapshot{Status: StatusError, Err: err}
	} else {
		r.snap = Snapshot{Session: sess, Status: StatusResolved, FetchedAt: r.now().UTC()}
	}
	r.mu.Unlock()
	r.notify()
}

func (r *Resolver) notify() {
	r.mu.Lock()
	snap := r.snap
	listeners := make([]func(Snapshot), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
