// Package credential holds the bearer credential for one portal session
// and notifies subscribers when it rotates. The store is pure in-process
// state: constructed at session start, torn down at session end, never
// persisted.
package credential

import "sync"

// Credential is an opaque bearer token. The empty string means absent.
type Credential string

// IsEmpty reports whether the credential is absent.
func (c Credential) IsEmpty() bool { return c == "" }

// Listener receives the new value after every Set or Clear.
type Listener func(Credential)

type subscriber struct {
	id int
	fn Listener
}

// Store is the single source of truth for the current credential.
// Mutation happens only through Set and Clear; consumers hold derived
// read-only copies.
type Store struct {
	// dispatchMu serializes Set/Clear end to end so every subscriber
	// observes the exact sequence of values in order. Listeners run
	// while it is held; they may call Get or Subscribe (which take mu)
	// but must not call Set or Clear.
	dispatchMu sync.Mutex

	mu     sync.Mutex
	value  Credential
	subs   []subscriber
	nextID int
	closed bool
}

// New constructs an empty store.
func New() *Store {
	return &Store{}
}

// Get returns the current credential.
func (s *Store) Get() Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the held credential. The value is updated before any
// listener runs, and listeners run synchronously in subscription order,
// so no subscriber can observe a stale value.
func (s *Store) Set(c Credential) {
	s.dispatch(c)
}

// Clear drops the held credential and notifies subscribers with the
// empty value.
func (s *Store) Clear() {
	s.dispatch("")
}

func (s *Store) dispatch(c Credential) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.value = c
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(c)
	}
}

// Subscribe registers a listener and returns its unsubscribe function.
// The returned function is idempotent and is a no-op after Close.
func (s *Store) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Close tears the store down. Further Set/Clear/Subscribe calls are
// no-ops; previously returned unsubscribe functions stay safe to call.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = nil
}
