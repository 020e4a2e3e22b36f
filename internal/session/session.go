// Package session resolves the identity and entitlement snapshot for the
// credential currently held by the store.
package session

import (
	"strings"
	"time"
)

// Page is a routable entitlement unit issued by the records backend.
// A user may enter any route equal to Path or nested under it.
type Page struct {
	ID    int64  `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	Icon  string `json:"icon,omitempty"`
	Order int    `json:"order,omitempty"`
}

// Session is the resolved snapshot for one credential. Read-only to all
// consumers; the resolver replaces the whole value on every fetch.
type Session struct {
	UserID       int64    `json:"id"`
	Name         string   `json:"name"`
	Pages        []Page   `json:"pages"`
	Roles        []string `json:"roles"`
	SignatureURL string   `json:"signature_url,omitempty"`
	HasSignature bool     `json:"has_signature"`
}

// HasRole reports whether the session carries the given role name
// (case-insensitive).
func (s *Session) HasRole(role string) bool {
	if s == nil {
		return false
	}
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range s.Roles {
		if strings.ToLower(r) == role {
			return true
		}
	}
	return false
}

// Status describes the resolver lifecycle for the current credential.
type Status int

const (
	// StatusIdle means no credential is held and nothing is in flight.
	StatusIdle Status = iota
	// StatusLoading means a profile fetch is outstanding.
	StatusLoading
	// StatusResolved means a session snapshot is available.
	StatusResolved
	// StatusError means the last fetch for the current credential failed.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusResolved:
		return "resolved"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is the externally visible resolver state at one instant.
type Snapshot struct {
	Session   *Session
	Status    Status
	Err       error
	FetchedAt time.Time
}
