// Package guard gates routes and actions against the resolved session.
// Evaluation is pure; the only side effect is a one-time redirect on
// deny, owned by a Guard instance.
package guard

import (
	"strings"
	"sync"

	"portafirmas.dev/internal/session"
)

// Decision is the outcome of evaluating a requirement.
type Decision int

const (
	// DecisionPending means resolution has not settled; render nothing,
	// redirect nothing.
	DecisionPending Decision = iota
	// DecisionAllow grants access.
	DecisionAllow
	// DecisionDeny refuses access.
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionPending:
		return "pending"
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Requirement is a capability check against a session.
type Requirement interface {
	allowed(sess *session.Session) bool
}

// PathRequirement grants access when the session holds a page whose path
// equals the requested path or is a segment-boundary prefix of it.
type PathRequirement struct {
	Path string
}

func (p PathRequirement) allowed(sess *session.Session) bool {
	if sess == nil {
		return false
	}
	requested := normalizePath(p.Path)
	for _, page := range sess.Pages {
		if pathCovers(normalizePath(page.Path), requested) {
			return true
		}
	}
	return false
}

// RoleRequirement grants access when the session holds any of the
// acceptable roles.
type RoleRequirement struct {
	Roles []string
}

func (r RoleRequirement) allowed(sess *session.Session) bool {
	for _, role := range r.Roles {
		if sess.HasRole(role) {
			return true
		}
	}
	return false
}

// Evaluate is the pure predicate: pending while loading, deny on error,
// allow/deny once resolved. Absent credential (idle) always denies.
func Evaluate(sess *session.Session, status session.Status, req Requirement) Decision {
	switch status {
	case session.StatusLoading:
		return DecisionPending
	case session.StatusResolved:
		if req != nil && req.allowed(sess) {
			return DecisionAllow
		}
		return DecisionDeny
	default:
		// idle or error: never fail open.
		return DecisionDeny
	}
}

// EmptyPagesPolicy selects what happens when a resolved session carries
// no pages at all.
type EmptyPagesPolicy int

const (
	// EmptyPagesDenyAll denies every path requirement (fail closed).
	EmptyPagesDenyAll EmptyPagesPolicy = iota
	// EmptyPagesFallback redirects denied path requirements to the
	// configured fallback route instead of the forbidden destination.
	EmptyPagesFallback
)

// Config controls a Guard instance.
type Config struct {
	// ForbiddenPath is the fixed destination for denied access.
	ForbiddenPath string
	// EmptyEntitlements selects behavior for sessions with zero pages.
	EmptyEntitlements EmptyPagesPolicy
	// FallbackPath is used with EmptyPagesFallback.
	FallbackPath string
}

// Guard evaluates requirements for one session instance and performs at
// most one redirect, regardless of how many times a deny is re-observed.
type Guard struct {
	cfg Config

	mu         sync.Mutex
	redirected bool
}

// New constructs a guard. An empty ForbiddenPath defaults to "/forbidden".
func New(cfg Config) *Guard {
	if cfg.ForbiddenPath == "" {
		cfg.ForbiddenPath = "/forbidden"
	}
	return &Guard{cfg: cfg}
}

// Resolve evaluates the requirement against the snapshot. On the first
// deny it returns the redirect destination; repeated denies return the
// decision with an empty destination so navigation cannot loop.
func (g *Guard) Resolve(snap session.Snapshot, req Requirement) (Decision, string) {
	decision := Evaluate(snap.Session, snap.Status, req)
	if decision != DecisionDeny {
		return decision, ""
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.redirected {
		return DecisionDeny, ""
	}
	g.redirected = true
	return DecisionDeny, g.target(snap, req)
}

// Reset re-arms the redirect, for reuse across navigations within the
// same session instance.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.redirected = false
	g.mu.Unlock()
}

func (g *Guard) target(snap session.Snapshot, req Requirement) string {
	if g.cfg.EmptyEntitlements == EmptyPagesFallback && g.cfg.FallbackPath != "" {
		if _, isPath := req.(PathRequirement); isPath &&
			snap.Status == session.StatusResolved &&
			snap.Session != nil && len(snap.Session.Pages) == 0 {
			return g.cfg.FallbackPath
		}
	}
	return g.cfg.ForbiddenPath
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// pathCovers reports whether granted covers requested: equality or a
// nested route below a path segment boundary. "/docs" covers
// "/docs/123/detail" but not "/documents".
func pathCovers(granted, requested string) bool {
	if granted == requested {
		return true
	}
	if granted == "/" {
		return true
	}
	return strings.HasPrefix(requested, granted+"/")
}
