package guard

import (
	"errors"
	"testing"

	"portafirmas.dev/internal/session"
)

func sessWithPages(paths ...string) *session.Session {
	s := &session.Session{}
	for i, p := range paths {
		s.Pages = append(s.Pages, session.Page{ID: int64(i + 1), Path: p})
	}
	return s
}

func TestPathRequirementSegmentBoundary(t *testing.T) {
	sess := sessWithPages("/docs", "/reports")
	cases := []struct {
		path string
		want Decision
	}{
		{"/docs", DecisionAllow},
		{"/docs/", DecisionAllow},
		{"/docs/123", DecisionAllow},
		{"/docs/123/detail", DecisionAllow},
		{"/documents", DecisionDeny},
		{"/docsextra", DecisionDeny},
		{"/reports", DecisionAllow},
		{"/", DecisionDeny},
	}
	for _, tc := range cases {
		got := Evaluate(sess, session.StatusResolved, PathRequirement{Path: tc.path})
		if got != tc.want {
			t.Fatalf("Evaluate(%q)=%v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestRootPageCoversEverything(t *testing.T) {
	sess := sessWithPages("/")
	for _, path := range []string{"/", "/docs", "/anything/nested"} {
		if got := Evaluate(sess, session.StatusResolved, PathRequirement{Path: path}); got != DecisionAllow {
			t.Fatalf("Evaluate(%q)=%v, want allow", path, got)
		}
	}
}

func TestEvaluateLifecycle(t *testing.T) {
	sess := sessWithPages("/docs")
	req := PathRequirement{Path: "/docs"}
	cases := []struct {
		status session.Status
		want   Decision
	}{
		{session.StatusLoading, DecisionPending},
		{session.StatusResolved, DecisionAllow},
		{session.StatusIdle, DecisionDeny},
		{session.StatusError, DecisionDeny},
	}
	for _, tc := range cases {
		if got := Evaluate(sess, tc.status, req); got != tc.want {
			t.Fatalf("Evaluate(status=%v)=%v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestRoleRequirementAnyOf(t *testing.T) {
	sess := &session.Session{Roles: []string{"FIRMANTE"}}
	req := RoleRequirement{Roles: []string{"ADMINISTRADOR", "firmante"}}
	if got := Evaluate(sess, session.StatusResolved, req); got != DecisionAllow {
		t.Fatalf("Evaluate=%v, want allow", got)
	}
	req = RoleRequirement{Roles: []string{"ADMINISTRADOR"}}
	if got := Evaluate(sess, session.StatusResolved, req); got != DecisionDeny {
		t.Fatalf("Evaluate=%v, want deny", got)
	}
}

func TestGuardRedirectsOnce(t *testing.T) {
	g := New(Config{})
	snap := session.Snapshot{Session: sessWithPages("/docs"), Status: session.StatusResolved}
	req := PathRequirement{Path: "/admin"}

	decision, redirect := g.Resolve(snap, req)
	if decision != DecisionDeny || redirect != "/forbidden" {
		t.Fatalf("first Resolve=(%v,%q), want deny with /forbidden", decision, redirect)
	}
	decision, redirect = g.Resolve(snap, req)
	if decision != DecisionDeny || redirect != "" {
		t.Fatalf("second Resolve=(%v,%q), want deny without redirect", decision, redirect)
	}

	g.Reset()
	_, redirect = g.Resolve(snap, req)
	if redirect != "/forbidden" {
		t.Fatalf("Resolve after Reset redirect=%q, want /forbidden", redirect)
	}
}

func TestGuardAllowDoesNotConsumeRedirect(t *testing.T) {
	g := New(Config{ForbiddenPath: "/denied"})
	snap := session.Snapshot{Session: sessWithPages("/docs"), Status: session.StatusResolved}

	if decision, _ := g.Resolve(snap, PathRequirement{Path: "/docs/1"}); decision != DecisionAllow {
		t.Fatalf("decision=%v, want allow", decision)
	}
	_, redirect := g.Resolve(snap, PathRequirement{Path: "/admin"})
	if redirect != "/denied" {
		t.Fatalf("redirect=%q, want /denied", redirect)
	}
}

func TestGuardPendingWhileLoading(t *testing.T) {
	g := New(Config{})
	snap := session.Snapshot{Status: session.StatusLoading}
	decision, redirect := g.Resolve(snap, PathRequirement{Path: "/docs"})
	if decision != DecisionPending || redirect != "" {
		t.Fatalf("Resolve while loading=(%v,%q), want pending without redirect", decision, redirect)
	}
}

func TestGuardErrorFailsClosed(t *testing.T) {
	g := New(Config{})
	snap := session.Snapshot{Status: session.StatusError, Err: errors.New("fetch failed")}
	decision, redirect := g.Resolve(snap, PathRequirement{Path: "/docs"})
	if decision != DecisionDeny || redirect != "/forbidden" {
		t.Fatalf("Resolve on error=(%v,%q), want deny with /forbidden", decision, redirect)
	}
}

func TestGuardEmptyPagesFallback(t *testing.T) {
	g := New(Config{EmptyEntitlements: EmptyPagesFallback, FallbackPath: "/welcome"})
	snap := session.Snapshot{Session: &session.Session{}, Status: session.StatusResolved}

	_, redirect := g.Resolve(snap, PathRequirement{Path: "/docs"})
	if redirect != "/welcome" {
		t.Fatalf("redirect=%q, want fallback /welcome", redirect)
	}

	// Role denials still go to the forbidden destination.
	g.Reset()
	_, redirect = g.Resolve(snap, RoleRequirement{Roles: []string{"ADMINISTRADOR"}})
	if redirect != "/forbidden" {
		t.Fatalf("role denial redirect=%q, want /forbidden", redirect)
	}
}

func TestGuardEmptyPagesDenyAllDefault(t *testing.T) {
	g := New(Config{})
	snap := session.Snapshot{Session: &session.Session{}, Status: session.StatusResolved}
	_, redirect := g.Resolve(snap, PathRequirement{Path: "/docs"})
	if redirect != "/forbidden" {
		t.Fatalf("redirect=%q, want /forbidden", redirect)
	}
}
