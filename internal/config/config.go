// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Portal configures the gateway process.
type Portal struct {
	Addr string `env:"PORTAL_ADDR" envDefault:":8080"`

	// BackendBaseURL is the records backend the proxy and session
	// resolver talk to.
	BackendBaseURL string `env:"PORTAL_BACKEND_URL" envDefault:"http://localhost:8081"`

	// EventsURL is the backend websocket notification endpoint.
	EventsURL string `env:"PORTAL_EVENTS_URL" envDefault:"ws://localhost:8081/v1/events/ws"`

	// ProxyPrefix is the path prefix forwarded verbatim to the backend.
	ProxyPrefix string `env:"PORTAL_PROXY_PREFIX" envDefault:"/api"`

	// CookieName is the HTTP-only cookie carrying the access token for
	// the cookie-credential proxy variant.
	CookieName string `env:"PORTAL_TOKEN_COOKIE" envDefault:"access_token"`

	// ForbiddenPath is the fixed destination for denied access.
	ForbiddenPath string `env:"PORTAL_FORBIDDEN_PATH" envDefault:"/forbidden"`

	// FallbackPath, when set, is where sessions without any granted
	// pages are sent instead of the forbidden destination.
	FallbackPath string `env:"PORTAL_FALLBACK_PATH"`

	FetchTimeout time.Duration `env:"PORTAL_FETCH_TIMEOUT" envDefault:"15s"`

	RateLimitPerSecond int `env:"PORTAL_RATE_LIMIT" envDefault:"50"`
	RateLimitBurst     int `env:"PORTAL_RATE_BURST" envDefault:"100"`
}

// Records configures the reference records backend.
type Records struct {
	Addr string `env:"RECORDS_ADDR" envDefault:":8081"`

	// DSN is the Postgres connection string; empty runs without a
	// database (health endpoints only).
	DSN string `env:"RECORDS_PG_DSN"`

	// TokenSecret signs access tokens (HS256).
	TokenSecret string `env:"RECORDS_TOKEN_SECRET"`

	TokenTTL time.Duration `env:"RECORDS_TOKEN_TTL" envDefault:"15m"`

	Issuer string `env:"RECORDS_TOKEN_ISSUER" envDefault:"portafirmas"`
}

// LoadPortal parses portal configuration from the environment.
func LoadPortal() (Portal, error) {
	var cfg Portal
	if err := env.Parse(&cfg); err != nil {
		return Portal{}, fmt.Errorf("config: parse portal env: %w", err)
	}
	return cfg, nil
}

// LoadRecords parses records backend configuration from the environment.
func LoadRecords() (Records, error) {
	var cfg Records
	if err := env.Parse(&cfg); err != nil {
		return Records{}, fmt.Errorf("config: parse records env: %w", err)
	}
	return cfg, nil
}
