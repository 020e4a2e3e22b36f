// Package proxy forwards portal API traffic to the records backend,
// preserving the request verbatim and surfacing upstream responses,
// including redirects, unmodified.
package proxy

import (
	"io"
	"net/http"
	"strings"

	"portafirmas.dev/internal/obs"
)

// hop-by-hop headers are stripped in both directions.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder proxies requests under a path prefix to an upstream base URL.
type Forwarder struct {
	upstream string
	prefix   string
	httpc    *http.Client

	// cookieName, when set, names the HTTP-only cookie whose value is
	// attached as the bearer credential before forwarding.
	cookieName string
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient overrides the upstream client. The client must not
// follow redirects; New installs that policy on the default.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Forwarder) {
		if hc != nil {
			f.httpc = hc
		}
	}
}

// WithCookieCredential enables the cookie-credential variant: the value
// of the named cookie replaces the Authorization header server-side.
func WithCookieCredential(name string) Option {
	return func(f *Forwarder) { f.cookieName = name }
}

// New constructs a forwarder that maps prefix-relative paths onto the
// upstream base URL.
func New(upstream, prefix string, opts ...Option) *Forwarder {
	f := &Forwarder{
		upstream: strings.TrimRight(upstream, "/"),
		prefix:   strings.TrimRight(prefix, "/"),
		httpc: &http.Client{
			// Redirects belong to the caller, not the proxy.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ServeHTTP forwards the request and writes the upstream response
// verbatim: same status, same headers, same body.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := f.upstream + strings.TrimPrefix(r.URL.Path, f.prefix)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		http.Error(w, "bad proxy request", http.StatusBadGateway)
		return
	}

	copyHeaders(req.Header, r.Header)
	req.Header.Del("Host")
	req.Header.Del("Content-Length")

	if f.cookieName != "" {
		if cookie, err := r.Cookie(f.cookieName); err == nil && cookie.Value != "" {
			req.Header.Set("Authorization", "Bearer "+cookie.Value)
		}
	}

	resp, err := f.httpc.Do(req)
	if err != nil {
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	obs.ProxyResponse(resp.StatusCode)

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(h, key) {
			return true
		}
	}
	return false
}
