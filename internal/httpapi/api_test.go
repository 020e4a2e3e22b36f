package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"portafirmas.dev/internal/backend"
	"portafirmas.dev/internal/firmas"
	"portafirmas.dev/internal/realtime"
	"portafirmas.dev/internal/session"
)

// stubStore is an in-memory backend.Store seeded per test.
type stubStore struct {
	users     map[int64]*backend.User
	byEmail   map[string]*backend.User
	userRoles map[int64][]backend.Role
	userPages map[int64][]session.Page
	rolePages map[int64][]session.Page
	entries   map[int64][]firmas.Entry
	signErr   error
	signed    int
}

func newStubStore() *stubStore {
	return &stubStore{
		users:     make(map[int64]*backend.User),
		byEmail:   make(map[string]*backend.User),
		userRoles: make(map[int64][]backend.Role),
		userPages: make(map[int64][]session.Page),
		rolePages: make(map[int64][]session.Page),
		entries:   make(map[int64][]firmas.Entry),
	}
}

func (s *stubStore) seedUser(t *testing.T, id int64, email, password string, roles ...string) {
	t.Helper()
	hash, err := backend.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &backend.User{ID: id, Email: email, Name: "Test User", PasswordHash: hash, Status: backend.UserStatusActive}
	s.users[id] = u
	s.byEmail[email] = u
	for i, name := range roles {
		s.userRoles[id] = append(s.userRoles[id], backend.Role{ID: int64(i + 1), Name: name})
	}
}

func (s *stubStore) Users(ctx context.Context) backend.UserStore         { return stubUsers{s} }
func (s *stubStore) Pages(ctx context.Context) backend.PageStore         { return stubPages{s} }
func (s *stubStore) Documents(ctx context.Context) backend.DocumentStore { return stubDocs{s} }

type stubUsers struct{ s *stubStore }

func (u stubUsers) Find(ctx context.Context, id int64) (*backend.User, error) {
	user, ok := u.s.users[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return user, nil
}

func (u stubUsers) FindByEmail(ctx context.Context, email string) (*backend.User, error) {
	user, ok := u.s.byEmail[email]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return user, nil
}

func (u stubUsers) Roles(ctx context.Context, userID int64) ([]backend.Role, error) {
	return u.s.userRoles[userID], nil
}

func (u stubUsers) Pages(ctx context.Context, userID int64) ([]session.Page, error) {
	return u.s.userPages[userID], nil
}

type stubPages struct{ s *stubStore }

func (p stubPages) List(ctx context.Context) ([]session.Page, error) { return nil, nil }

func (p stubPages) ForRole(ctx context.Context, roleID int64) ([]session.Page, error) {
	return p.s.rolePages[roleID], nil
}

func (p stubPages) SetForRole(ctx context.Context, roleID int64, pageIDs []int64) error {
	pages := make([]session.Page, 0, len(pageIDs))
	for _, id := range pageIDs {
		pages = append(pages, session.Page{ID: id})
	}
	p.s.rolePages[roleID] = pages
	return nil
}

type stubDocs struct{ s *stubStore }

func (d stubDocs) Responsables(ctx context.Context, documentID int64) (*firmas.Responsables, error) {
	return &firmas.Responsables{}, nil
}

func (d stubDocs) Entries(ctx context.Context, documentID int64) ([]firmas.Entry, error) {
	return d.s.entries[documentID], nil
}

func (d stubDocs) Sign(ctx context.Context, documentID, responsabilidadID, userID int64, at time.Time) error {
	if d.s.signErr != nil {
		return d.s.signErr
	}
	d.s.signed++
	return nil
}

func newTestAPI(t *testing.T, store backend.Store) (*API, http.Handler) {
	t.Helper()
	tokens, err := backend.NewTokenService("test-secret", "records", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	svc := backend.NewService(store, tokens, realtime.NewHub())
	api := New(svc, realtime.NewHub(), ReadyProbe{}, "test")
	return api, api.Handler()
}

func issueToken(t *testing.T, h http.Handler, email, password string) string {
	t.Helper()
	body := `{"email":"` + email + `","password":"` + password + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token issuance status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("empty token")
	}
	return resp.Token
}

func authedRequest(method, target, body, token string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestHealthz(t *testing.T) {
	_, h := newTestAPI(t, newStubStore())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if rid := rec.Header().Get("X-Request-Id"); rid == "" {
		t.Fatal("missing X-Request-Id header")
	}
}

func TestAuthTokenInvalidCredentials(t *testing.T) {
	store := newStubStore()
	store.seedUser(t, 1, "ana@example.com", "s3cret")
	_, h := newTestAPI(t, store)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token",
		strings.NewReader(`{"email":"ana@example.com","password":"wrong"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
}

func TestAuthTokenRejectsUnknownFields(t *testing.T) {
	store := newStubStore()
	_, h := newTestAPI(t, store)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token",
		strings.NewReader(`{"email":"a@b.c","password":"x","extra":true}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestProfileRequiresAuth(t *testing.T) {
	store := newStubStore()
	store.seedUser(t, 1, "ana@example.com", "s3cret")
	_, h := newTestAPI(t, store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401 without token", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401 with invalid token", rec.Code)
	}
}

func TestProfileFlow(t *testing.T) {
	store := newStubStore()
	store.seedUser(t, 42, "ana@example.com", "s3cret", "FIRMANTE")
	store.userPages[42] = []session.Page{{ID: 1, Code: "docs", Path: "/docs"}}
	_, h := newTestAPI(t, store)

	token := issueToken(t, h, "ana@example.com", "s3cret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/users/me", "", token))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	var sess session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if sess.UserID != 42 || len(sess.Pages) != 1 || sess.Pages[0].Path != "/docs" {
		t.Fatalf("profile=%+v", sess)
	}
	if !sess.HasRole("FIRMANTE") {
		t.Fatalf("profile roles=%v, want FIRMANTE", sess.Roles)
	}
}

func TestRolePagesRequireAdministrador(t *testing.T) {
	store := newStubStore()
	store.seedUser(t, 1, "user@example.com", "s3cret", "FIRMANTE")
	store.seedUser(t, 2, "admin@example.com", "s3cret", "ADMINISTRADOR")
	_, h := newTestAPI(t, store)

	userToken := issueToken(t, h, "user@example.com", "s3cret")
	adminToken := issueToken(t, h, "admin@example.com", "s3cret")

	body := `{"page_ids":[1,2]}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodPut, "/v1/roles/3/pages", body, userToken))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin status=%d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodPut, "/v1/roles/3/pages", body, adminToken))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin status=%d body=%s, want 204", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/roles/3/pages", "", userToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status=%d, want 200", rec.Code)
	}
	var resp struct {
		Pages []session.Page `json:"pages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode pages: %v", err)
	}
	if len(resp.Pages) != 2 {
		t.Fatalf("pages=%d, want 2", len(resp.Pages))
	}
}

func TestFirmasNestedShape(t *testing.T) {
	store := newStubStore()
	store.seedUser(t, 1, "ana@example.com", "s3cret")
	store.entries[9] = []firmas.Entry{{UserID: 1, Firmado: true}}
	_, h := newTestAPI(t, store)

	token := issueToken(t, h, "ana@example.com", "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/documents/9/firmas", "", token))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	entries := firmas.EntriesFromDocument(doc)
	if len(entries) != 1 || entries[0].UserID != 1 {
		t.Fatalf("entries=%+v, want one entry for user 1", entries)
	}
}

func TestSignStateReflectsCallerAssignments(t *testing.T) {
	store := newStubStore()
	store.seedUser(t, 1, "ana@example.com", "s3cret")
	signedAt := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	store.entries[9] = []firmas.Entry{
		{UserID: 1, Firmado: true, FechaFirma: &signedAt},
		{UserID: 2, Firmado: false},
	}
	_, h := newTestAPI(t, store)

	token := issueToken(t, h, "ana@example.com", "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/documents/9/sign-state", "", token))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	var state firmas.State
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !state.Assigned || !state.Signed {
		t.Fatalf("state=%+v, want assigned and signed", state)
	}
	if state.LastSignedAt == nil || !state.LastSignedAt.Equal(signedAt) {
		t.Fatalf("last signed at=%v, want %v", state.LastSignedAt, signedAt)
	}

	// A user with no assignment on the document gets the zero state.
	store.seedUser(t, 2, "luis@example.com", "s3cret")
	store.entries[11] = []firmas.Entry{{UserID: 1}}
	token = issueToken(t, h, "luis@example.com", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/documents/11/sign-state", "", token))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	state = firmas.State{}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Assigned || state.Signed || state.LastSignedAt != nil {
		t.Fatalf("state=%+v, want zero state", state)
	}
}

func TestFirmarFlow(t *testing.T) {
	store := newStubStore()
	store.seedUser(t, 1, "ana@example.com", "s3cret", "FIRMANTE")
	_, h := newTestAPI(t, store)

	token := issueToken(t, h, "ana@example.com", "s3cret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/documents/9/firmar", `{"responsabilidad_id":4}`, token))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%s, want 204", rec.Code, rec.Body.String())
	}
	if store.signed != 1 {
		t.Fatalf("signed=%d, want 1", store.signed)
	}

	store.signErr = backend.ErrAlreadySigned
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/documents/9/firmar", `{"responsabilidad_id":4}`, token))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409 for duplicate signature", rec.Code)
	}

	store.signErr = backend.ErrNotAssigned
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/documents/9/firmar", `{"responsabilidad_id":4}`, token))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403 when not assigned", rec.Code)
	}
}

func TestDocumentRoutesValidation(t *testing.T) {
	store := newStubStore()
	store.seedUser(t, 1, "ana@example.com", "s3cret")
	_, h := newTestAPI(t, store)
	token := issueToken(t, h, "ana@example.com", "s3cret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/documents/abc/firmas", "", token))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid id status=%d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/documents/9/unknown", "", token))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown subresource status=%d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodDelete, "/v1/documents/9/firmas", "", token))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
		t.Fatalf("Allow=%q, want GET", allow)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"Bearer   abc  ", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("extractBearerToken(%q) expected error", tc.header)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("extractBearerToken(%q)=(%q,%v), want %q", tc.header, got, err, tc.want)
		}
	}
}

func TestRateLimit(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimit(next, 2, 1)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
		req.RemoteAddr = "203.0.113.7:9999"
		h.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("statuses=%v, first two should pass the burst", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third status=%d, want 429", statuses[2])
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight should not reach the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/v1/auth/token", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Allow-Origin=%q", got)
	}
}

func TestUnknownRoute(t *testing.T) {
	store := newStubStore()
	store.seedUser(t, 1, "ana@example.com", "s3cret")
	_, h := newTestAPI(t, store)

	// Unauthenticated requests fail closed before routing.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401 without token", rec.Code)
	}

	token := issueToken(t, h, "ana@example.com", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/nope", "", token))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}
