package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientFetchProfile(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/users/me" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":12,"name":"Ana","pages":[{"id":1,"code":"docs","name":"Documentos","path":"/docs"}],"roles":["FIRMANTE"],"has_signature":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	sess, err := c.FetchProfile(context.Background(), "tok-abc")
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Fatalf("Authorization=%q, want bearer credential", gotAuth)
	}
	if sess.UserID != 12 || len(sess.Pages) != 1 || sess.Pages[0].Path != "/docs" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if !sess.HasSignature {
		t.Fatal("HasSignature=false, want true")
	}
}

func TestClientFetchProfileNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.FetchProfile(context.Background(), "expired"); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestClientFetchProfileEmptyCredential(t *testing.T) {
	c := NewClient("http://127.0.0.1:0")
	if _, err := c.FetchProfile(context.Background(), ""); err != ErrNoCredential {
		t.Fatalf("err=%v, want ErrNoCredential", err)
	}
}
