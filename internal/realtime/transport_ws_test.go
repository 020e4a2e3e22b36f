package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

func TestWSTransportConnectAndReceive(t *testing.T) {
	tokens := make(chan string, 1)
	srv := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		tokens <- conn.Request().URL.Query().Get("access_token")
		evt := Event{ID: "e1", Type: EventDocumentAssigned, DocumentID: 3, Timestamp: time.Now().UTC()}
		_ = json.NewEncoder(conn).Encode(evt)
		// Hold the connection open until the client closes it.
		var buf [1]byte
		_, _ = conn.Read(buf[:])
	}))
	defer srv.Close()

	tr := &WSTransport{Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http")}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := tr.Connect(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	select {
	case token := <-tokens:
		if token != "tok-1" {
			t.Fatalf("access_token=%q, want tok-1", token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never reached the server")
	}

	select {
	case evt := <-conn.Events():
		if evt.ID != "e1" || evt.DocumentID != 3 {
			t.Fatalf("event=%+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestWSTransportEventsCloseOnServerEnd(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		// Close immediately; the client's read loop must end its channel.
	}))
	defer srv.Close()

	tr := &WSTransport{Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http")}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := tr.Connect(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel never closed")
	}
}

func TestWSTransportCloseUnblocksStalledReader(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		// Flood well past the client's buffer while nothing drains it.
		enc := json.NewEncoder(conn)
		for i := 0; i < 64; i++ {
			if err := enc.Encode(Event{ID: "e", Type: EventDocumentSigned, DocumentID: int64(i)}); err != nil {
				return
			}
		}
		var buf [1]byte
		_, _ = conn.Read(buf[:])
	}))
	defer srv.Close()

	tr := &WSTransport{Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http")}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := tr.Connect(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Give the read loop time to fill the buffer and stall on the send.
	time.Sleep(50 * time.Millisecond)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The read loop must exit and end the channel even though nobody
	// consumed the buffered events before Close.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-conn.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after Close")
		}
	}
}

func TestWSTransportRejectsEmptyCredential(t *testing.T) {
	tr := &WSTransport{Endpoint: "ws://127.0.0.1:1/ws"}
	if _, err := tr.Connect(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty credential")
	}
}

func TestWSTransportHonorsContextCancel(t *testing.T) {
	// Nothing listens here; Connect must keep retrying until the context
	// ends, then return its error.
	tr := &WSTransport{Endpoint: "ws://127.0.0.1:1/ws"}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tr.Connect(ctx, "tok-1")
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("Connect did not return promptly after cancellation")
	}
}

func TestEventMarshalShape(t *testing.T) {
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	evt := Event{ID: "01ABC", Type: EventDocumentSigned, DocumentID: 9, Payload: json.RawMessage(`{"user_id":5}`), Timestamp: at}
	raw, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != EventDocumentSigned || decoded.DocumentID != 9 {
		t.Fatalf("decoded=%+v", decoded)
	}
	if !strings.Contains(string(raw), `"document_id":9`) {
		t.Fatalf("wire shape=%s", raw)
	}
}
