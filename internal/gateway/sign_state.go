package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"portafirmas.dev/internal/firmas"
	"portafirmas.dev/internal/session"
)

// handleSignState reports the resolved user's position in a document's
// signature workflow: ?document={id}. The signature facts come from the
// records backend, fetched with the portal credential.
func (g *Gateway) handleSignState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := g.resolver.Snapshot()
	if snap.Status != session.StatusResolved {
		writeError(w, r, http.StatusUnauthorized, "session not resolved")
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("document"))
	docID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || docID <= 0 {
		writeError(w, r, http.StatusBadRequest, "document id is required")
		return
	}

	entries, err := g.fetchFirmas(r.Context(), docID)
	if err != nil {
		var ue *upstreamError
		if errors.As(err, &ue) && ue.status == http.StatusNotFound {
			writeError(w, r, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, r, http.StatusBadGateway, "records backend unavailable")
		return
	}

	writeJSON(w, http.StatusOK, firmas.Resolve(entries, snap.Session.UserID))
}

// fetchFirmas loads a document's signature entries from the records
// backend with the current credential.
func (g *Gateway) fetchFirmas(ctx context.Context, docID int64) ([]firmas.Entry, error) {
	timeout := g.cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/documents/%d/firmas",
		strings.TrimRight(g.cfg.BackendBaseURL, "/"), docID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+string(g.store.Get()))
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: fetch firmas: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &upstreamError{status: resp.StatusCode}
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("gateway: decode firmas: %w", err)
	}
	return firmas.EntriesFromDocument(doc), nil
}

type upstreamError struct {
	status int
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("gateway: records backend returned %d", e.status)
}
