package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"portafirmas.dev/internal/audit"
	"portafirmas.dev/internal/backend"
	"portafirmas.dev/internal/firmas"
)

type signRequest struct {
	ResponsabilidadID int64 `json:"responsabilidad_id"`
}

// handleDocumentResource routes /v1/documents/{id}/{responsables|firmas|firmar}.
func (a *API) handleDocumentResource(w http.ResponseWriter, r *http.Request) {
	if a.svc == nil {
		writeError(w, r, http.StatusServiceUnavailable, "records service unavailable")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	documentID, err := backend.ParseID(parts[0])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid document id")
		return
	}

	switch parts[1] {
	case "responsables":
		a.handleResponsables(w, r, documentID)
	case "firmas":
		a.handleFirmas(w, r, documentID)
	case "firmar":
		a.handleFirmar(w, r, documentID)
	case "sign-state":
		a.handleSignState(w, r, documentID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleResponsables(w http.ResponseWriter, r *http.Request, documentID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	responsables, err := a.svc.Responsables(r.Context(), documentID)
	if err != nil {
		handleBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responsables)
}

// handleFirmas serves the signature board nested under cuadro_firmas,
// the shape portal clients normalize with the entries adapter.
func (a *API) handleFirmas(w http.ResponseWriter, r *http.Request, documentID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	entries, err := a.svc.Entries(r.Context(), documentID)
	if err != nil {
		handleBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cuadro_firmas": map[string]any{"firmas": entries},
	})
}

// handleSignState derives the caller's own assignment and sign state
// from the document's signature board.
func (a *API) handleSignState(w http.ResponseWriter, r *http.Request, documentID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := backend.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	entries, err := a.svc.Entries(r.Context(), documentID)
	if err != nil {
		handleBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, firmas.Resolve(entries, principal.User.ID))
}

func (a *API) handleFirmar(w http.ResponseWriter, r *http.Request, documentID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := backend.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req signRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.ResponsabilidadID <= 0 {
		writeError(w, r, http.StatusBadRequest, "responsabilidad_id is required")
		return
	}

	ctx := audit.WithActor(r.Context(), strconv.FormatInt(principal.User.ID, 10))
	if err := a.svc.Sign(ctx, principal, documentID, req.ResponsabilidadID); err != nil {
		handleBackendError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "firmas.document.signed", map[string]any{
		"document_id":        documentID,
		"responsabilidad_id": req.ResponsabilidadID,
	})
	w.WriteHeader(http.StatusNoContent)
}
