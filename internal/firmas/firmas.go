// Package firmas models the multi-party signature workflow: a document
// moves through ELABORA, REVISA, APRUEBA and ENTERADO responsibility
// roles, each assignment carrying its own sign state.
package firmas

import (
	"encoding/json"
	"time"
)

// Responsibility role names as issued by the records backend.
const (
	RolElabora  = "ELABORA"
	RolRevisa   = "REVISA"
	RolAprueba  = "APRUEBA"
	RolEnterado = "ENTERADO"
)

// Asignacion is one responsibility assignment row. A user may hold
// several assignments on the same document (e.g. both REVISA and
// APRUEBA); those are independent rows, never deduplicated.
type Asignacion struct {
	UserID            int64  `json:"userId"`
	Nombre            string `json:"nombre"`
	Puesto            string `json:"puesto"`
	Gerencia          string `json:"gerencia"`
	ResponsabilidadID int64  `json:"responsabilidadId"`
}

// Responsables is the per-document workflow assignment: one optional
// author plus the ordered reviewer, approver and acknowledger lists.
type Responsables struct {
	Elabora  *Asignacion  `json:"elabora,omitempty"`
	Revisa   []Asignacion `json:"revisa"`
	Aprueba  []Asignacion `json:"aprueba"`
	Enterado []Asignacion `json:"enterado"`
}

// Entry is a signature fact record, one per responsibility assignment.
// The client only reads entries; it never mutates them.
type Entry struct {
	UserID     int64      `json:"userId"`
	Firmado    bool       `json:"estaFirmado"`
	FechaFirma *time.Time `json:"fecha_firma,omitempty"`
}

// EntriesFromDocument extracts signature entries from a raw document
// object. Backends embed them either as a direct "firmas" array or
// nested under "cuadro_firmas"; both shapes normalize to one canonical
// slice. A document with neither is treated as having no entries.
func EntriesFromDocument(doc map[string]json.RawMessage) []Entry {
	if doc == nil {
		return nil
	}
	if raw, ok := doc["firmas"]; ok {
		if entries := decodeEntries(raw); entries != nil {
			return entries
		}
	}
	if raw, ok := doc["cuadro_firmas"]; ok {
		var nested struct {
			Firmas json.RawMessage `json:"firmas"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && nested.Firmas != nil {
			return decodeEntries(nested.Firmas)
		}
	}
	return nil
}

func decodeEntries(raw json.RawMessage) []Entry {
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	return entries
}
