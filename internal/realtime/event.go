// Package realtime owns the credential-bound notification channel: a
// manager that keeps exactly one logical connection per portal session
// and rebinds it whenever the credential rotates, plus the fan-out hub
// that delivers received events to consumers.
package realtime

import (
	"encoding/json"
	"time"
)

// Event kinds pushed by the records backend.
const (
	EventDocumentAssigned = "document.assigned"
	EventDocumentSigned   = "document.signed"
	EventDocumentAdvanced = "document.advanced"
)

// Event is one notification delivered over the channel.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	DocumentID int64           `json:"document_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
