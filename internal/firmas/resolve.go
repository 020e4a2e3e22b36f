package firmas

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// State is a user's derived position in a document's signature workflow.
type State struct {
	// Assigned reports whether the user holds at least one
	// responsibility assignment on the document.
	Assigned bool `json:"assigned"`
	// Signed reports whether at least one of those assignments is
	// signed.
	Signed bool `json:"signed"`
	// LastSignedAt is the most recent signature timestamp among the
	// user's signed assignments, nil when none carries one.
	LastSignedAt *time.Time `json:"last_signed_at,omitempty"`
}

// Resolve computes a user's assignment and sign state across all entries
// belonging to it. The user id accepts the numeric and string forms the
// backend emits; an id that does not normalize to a finite number yields
// the zero state rather than an error; this feeds read-only state and
// must never panic.
func Resolve(entries []Entry, userID any) State {
	id, ok := normalizeUserID(userID)
	if !ok {
		return State{}
	}

	var st State
	for _, e := range entries {
		if e.UserID != id {
			continue
		}
		st.Assigned = true
		if !e.Firmado {
			continue
		}
		st.Signed = true
		if e.FechaFirma == nil {
			continue
		}
		if st.LastSignedAt == nil || e.FechaFirma.After(*st.LastSignedAt) {
			t := *e.FechaFirma
			st.LastSignedAt = &t
		}
	}
	return st
}

func normalizeUserID(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}
