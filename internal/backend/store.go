package backend

import (
	"context"
	"time"

	"portafirmas.dev/internal/firmas"
	"portafirmas.dev/internal/session"
)

// Store describes persistence operations required by the records service.
type Store interface {
	Users(ctx context.Context) UserStore
	Pages(ctx context.Context) PageStore
	Documents(ctx context.Context) DocumentStore
}

// UserStore manages accounts and their role/page resolution.
type UserStore interface {
	Find(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Roles(ctx context.Context, userID int64) ([]Role, error)
	// Pages resolves the union of pages granted through the user's
	// roles, ordered by page order.
	Pages(ctx context.Context, userID int64) ([]session.Page, error)
}

// PageStore manages the page catalog and per-role grants.
type PageStore interface {
	List(ctx context.Context) ([]session.Page, error)
	ForRole(ctx context.Context, roleID int64) ([]session.Page, error)
	SetForRole(ctx context.Context, roleID int64, pageIDs []int64) error
}

// DocumentStore manages responsibility assignments and signature records.
type DocumentStore interface {
	Responsables(ctx context.Context, documentID int64) (*firmas.Responsables, error)
	Entries(ctx context.Context, documentID int64) ([]firmas.Entry, error)
	// Sign marks the assignment signed at the given instant. It fails
	// with ErrNotAssigned when the assignment does not belong to the
	// user and ErrAlreadySigned when it already carries a signature.
	Sign(ctx context.Context, documentID, responsabilidadID, userID int64, at time.Time) error
}
