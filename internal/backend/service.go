package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"portafirmas.dev/internal/firmas"
	"portafirmas.dev/internal/ids"
	"portafirmas.dev/internal/realtime"
	"portafirmas.dev/internal/session"
)

// Service provides the records operations behind the HTTP surface.
type Service struct {
	store  Store
	tokens *TokenService
	hub    *realtime.Hub
	now    func() time.Time
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the records service. The hub is optional; when
// present, workflow changes publish notification events.
func NewService(store Store, tokens *TokenService, hub *realtime.Hub, opts ...ServiceOption) *Service {
	s := &Service{store: store, tokens: tokens, hub: hub, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SupportsTokens reports whether token issuance is configured.
func (s *Service) SupportsTokens() bool { return s.tokens != nil }

// IssueToken authenticates the credentials and mints an access token.
func (s *Service) IssueToken(ctx context.Context, email, password string) (string, time.Time, *User, error) {
	if s.tokens == nil {
		return "", time.Time{}, nil, errors.New("backend: token issuance is not configured")
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}
	if user.Status != UserStatusActive {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}

	roles, err := s.store.Users(ctx).Roles(ctx, user.ID)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}

	token, expiresAt, err := s.tokens.Mint(strconv.FormatInt(user.ID, 10), names)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	return token, expiresAt, user, nil
}

// Authenticate verifies the access token and loads its principal.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	if s.tokens == nil {
		return Principal{}, ErrInvalidToken
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if user.Status != UserStatusActive {
		return Principal{}, ErrInvalidToken
	}
	return Principal{User: user, Roles: claims.Roles}, nil
}

// Profile resolves the session snapshot the portal consumes.
func (s *Service) Profile(ctx context.Context, principal Principal) (*session.Session, error) {
	pages, err := s.store.Users(ctx).Pages(ctx, principal.User.ID)
	if err != nil {
		return nil, err
	}
	return &session.Session{
		UserID:       principal.User.ID,
		Name:         principal.User.Name,
		Pages:        pages,
		Roles:        principal.Roles,
		SignatureURL: principal.User.SignatureURL,
		HasSignature: principal.User.HasSignature,
	}, nil
}

// RolePages lists the pages granted to a role.
func (s *Service) RolePages(ctx context.Context, roleID int64) ([]session.Page, error) {
	return s.store.Pages(ctx).ForRole(ctx, roleID)
}

// SetRolePages replaces a role's page grants.
func (s *Service) SetRolePages(ctx context.Context, roleID int64, pageIDs []int64) error {
	return s.store.Pages(ctx).SetForRole(ctx, roleID, pageIDs)
}

// Responsables returns the document's workflow assignment lists.
func (s *Service) Responsables(ctx context.Context, documentID int64) (*firmas.Responsables, error) {
	return s.store.Documents(ctx).Responsables(ctx, documentID)
}

// Entries returns the document's signature records.
func (s *Service) Entries(ctx context.Context, documentID int64) ([]firmas.Entry, error) {
	return s.store.Documents(ctx).Entries(ctx, documentID)
}

// Sign marks one of the caller's assignments signed and publishes a
// notification event.
func (s *Service) Sign(ctx context.Context, principal Principal, documentID, responsabilidadID int64) error {
	at := s.now().UTC()
	if err := s.store.Documents(ctx).Sign(ctx, documentID, responsabilidadID, principal.User.ID, at); err != nil {
		return err
	}
	s.publish(realtime.EventDocumentSigned, documentID, map[string]any{
		"user_id":            principal.User.ID,
		"responsabilidad_id": responsabilidadID,
	})
	return nil
}

func (s *Service) publish(eventType string, documentID int64, payload map[string]any) {
	if s.hub == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.hub.Publish(realtime.Event{
		ID:         ids.New(),
		Type:       eventType,
		DocumentID: documentID,
		Payload:    raw,
		Timestamp:  s.now().UTC(),
	})
}

// ParseID parses a positive decimal identifier from a path segment.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", ErrInvalidInput)
	}
	return id, nil
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("backend: password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
