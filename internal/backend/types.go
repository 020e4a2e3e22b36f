// Package backend implements the reference records service: user
// accounts, role entitlements, document signature workflows and access
// token issuance. The portal treats it as an opaque HTTP API; this
// implementation exists for development and standalone deployments.
package backend

import (
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("backend: not found")
	ErrInvalidInput       = errors.New("backend: invalid input")
	ErrInvalidCredentials = errors.New("backend: invalid credentials")
	ErrAlreadySigned      = errors.New("backend: assignment already signed")
	ErrNotAssigned        = errors.New("backend: user not assigned")
)

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is a portal account.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	SignatureURL string    `json:"signature_url,omitempty"`
	HasSignature bool      `json:"has_signature"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role groups page entitlements.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Principal is an authenticated user with resolved role names.
type Principal struct {
	User  *User
	Roles []string
}

// HasRole reports whether the principal carries the role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
