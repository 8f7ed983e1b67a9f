package connection

import (
	"errors"
	"time"
)

// Connection statuses. The lifecycle only moves along the transitions in
// statusTransitions; everything else is rejected with ErrInvalidTransition.
const (
	StatusActive  = "active"
	StatusExpired = "expired" // credentials rejected, user must re-authorize
	StatusRevoked = "revoked" // terminal
	StatusError   = "error"   // last sync failed for a non-auth reason
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrForbidden          = errors.New("forbidden: connection does not belong to user")
	ErrNotActive          = errors.New("connection is not active")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

var statusTransitions = map[string][]string{
	StatusActive:  {StatusExpired, StatusRevoked, StatusError},
	StatusExpired: {StatusActive, StatusRevoked},
	StatusError:   {StatusActive, StatusExpired, StatusRevoked},
	StatusRevoked: {},
}

// CanTransition reports whether a connection may move from one status to
// another. Same-status writes are allowed so error details can be updated.
func CanTransition(from, to string) bool {
	if from == to {
		return from != StatusRevoked
	}
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Connection is one authorized link between a user and a bank. Token fields
// hold ciphertext as stored; only the service ever sees plaintext, and only
// transiently.
type Connection struct {
	ID             string     `json:"id"`
	UserID         int64      `json:"-"`
	BankName       string     `json:"bankName"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt time.Time  `json:"-"`
	LastSyncedAt   *time.Time `json:"lastSyncedAt,omitempty"`
	LastError      *string    `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type CreateParams struct {
	UserID         int64
	BankName       string
	Kind           string
	AccessToken    string // ciphertext
	RefreshToken   string // ciphertext
	TokenExpiresAt time.Time
}

func (p CreateParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.BankName == "" {
		return errors.New("bank name is required")
	}
	if p.Kind == "" {
		return errors.New("provider kind is required")
	}
	if p.AccessToken == "" {
		return errors.New("access token is required")
	}
	return nil
}
