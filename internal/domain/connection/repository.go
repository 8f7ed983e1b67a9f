package connection

import (
	"context"
	"time"
)

// Repository defines the interface for connection data access. Token columns
// are opaque ciphertext to the repository; it never decrypts.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Connection, error)
	GetByID(ctx context.Context, id string) (*Connection, error)
	ListByUserID(ctx context.Context, userID int64) ([]*Connection, error)

	// ListByStatus returns every connection in the given status across all
	// users. The scheduler uses it to pick up active connections.
	ListByStatus(ctx context.Context, status string) ([]*Connection, error)

	// FindActiveByUserAndBank returns the user's active connection to a bank,
	// or nil when there is none.
	FindActiveByUserAndBank(ctx context.Context, userID int64, bankName string) (*Connection, error)

	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
	UpdateStatus(ctx context.Context, id, status string, lastError *string) error
	UpdateLastSyncedAt(ctx context.Context, id string, syncedAt time.Time) error
}
