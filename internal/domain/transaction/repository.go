package transaction

import (
	"context"
)

// Repository defines the interface for transaction data access.
type Repository interface {
	Create(ctx context.Context, params CreateTransactionParams) (*Transaction, error)
	GetByID(ctx context.Context, id string) (*Transaction, error)
	ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*Transaction, error)
	ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*Transaction, error)
	CountByUserID(ctx context.Context, userID int64) (int64, error)
	Delete(ctx context.Context, id string) error

	// ExistingFingerprints returns which of the given fingerprints are already
	// stored for the account. One round trip per import batch.
	ExistingFingerprints(ctx context.Context, accountID string, fingerprints []string) (map[string]struct{}, error)
}
