package categoryrule

import (
	"context"
)

// Repository defines the interface for category rule data access.
type Repository interface {
	Create(ctx context.Context, params CreateRuleParams) (*Rule, error)
	GetByID(ctx context.Context, id int64) (*Rule, error)

	// ListByUserID returns the user's rules ordered by priority descending,
	// then creation time ascending. The matcher relies on this ordering.
	ListByUserID(ctx context.Context, userID int64) ([]*Rule, error)

	Update(ctx context.Context, id int64, params UpdateRuleParams) (*Rule, error)
	Delete(ctx context.Context, id int64) error
}
