package account

import (
	"context"
)

// Repository defines the interface for account persistence operations
type Repository interface {
	// FindOneAndInsert inserts a new account
	FindOneAndInsert(ctx context.Context, userID string, callback func() (*Account, error)) error

	// FindOneAndUpdate finds an account and applies callback for atomic update
	FindOneAndUpdate(ctx context.Context, userID string, callback func(*Account) (*Account, error)) error

	// GetByID retrieves an account (read-only); nil when missing
	GetByID(ctx context.Context, userID string) (*Account, error)

	// ListByRole retrieves every account registered in role
	ListByRole(ctx context.Context, role string) ([]*Account, error)
}
