package deal

import (
	"context"
)

// Repository defines the interface for deal persistence operations with IoC pattern
type Repository interface {
	// FindOneAndInsert inserts a new deal with callback for initialization
	FindOneAndInsert(ctx context.Context, id ID, callback func() (*Deal, error)) error

	// FindOneAndUpdate finds a deal by ID and applies callback for atomic update
	FindOneAndUpdate(ctx context.Context, id ID, callback func(*Deal) (*Deal, error)) error

	// GetByID retrieves a deal by ID (read-only); nil when missing
	GetByID(ctx context.Context, id ID) (*Deal, error)

	// ListByParticipant retrieves deals where the user is client or carrier
	ListByParticipant(ctx context.Context, userID string) ([]*Deal, error)

	// Delete removes a deal
	Delete(ctx context.Context, id ID) error
}
