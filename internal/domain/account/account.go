package account

import (
	"strings"
	"time"

	"github.com/danghamo/haulnav/internal/domain/shared"
)

// Account is a marketplace user. A user ID is bound to one role for life.
type Account struct {
	UserID      string      `json:"user_id"`
	Role        shared.Role `json:"role"`
	DisplayName string      `json:"display_name,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	LastLoginAt time.Time   `json:"last_login_at"`
}

// NewAccount registers a user in a role
func NewAccount(userID string, role shared.Role, displayName string) (*Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, shared.ErrInvalidInput("user id is required")
	}
	if len(userID) > 128 {
		return nil, shared.ErrInvalidInput("user id is too long")
	}
	if !role.IsValid() {
		return nil, shared.NewDomainErrorf(shared.ErrCodeInvalidInput, "invalid role %q", role)
	}

	now := time.Now()
	return &Account{
		UserID:      userID,
		Role:        role,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   now,
		LastLoginAt: now,
	}, nil
}

// Login records a sign-in. A different role than the registered one is refused.
func (a *Account) Login(role shared.Role) error {
	if role != a.Role {
		return shared.NewDomainErrorf(shared.ErrCodeForbidden, "user %s is registered as %s", a.UserID, a.Role)
	}
	a.LastLoginAt = time.Now()
	return nil
}
