package shared

import (
	"github.com/google/uuid"
)

// ID represents a unique identifier
type ID string

// NewID generates a new unique ID
func NewID() ID {
	return ID(uuid.New().String())
}

// String returns the string representation of ID
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if ID is empty
func (id ID) IsEmpty() bool {
	return string(id) == ""
}

// Role is the marketplace role carried in access tokens
type Role string

const (
	RoleClient  Role = "client"
	RoleCarrier Role = "carrier"
	RoleAdmin   Role = "admin"
)

// IsValid checks if role is one of the known roles
func (r Role) IsValid() bool {
	switch r {
	case RoleClient, RoleCarrier, RoleAdmin:
		return true
	}
	return false
}
