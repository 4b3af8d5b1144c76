package lending

import "github.com/google/uuid"

// Role identifies the privilege level of an acting user.
// The authentication layer verifies it; the engine trusts it.
type Role string

const (
	// RoleUser is a regular library member.
	RoleUser Role = "user"

	// RoleAdmin may return any loan, view any history, and manage records.
	RoleAdmin Role = "admin"
)

// User is the engine's read-only view of a library member.
// The borrowing quota is consulted but never mutated by the engine.
type User struct {
	ID              uuid.UUID
	Name            string
	Role            Role
	MaxBooksAllowed int
}
