package auth

import (
	"errors"
	"slices"
)

// Role is the authorisation tier carried in a token.
type Role string

const (
	// RoleViewer may read channels, status and events.
	RoleViewer Role = "viewer"

	// RoleOperator may also drive channels and clear protection latches.
	RoleOperator Role = "operator"

	// RoleAdmin may also apply layouts and reset the safe state.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role, least privileged first.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenMissing = errors.New("missing bearer token")
	ErrNoSecret     = errors.New("jwt secret not configured")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
)
