package auth

import "slices"

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermChannelRead     Permission = "channel:read"
	PermChannelWrite    Permission = "channel:write"
	PermProtectionClear Permission = "protection:clear"
	PermLayoutApply     Permission = "layout:apply"
	PermSafeStateReset  Permission = "safe_state:reset"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermChannelRead,
	},
	RoleOperator: {
		PermChannelRead,
		PermChannelWrite,
		PermProtectionClear,
	},
	RoleAdmin: {
		PermChannelRead,
		PermChannelWrite,
		PermProtectionClear,
		PermLayoutApply,
		PermSafeStateReset,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}
