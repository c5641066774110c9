package auth

import "slices"

// Permission is a named API capability.
type Permission string

const (
	PermAuditRead  Permission = "audit:read"
	PermStateWrite Permission = "state:write"
	PermRPCInvoke  Permission = "rpc:invoke"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermAuditRead,
	},
	RoleOperator: {
		PermAuditRead,
		PermStateWrite,
		PermRPCInvoke,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the permissions role grants.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}
