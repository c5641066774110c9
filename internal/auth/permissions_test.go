package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermAuditRead, true},
		{RoleViewer, PermStateWrite, false},
		{RoleViewer, PermRPCInvoke, false},
		{RoleOperator, PermAuditRead, true},
		{RoleOperator, PermStateWrite, true},
		{RoleOperator, PermRPCInvoke, true},
		{Role("guest"), PermAuditRead, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.perm), func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.want {
				t.Errorf("HasPermission() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPermissionsForRole_ReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleViewer)
	perms[0] = PermRPCInvoke
	if HasPermission(RoleViewer, PermRPCInvoke) {
		t.Error("mutating the returned slice changed the role table")
	}
}
