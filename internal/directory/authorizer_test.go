package directory

import "testing"

func TestRolePolicy(t *testing.T) {
	policy := RolePolicy{}

	cases := []struct {
		role    string
		action  Action
		allowed bool
	}{
		{RoleAdmin, ActionApprove, true},
		{RoleAdmin, ActionAdjustStock, true},
		{RoleStoreManager, ActionDispatch, true},
		{RoleStoreManager, ActionApprove, true},
		{RoleApprover, ActionApprove, true},
		{RoleApprover, ActionArchive, true},
		{RoleApprover, ActionDispatch, false},
		{RoleApprover, ActionAdjustStock, false},
		{RoleStorekeeper, ActionDispatch, true},
		{RoleStorekeeper, ActionAdjustStock, true},
		{RoleStorekeeper, ActionReceive, true},
		{RoleStorekeeper, ActionApprove, false},
		{RoleFacilityStaff, ActionReceive, true},
		{RoleFacilityStaff, ActionDispatch, false},
		{"", ActionApprove, false},
		{"auditor", ActionReceive, false},
	}
	for _, tc := range cases {
		if got := policy.Allows(tc.role, tc.action); got != tc.allowed {
			t.Errorf("Allows(%q, %s) = %v, expected %v", tc.role, tc.action, got, tc.allowed)
		}
	}
}
