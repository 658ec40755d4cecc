package directory

// Action labels the privileged operations the API gates on actor role.
type Action string

const (
	ActionApprove     Action = "approve"
	ActionDispatch    Action = "dispatch"
	ActionReceive     Action = "receive"
	ActionAdjustStock Action = "adjust_stock"
	ActionArchive     Action = "archive"
)

// Roles known to the workflow. The token carries the role as a plain
// string; unknown roles fall through to deny.
const (
	RoleAdmin         = "admin"
	RoleStoreManager  = "store_manager"
	RoleApprover      = "approver"
	RoleStorekeeper   = "storekeeper"
	RoleFacilityStaff = "facility_staff"
)

// Authorizer decides whether an actor role may perform an action. The
// handlers consult it through middleware; engines never see roles.
type Authorizer interface {
	Allows(role string, action Action) bool
}

// RolePolicy is the default authorizer. Approval is an approver
// concern, stock movement a storekeeper concern; store managers hold
// both and admins hold everything.
type RolePolicy struct{}

func (RolePolicy) Allows(role string, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleStoreManager:
		return true
	case RoleApprover:
		return action == ActionApprove || action == ActionArchive
	case RoleStorekeeper:
		return action == ActionDispatch || action == ActionAdjustStock || action == ActionReceive
	case RoleFacilityStaff:
		return action == ActionReceive
	}
	return false
}
