package rbac

// Role names. Keep these stable; they are carried in issued credentials.
const (
	RoleAgent      = "agent"
	RoleSupervisor = "supervisor"
	RoleOwner      = "owner"
	RoleSuperAdmin = "super_admin"
)

// DeskRoles may read and write their own call records.
var DeskRoles = []string{RoleAgent, RoleSupervisor, RoleOwner}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// CanReadTeam reports whether role may list another agent's records in its workspace.
func CanReadTeam(role string) bool {
	switch role {
	case RoleSupervisor, RoleOwner, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

func IsKnownRole(role string) bool {
	switch role {
	case RoleAgent, RoleSupervisor, RoleOwner, RoleSuperAdmin:
		return true
	default:
		return false
	}
}
