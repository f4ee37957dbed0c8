package rbac

type Role string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Allows reports whether role grants at least the access of required.
// Roles form a strict hierarchy: admin > member > viewer.
func Allows(role, required Role) bool {
	return level(role) >= level(required) && level(role) > 0
}

func level(role Role) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleMember:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleAdmin:
		return true
	default:
		return false
	}
}

func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleViewer
}
