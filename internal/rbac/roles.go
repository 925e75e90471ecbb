package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin      = "admin"
	RoleMember     = "member"
	RoleAgentTool  = "agent_tool" // machine role used by voice-agent tools to book meetings
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsKnownRole reports whether role can be minted into a token.
func IsKnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleMember, RoleAgentTool, RoleSuperAdmin:
		return true
	}
	return false
}
