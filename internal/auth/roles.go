package auth

// Role is the access level carried in a user's token claims. Roles are
// strictly ordered: every admin can do what an operator can, every operator
// what a viewer can.
type Role string

const (
	// RoleViewer grants read access to twin data.
	RoleViewer Role = "viewer"
	// RoleOperator additionally grants mutating twin operations such as
	// inserting readings or registering sensors.
	RoleOperator Role = "operator"
	// RoleAdmin additionally grants destructive operations and user
	// management.
	RoleAdmin Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole parses a role string. Unknown roles report false rather than
// defaulting, so callers cannot silently grant an unintended level.
func NormalizeRole(value string) (Role, bool) {
	role := Role(value)
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role meets or exceeds required. Unknown roles
// rank below every known role.
func RoleAtLeast(role, required Role) bool {
	return roleRanks[role] >= roleRanks[required]
}
