package auth

import "strings"

// Role is the access level a user holds across the sites assigned to them.
// Site assignment and role are orthogonal: the role says what a user may do,
// the site list says where. Admins are the exception and see every site.
type Role string

const (
	// RoleViewer reads dashboards, reports and exports for assigned sites.
	RoleViewer Role = "viewer"
	// RoleOperator additionally manages master data and triggers
	// calibration on assigned sites.
	RoleOperator Role = "operator"
	// RoleAdmin bypasses site scoping entirely and manages users.
	RoleAdmin Role = "admin"
)

// NormalizeRole maps a stored or claimed role string to a known Role.
// Matching is case-insensitive and ignores surrounding whitespace so that
// roles imported from external user stores normalize cleanly.
func NormalizeRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleViewer:
		return RoleViewer, true
	case RoleOperator:
		return RoleOperator, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// RoleAtLeast reports whether role grants everything required does. Unknown
// roles rank below viewer and never satisfy any requirement.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleOperator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}
