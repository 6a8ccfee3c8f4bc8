package rbac

import "fmt"

type Role string

const (
	// RoleViewer may read status and pending updates.
	RoleViewer Role = "viewer"
	// RoleOperator may also run updates and resolve failed scripts.
	RoleOperator Role = "operator"
)

func Allows(user Role, allowed ...Role) bool {
	for _, role := range allowed {
		if user == role {
			return true
		}
	}
	return false
}

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleViewer, RoleOperator:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}
