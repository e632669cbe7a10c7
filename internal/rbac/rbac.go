package rbac

// Permission is one entry of an agent's permission list.
type Permission string
type Action string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
	PermissionAll   Permission = "*"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

// Can reports whether any of the granted permissions allows action.
func Can(granted []Permission, action Action) bool {
	for _, permission := range granted {
		switch permission {
		case PermissionAll, PermissionAdmin:
			return true
		case PermissionWrite:
			if action == ActionWrite || action == ActionRead {
				return true
			}
		case PermissionRead:
			if action == ActionRead {
				return true
			}
		}
	}
	return false
}

// Normalize drops unknown entries so they can never widen access.
func Normalize(values []string) []Permission {
	out := make([]Permission, 0, len(values))
	for _, value := range values {
		switch Permission(value) {
		case PermissionRead, PermissionWrite, PermissionAdmin, PermissionAll:
			out = append(out, Permission(value))
		}
	}
	return out
}
