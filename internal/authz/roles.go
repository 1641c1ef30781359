package authz

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

func IsValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}

func IsAdmin(role string) bool {
	return role == RoleAdmin
}
