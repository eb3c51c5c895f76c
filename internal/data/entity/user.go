package entity

// UserRole is read from the session; accounts live in the auth service.
type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleMentor  UserRole = "mentor"
	RoleAdmin   UserRole = "admin"
)
