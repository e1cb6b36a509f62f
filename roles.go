package auth

import "fmt"

// UserRole is an account's marketplace role. An identity holds exactly one
// role; it changes only through an approved RoleChangeRequest.
type UserRole string

const (
	// RoleHomeowner posts jobs and accepts bids.
	RoleHomeowner UserRole = "homeowner"
	// RoleProfessional browses jobs and submits bids.
	RoleProfessional UserRole = "professional"
	// RoleAdmin moderates the marketplace and resolves role changes.
	RoleAdmin UserRole = "admin"
)

// IsValid checks if the role is one of the predefined roles.
func (r UserRole) IsValid() bool {
	switch r {
	case RoleHomeowner, RoleProfessional, RoleAdmin:
		return true
	default:
		return false
	}
}

// LoginPath returns the role-parameterized login route.
func (r UserRole) LoginPath() string {
	return fmt.Sprintf("/%s/login", string(r))
}

// SignupPath returns the role-parameterized registration route.
func (r UserRole) SignupPath() string {
	return fmt.Sprintf("/%s/signup", string(r))
}

// OTPLoginPath returns the role-parameterized magic-link login route.
func (r UserRole) OTPLoginPath() string {
	return fmt.Sprintf("/%s/login-otp", string(r))
}

// DashboardPath returns the role's own dashboard, the landing target for
// forbidden redirects.
func (r UserRole) DashboardPath() string {
	return fmt.Sprintf("/%s/dashboard", string(r))
}

// GetAllRoles returns every predefined role.
func GetAllRoles() []UserRole {
	return []UserRole{RoleHomeowner, RoleProfessional, RoleAdmin}
}

// ParseRole safely parses a string into a UserRole.
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, role.IsValid()
}
