package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleCashier    UserRole = "CASHIER"
	RoleStudent    UserRole = "STUDENT"
)

// IsAdministrator reports whether the role may approve enrollments.
func (r UserRole) IsAdministrator() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Actor identifies who performs an operation.
type Actor struct {
	UserID string
	Role   UserRole
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
