package auth

// Role es el rol del usuario autenticado. Lo emite el proveedor de identidad.
type Role string

const (
	RoleDoctor     Role = "doctor"
	RolePatient    Role = "patient"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RolePatient, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin cubre admin y super_admin.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Claims representa la información extraída del token.
type Claims struct {
	UserID string
	Email  string
	Role   Role
}
