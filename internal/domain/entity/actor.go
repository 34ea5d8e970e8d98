package entity

// Role constants. The elevated roles (PROFESSOR, ADMIN) may approve stages
// and finalize cases; the others only record data.
const (
	RoleAdmin         = "ADMIN"
	RoleProfessor     = "PROFESSOR"
	RoleSeniorStudent = "ALUNO_N2"
	RoleStudent       = "ALUNO"
	RoleLabTechnician = "FUNCIONARIO_LAB"
)

var validRoles = map[string]bool{
	RoleAdmin:         true,
	RoleProfessor:     true,
	RoleSeniorStudent: true,
	RoleStudent:       true,
	RoleLabTechnician: true,
}

// IsValidRole returns true if the role is a known role.
func IsValidRole(role string) bool {
	return validRoles[role]
}

// Actor is the identity performing a workflow operation. Authentication and
// account management live outside this system; an actor is just an id, a
// display name and a role.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}
