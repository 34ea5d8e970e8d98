// Package policy decides whether an actor's role authorizes elevated
// workflow actions.
package policy

import "github.com/patholab/caseflow/internal/domain/entity"

var approverRoles = map[string]bool{
	entity.RoleProfessor: true,
	entity.RoleAdmin:     true,
}

// ApproverPolicy authorizes stage approval, rejection and case finalization.
// Stateless; a pure function of the actor's role.
type ApproverPolicy struct{}

// CanApprove returns true iff the actor holds an elevated role.
func (ApproverPolicy) CanApprove(actor entity.Actor) bool {
	return approverRoles[actor.Role]
}
