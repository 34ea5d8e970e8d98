package policy

import (
	"testing"

	"github.com/patholab/caseflow/internal/domain/entity"
)

func TestApproverPolicy_CanApprove(t *testing.T) {
	tests := []struct {
		role     string
		expected bool
	}{
		{entity.RoleProfessor, true},
		{entity.RoleAdmin, true},
		{entity.RoleStudent, false},
		{entity.RoleSeniorStudent, false},
		{entity.RoleLabTechnician, false},
		{"", false},
		{"SOMETHING_ELSE", false},
	}

	var p ApproverPolicy
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			actor := entity.Actor{ID: "u1", Role: tt.role}
			if got := p.CanApprove(actor); got != tt.expected {
				t.Errorf("CanApprove(role=%q) = %v, want %v", tt.role, got, tt.expected)
			}
		})
	}
}
