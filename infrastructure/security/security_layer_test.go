package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"vision_automation/domain/entities"
)

func TestSecurityLayer_RiskLevels(t *testing.T) {
	ctx := context.Background()
	s := NewSecurityLayer(true, nil)

	tests := []struct {
		spec     entities.TargetSpec
		risk     string
		approval bool
	}{
		{entities.TargetSpec{Kind: entities.ActionClick, Label: "Delete record"}, "high", true},
		{entities.TargetSpec{Kind: entities.ActionClick, Label: "Удалить"}, "high", true},
		{entities.TargetSpec{Kind: entities.ActionClick, Label: "Pay now"}, "high", true},
		{entities.TargetSpec{Kind: entities.ActionClick, Label: "Submit"}, "medium", false},
		{entities.TargetSpec{Kind: entities.ActionClick, Label: "Display"}, "low", false},
		{entities.TargetSpec{Kind: entities.ActionClearAndType, Label: "Delete reason", Value: "x"}, "medium", false},
		{entities.TargetSpec{Kind: entities.ActionWaitFor, Label: "Dashboard"}, "low", false},
	}
	for _, tt := range tests {
		t.Run(tt.spec.Label, func(t *testing.T) {
			assert.Equal(t, tt.risk, s.GetActionRiskLevel(ctx, tt.spec))
			assert.Equal(t, tt.approval, s.RequiresApproval(ctx, tt.spec))
		})
	}
}

func TestSecurityLayer_Disabled(t *testing.T) {
	s := NewSecurityLayer(false, nil)
	spec := entities.TargetSpec{Kind: entities.ActionClick, Label: "Delete"}
	assert.False(t, s.RequiresApproval(context.Background(), spec))
	assert.True(t, s.IsDestructiveAction(context.Background(), spec))
}
