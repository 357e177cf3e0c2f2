package interfaces

import (
	"context"

	"vision_automation/domain/entities"
)

// SecurityLayer defines the checks applied before a step touches the remote desktop
type SecurityLayer interface {
	// RequiresApproval checks if a step must be confirmed before it runs
	RequiresApproval(ctx context.Context, spec entities.TargetSpec) bool

	// IsDestructiveAction checks if the step targets a destructive control
	IsDestructiveAction(ctx context.Context, spec entities.TargetSpec) bool

	// GetActionRiskLevel returns the risk level of a step
	GetActionRiskLevel(ctx context.Context, spec entities.TargetSpec) string
}
