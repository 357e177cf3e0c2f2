package security

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"vision_automation/application/normalize"
	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

var (
	destructiveKeywords = []string{
		"delete", "remove", "удалить", "удаление",
		"clear", "очистить",
		"reset", "сброс",
		"trash", "корзина", "purge", "wipe", "erase",
	}
	paymentKeywords = []string{
		"pay", "payment", "оплатить", "оплата",
		"checkout", "purchase", "покупка",
		"buy", "купить", "order", "заказать",
	}
	submitKeywords = []string{
		"submit", "send", "отправить",
		"confirm", "подтвердить", "approve", "sign",
	}
)

type SecurityLayer struct {
	logger  *logrus.Logger
	enabled bool
}

// NewSecurityLayer - creates the destructive-action guard. When disabled every step runs unconfirmed.
func NewSecurityLayer(enabled bool, logger *logrus.Logger) *SecurityLayer {
	return &SecurityLayer{
		logger:  logger,
		enabled: enabled,
	}
}

func (s *SecurityLayer) RequiresApproval(ctx context.Context, spec entities.TargetSpec) bool {
	if !s.enabled {
		return false
	}
	if s.IsDestructiveAction(ctx, spec) || s.isPaymentAction(spec) {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"action": spec.Kind,
				"target": spec.Label,
			}).Warn("Step held for confirmation")
		}
		return true
	}
	return false
}

func (s *SecurityLayer) IsDestructiveAction(ctx context.Context, spec entities.TargetSpec) bool {
	if spec.Kind != entities.ActionClick {
		return false
	}
	return hasKeyword(spec.Label, destructiveKeywords)
}

func (s *SecurityLayer) GetActionRiskLevel(ctx context.Context, spec entities.TargetSpec) string {
	if s.IsDestructiveAction(ctx, spec) || s.isPaymentAction(spec) {
		return "high"
	}

	switch spec.Kind {
	case entities.ActionWaitFor:
		// Waiting never touches the remote desktop
		return "low"
	case entities.ActionType, entities.ActionClearAndType:
		return "medium"
	case entities.ActionClick:
		if hasKeyword(spec.Label, submitKeywords) {
			return "medium"
		}
		return "low"
	}
	return "low"
}

func (s *SecurityLayer) isPaymentAction(spec entities.TargetSpec) bool {
	return spec.Kind == entities.ActionClick && hasKeyword(spec.Label, paymentKeywords)
}

// hasKeyword - whole-word match against the normalized label
func hasKeyword(label string, keywords []string) bool {
	words := strings.Fields(normalize.Normalize(label))
	for _, w := range words {
		for _, k := range keywords {
			if w == k {
				return true
			}
		}
	}
	return false
}

// Ensure SecurityLayer implements SecurityLayer interface
var _ interfaces.SecurityLayer = (*SecurityLayer)(nil)
