package pipeline

/*
Файл escalations.go — прием решений ревьюера (HITL) на стороне Data Plane.
Консоль публикует вердикт в Redis; каждый инстанс применяет его к своей
сессии, если она у него живет.
*/

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"go.uber.org/zap"
)

// escalationDecision — формат сообщения консоли
type escalationDecision struct {
	EscalationID string                    `json:"escalation_id"`
	SessionID    string                    `json:"session_id"`
	Decision     domain.EscalationDecision `json:"decision"`
	Response     string                    `json:"response,omitempty"`
}

// StartEscalationListener подписывается на вердикты ревьюеров
func (o *Orchestrator) StartEscalationListener(ctx context.Context, rdb *redis.Client) {
	infra.ListenResilient(ctx, rdb, o.logger, infra.RedisChanEscalationDecisions,
		nil,
		func(payload string) {
			var sig escalationDecision
			if err := json.Unmarshal([]byte(payload), &sig); err != nil {
				o.logger.Error("invalid escalation decision payload", zap.Error(err))
				return
			}
			o.applyEscalationDecision(sig)
		},
	)
}

// applyEscalationDecision применяет вердикт к локальной сессии.
// APPROVED/MODIFIED размораживают сессию: окно отказов и счетчик попыток
// сбрасываются, агент может действовать дальше. REJECTED оставляет сессию
// прижатой: поднимается critical-вето от имени ревьюера.
func (o *Orchestrator) applyEscalationDecision(sig escalationDecision) {
	sess := o.sessions.Lookup(sig.SessionID)
	if sess == nil {
		// Сессия живет на другом инстансе или уже выселена
		return
	}

	// Вердикт широковещательный: gauge уменьшает только инстанс,
	// который эту эскалацию поднимал, и только один раз
	if sess.ClearEscalationPending() {
		o.metrics.PendingEscalations.Dec()
	}

	switch sig.Decision {
	case domain.DecisionApproved, domain.DecisionModified:
		sess.ResetRecovery()
		o.logger.Info("escalation resolved, session unfrozen",
			zap.String("escalation_id", sig.EscalationID),
			zap.String("session_id", sig.SessionID),
			zap.String("decision", string(sig.Decision)),
		)
	case domain.DecisionRejected:
		o.vetoes.Raise(domain.VetoSignal{
			Signal:    "human review rejected escalation " + sig.EscalationID,
			Severity:  domain.VetoCritical,
			Source:    "human-review",
			SessionID: sig.SessionID,
			Timestamp: o.now(),
		})
		o.logger.Warn("escalation rejected by reviewer, session stays clamped",
			zap.String("escalation_id", sig.EscalationID),
			zap.String("session_id", sig.SessionID),
		)
	}
}
