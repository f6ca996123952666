package service

/*
Файл escalation_service.go — решение ревьюера по HITL-эскалации.
Мы передаем reviewerID для обеспечения подотчетности (Accountability).
*/

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/cato-pipeline/internal/auditchain"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"go.uber.org/zap"
)

type EscalationRepository interface {
	GetEscalationByID(ctx context.Context, id string) (*domain.HumanEscalation, error)
	FindEscalations(ctx context.Context, tenantID string, status domain.EscalationStatus) ([]*domain.HumanEscalation, error)
	UpdateDecision(ctx context.Context, id string, decision domain.EscalationDecision, response, reviewerID string) (string, error)
}

type EscalationService struct {
	repo   EscalationRepository
	chain  *auditchain.Chain
	rdb    *redis.Client
	logger *zap.Logger
}

func NewEscalationService(repo EscalationRepository, chain *auditchain.Chain, rdb *redis.Client, logger *zap.Logger) *EscalationService {
	return &EscalationService{
		repo:   repo,
		chain:  chain,
		rdb:    rdb,
		logger: logger.Named("escalation-service"),
	}
}

func (s *EscalationService) Get(ctx context.Context, id string) (*domain.HumanEscalation, error) {
	return s.repo.GetEscalationByID(ctx, id)
}

func (s *EscalationService) List(ctx context.Context, tenantID string, status domain.EscalationStatus) ([]*domain.HumanEscalation, error) {
	return s.repo.FindEscalations(ctx, tenantID, status)
}

// decisionSignal — сообщение для ждущих пайплайн-инстансов
type decisionSignal struct {
	EscalationID string                    `json:"escalation_id"`
	SessionID    string                    `json:"session_id"`
	Decision     domain.EscalationDecision `json:"decision"`
	Response     string                    `json:"response,omitempty"`
}

// Decide фиксирует вердикт ревьюера: Persistence -> Audit -> Signaling
func (s *EscalationService) Decide(ctx context.Context, id string, decision domain.EscalationDecision, response, reviewerID string) error {
	switch decision {
	case domain.DecisionApproved, domain.DecisionRejected, domain.DecisionModified:
	default:
		return fmt.Errorf("unknown decision %q", decision)
	}

	esc, err := s.repo.GetEscalationByID(ctx, id)
	if err != nil {
		return err
	}
	if esc == nil {
		return fmt.Errorf("escalation not found")
	}
	if err := esc.CanTransitionTo(domain.EscalationResolved); err != nil {
		return err
	}

	// Атомарно: условие WHERE status='PENDING' исключает Double Decision
	sessionID, err := s.repo.UpdateDecision(ctx, id, decision, response, reviewerID)
	if err != nil {
		s.logger.Error("failed to persist escalation decision",
			zap.String("escalation_id", id),
			zap.String("reviewer_id", reviewerID),
			zap.Error(err))
		return err
	}

	content := map[string]interface{}{
		"escalation_id": id,
		"session_id":    sessionID,
		"decision":      decision,
		"reviewer_id":   reviewerID,
	}
	if _, err := s.chain.Append(ctx, esc.TenantID, domain.EntryEscalation, content); err != nil {
		s.logger.Error("escalation decision not audited",
			zap.String("escalation_id", id),
			zap.Error(err))
	}

	// Публикуем сигнал для пайплайн-инстансов, держащих эту сессию
	payload, _ := json.Marshal(decisionSignal{
		EscalationID: id,
		SessionID:    sessionID,
		Decision:     decision,
		Response:     response,
	})
	if err := s.rdb.Publish(ctx, infra.RedisChanEscalationDecisions, payload).Err(); err != nil {
		// Решение сохранено; сессия доберет его при следующем действии
		s.logger.Error("decision saved but signal not delivered",
			zap.String("escalation_id", id),
			zap.Error(err))
	}

	s.logger.Info("HITL decision processed successfully",
		zap.String("escalation_id", id),
		zap.String("reviewer", reviewerID),
		zap.String("result", string(decision)))
	return nil
}
