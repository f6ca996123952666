package service

/*
Файл barrier_service.go — управление определениями барьеров.
Каждая правка: Persistence -> Audit -> Real-time Signaling.
Инвалидация кэша пайплайнов идет широковещательным сигналом "refresh",
источником истины остается Postgres.
*/

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/cato-pipeline/internal/auditchain"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"go.uber.org/zap"
)

// BarrierRepository описывает требования к хранилищу определений
type BarrierRepository interface {
	GetBarrierByID(ctx context.Context, id string) (*domain.BarrierDefinition, error)
	ListBarriers(ctx context.Context, tenantID string) ([]domain.BarrierDefinition, error)
	CreateBarrier(ctx context.Context, b *domain.BarrierDefinition) error
	UpdateBarrier(ctx context.Context, b *domain.BarrierDefinition) error
	SetBarrierActive(ctx context.Context, id string, active bool) error
}

type BarrierService struct {
	repo   BarrierRepository
	chain  *auditchain.Chain
	rdb    *redis.Client
	logger *zap.Logger
}

func NewBarrierService(repo BarrierRepository, chain *auditchain.Chain, rdb *redis.Client, logger *zap.Logger) *BarrierService {
	return &BarrierService{
		repo:   repo,
		chain:  chain,
		rdb:    rdb,
		logger: logger.Named("barrier-service"),
	}
}

func (s *BarrierService) List(ctx context.Context, tenantID string) ([]domain.BarrierDefinition, error) {
	return s.repo.ListBarriers(ctx, tenantID)
}

func (s *BarrierService) Get(ctx context.Context, id string) (*domain.BarrierDefinition, error) {
	return s.repo.GetBarrierByID(ctx, id)
}

func (s *BarrierService) Create(ctx context.Context, b *domain.BarrierDefinition, adminID string) error {
	if err := validateDefinition(b); err != nil {
		return err
	}
	b.ID = uuid.New().String()
	b.Active = true

	if err := s.repo.CreateBarrier(ctx, b); err != nil {
		return err
	}

	s.auditAdminAction(ctx, b.TenantID, adminID, "create", b)
	s.notifyUpdate(ctx, "barrier-create")
	return nil
}

func (s *BarrierService) Update(ctx context.Context, b *domain.BarrierDefinition, adminID string) error {
	if err := validateDefinition(b); err != nil {
		return err
	}
	if err := s.repo.UpdateBarrier(ctx, b); err != nil {
		return err
	}

	s.auditAdminAction(ctx, b.TenantID, adminID, "update", b)
	s.notifyUpdate(ctx, "barrier-update")
	return nil
}

// SetActive включает/выключает барьер. Деактивация — единственный легальный
// способ смягчить ENFORCE, поэтому она обязана оставить аудит-след.
func (s *BarrierService) SetActive(ctx context.Context, id string, active bool, adminID string) error {
	b, err := s.repo.GetBarrierByID(ctx, id)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("barrier not found")
	}

	if err := s.repo.SetBarrierActive(ctx, id, active); err != nil {
		return err
	}

	action := "deactivate"
	if active {
		action = "activate"
	}
	s.auditAdminAction(ctx, b.TenantID, adminID, action, b)
	s.notifyUpdate(ctx, action)
	return nil
}

// auditAdminAction пишет BARRIER_ADMIN-запись в цепочку тенанта барьера
func (s *BarrierService) auditAdminAction(ctx context.Context, tenantID, adminID, action string, b *domain.BarrierDefinition) {
	content := map[string]interface{}{
		"action":     action,
		"admin_id":   adminID,
		"barrier_id": b.ID,
		"name":       b.Name,
		"type":       b.Type,
	}
	if _, err := s.chain.Append(ctx, tenantID, domain.EntryBarrierAdmin, content); err != nil {
		// Админское действие уже применено; потерю следа фиксируем громко
		s.logger.Error("barrier admin action not audited",
			zap.String("barrier_id", b.ID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (s *BarrierService) notifyUpdate(ctx context.Context, reason string) {
	if err := s.rdb.Publish(ctx, infra.RedisChanBarrierUpdate, "refresh").Err(); err != nil {
		// Пайплайны доберут изменения при следующем переподключении слушателя
		s.logger.Warn("barrier invalidation signal failed",
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("barrier set invalidation published", zap.String("reason", reason))
}

// validateDefinition — ConfigurationError ловится здесь, на записи,
// и никогда не доживает до момента оценки действия
func validateDefinition(b *domain.BarrierDefinition) error {
	if b.TenantID == "" {
		return fmt.Errorf("tenant_id is required ('*' for global barriers)")
	}
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch b.Type {
	case domain.BarrierContent, domain.BarrierCost, domain.BarrierRate, domain.BarrierAuth:
	case domain.BarrierCustom:
		if b.Threshold.Param == "" {
			return fmt.Errorf("custom barrier requires threshold_config.param")
		}
	default:
		return fmt.Errorf("unknown barrier type %q", b.Type)
	}
	if b.Threshold.Threshold < 0 {
		return fmt.Errorf("threshold must be non-negative")
	}
	return nil
}
