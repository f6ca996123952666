package service

/*
Файл policy_service.go — управление политиками тенантов.
Та же дисциплина, что и у барьеров: Persistence -> Audit -> Real-time
Signaling. Пайплайны перечитывают кэш политик по тому же широковещательному
сигналу, что и набор барьеров.
*/

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/cato-pipeline/internal/auditchain"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"go.uber.org/zap"
)

// PolicyRepository описывает требования к хранилищу политик
type PolicyRepository interface {
	GetTenantPolicy(ctx context.Context, tenantID string) (*domain.TenantPolicy, error)
	UpsertTenantPolicy(ctx context.Context, pol *domain.TenantPolicy) error
}

type PolicyService struct {
	repo   PolicyRepository
	chain  *auditchain.Chain
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPolicyService(repo PolicyRepository, chain *auditchain.Chain, rdb *redis.Client, logger *zap.Logger) *PolicyService {
	return &PolicyService{
		repo:   repo,
		chain:  chain,
		rdb:    rdb,
		logger: logger.Named("policy-service"),
	}
}

// Get возвращает действующую политику тенанта.
// Отсутствие строки в базе означает строгие дефолты, не «все разрешено».
func (s *PolicyService) Get(ctx context.Context, tenantID string) (domain.TenantPolicy, error) {
	pol, err := s.repo.GetTenantPolicy(ctx, tenantID)
	if err != nil {
		return domain.TenantPolicy{}, err
	}
	if pol == nil {
		return domain.DefaultTenantPolicy(tenantID), nil
	}
	return pol.Normalize(), nil
}

// Upsert атомарно подменяет снапшот политики и поднимает версию
func (s *PolicyService) Upsert(ctx context.Context, pol *domain.TenantPolicy, adminID string) error {
	if err := validatePolicy(pol); err != nil {
		return err
	}
	if err := s.repo.UpsertTenantPolicy(ctx, pol); err != nil {
		return err
	}

	s.auditAdminAction(ctx, pol, adminID)
	s.notifyUpdate(ctx)
	return nil
}

// auditAdminAction пишет POLICY_ADMIN-запись в цепочку тенанта
func (s *PolicyService) auditAdminAction(ctx context.Context, pol *domain.TenantPolicy, adminID string) {
	content := map[string]interface{}{
		"action":              "upsert",
		"admin_id":            adminID,
		"tenant_id":           pol.TenantID,
		"emergency_threshold": pol.EmergencyThreshold,
		"livelock_threshold":  pol.LivelockThreshold,
		"entropy_mode":        pol.EntropyMode,
	}
	if _, err := s.chain.Append(ctx, pol.TenantID, domain.EntryPolicyAdmin, content); err != nil {
		// Политика уже применена; потерю следа фиксируем громко
		s.logger.Error("policy admin action not audited",
			zap.String("tenant_id", pol.TenantID),
			zap.Error(err),
		)
	}
}

func (s *PolicyService) notifyUpdate(ctx context.Context) {
	if err := s.rdb.Publish(ctx, infra.RedisChanBarrierUpdate, "refresh").Err(); err != nil {
		// Пайплайны доберут изменения при следующем переподключении слушателя
		s.logger.Warn("policy invalidation signal failed", zap.Error(err))
		return
	}
	s.logger.Info("policy invalidation published")
}

// validatePolicy — битые настройки отбрасываются на записи, чтобы Normalize
// не маскировал опечатку админа молчаливым откатом на дефолты
func validatePolicy(pol *domain.TenantPolicy) error {
	if pol.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	for name, v := range map[string]float64{
		"cautious_threshold":     pol.CautiousThreshold,
		"conservative_threshold": pol.ConservativeThreshold,
		"emergency_threshold":    pol.EmergencyThreshold,
		"sensory_floor":          pol.SensoryFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if pol.LivelockThreshold < 0 {
		return fmt.Errorf("livelock_threshold must be non-negative")
	}
	if pol.RecoveryWindowSeconds < 0 {
		return fmt.Errorf("recovery_window_seconds must be non-negative")
	}
	if pol.MaxRecoveryAttempts < 0 {
		return fmt.Errorf("max_recovery_attempts must be non-negative")
	}
	switch pol.EntropyMode {
	case "", domain.EntropySync, domain.EntropyAsync, domain.EntropySkip:
	default:
		return fmt.Errorf("unknown entropy_mode %q", pol.EntropyMode)
	}
	return nil
}
