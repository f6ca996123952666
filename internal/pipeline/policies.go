package pipeline

/*
Файл policies.go — L1 кэш политик тенантов.
Hot Path читает только память; отсутствие политики дает строгие дефолты,
никогда не «все разрешено».
*/

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"go.uber.org/zap"
)

type PolicyRepository interface {
	GetAllTenantPolicies(ctx context.Context) ([]domain.TenantPolicy, error)
}

type PolicyCache struct {
	mu       sync.RWMutex
	byTenant map[string]domain.TenantPolicy

	repo   PolicyRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPolicyCache(repo PolicyRepository, rdb *redis.Client, logger *zap.Logger) *PolicyCache {
	return &PolicyCache{
		byTenant: make(map[string]domain.TenantPolicy),
		repo:     repo,
		rdb:      rdb,
		logger:   logger.Named("policy-cache"),
	}
}

// For возвращает нормализованный снапшот политики тенанта
func (c *PolicyCache) For(tenantID string) domain.TenantPolicy {
	c.mu.RLock()
	pol, ok := c.byTenant[tenantID]
	c.mu.RUnlock()

	if !ok {
		return domain.DefaultTenantPolicy(tenantID)
	}
	return pol.Normalize()
}

// Refresh — холодная загрузка всех политик из PostgreSQL
func (c *PolicyCache) Refresh(ctx context.Context) error {
	policies, err := c.repo.GetAllTenantPolicies(ctx)
	if err != nil {
		return err
	}

	byTenant := make(map[string]domain.TenantPolicy, len(policies))
	for _, pol := range policies {
		byTenant[pol.TenantID] = pol
	}

	c.mu.Lock()
	c.byTenant = byTenant
	c.mu.Unlock()

	c.logger.Info("tenant policy cache refreshed", zap.Int("count", len(policies)))
	return nil
}

// StartListener перечитывает политики по тому же сигналу инвалидации,
// что и кэш барьеров: консоль публикует его на любую правку конфигурации.
func (c *PolicyCache) StartListener(ctx context.Context) {
	infra.ListenResilient(ctx, c.rdb, c.logger, infra.RedisChanBarrierUpdate,
		func() error { return c.Refresh(ctx) },
		func(string) {
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error("policy refresh failed", zap.Error(err))
			}
		},
	)
}
