package barrier

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"go.uber.org/zap"
)

// DefinitionRepository описывает требования кэша к хранилищу определений
type DefinitionRepository interface {
	GetActiveBarriers(ctx context.Context) ([]domain.BarrierDefinition, error)
}

// MemoSet — потокобезопасный in-memory снапшот определений барьеров.
// Hot Path пайплайна читает только память; Postgres нужен лишь на Refresh.
// Снапшоты иммутабельны: правка в консоли порождает новый срез целиком,
// конкурентные оценки не видят полуобновленного набора.
type MemoSet struct {
	mu sync.RWMutex
	// Кэш: tenant_id -> активные барьеры (глобальные "*" хранятся отдельно)
	byTenant map[string][]domain.BarrierDefinition
	global   []domain.BarrierDefinition
	loaded   bool

	repo   DefinitionRepository // Используется только для Refresh()
	rdb    *redis.Client
	logger *zap.Logger
}

func NewMemoSet(repo DefinitionRepository, rdb *redis.Client, logger *zap.Logger) *MemoSet {
	return &MemoSet{
		byTenant: make(map[string][]domain.BarrierDefinition),
		repo:     repo,
		rdb:      rdb,
		logger:   logger.Named("barrier-cache"),
	}
}

// ForTenant возвращает глобальные + тенантные барьеры.
// Если кэш еще не загружен — возвращает loaded=false: вызывающая сторона
// обязана трактовать это как fail-closed, а не как «барьеров нет».
func (m *MemoSet) ForTenant(tenantID string) ([]domain.BarrierDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.loaded {
		return nil, false
	}

	own := m.byTenant[tenantID]
	out := make([]domain.BarrierDefinition, 0, len(m.global)+len(own))
	out = append(out, m.global...)
	out = append(out, own...)
	return out, true
}

// Refresh выполняет «холодную загрузку» всех активных определений из PostgreSQL
func (m *MemoSet) Refresh(ctx context.Context) error {
	defs, err := m.repo.GetActiveBarriers(ctx)
	if err != nil {
		return err
	}

	byTenant := make(map[string][]domain.BarrierDefinition)
	var global []domain.BarrierDefinition
	for _, d := range defs {
		if d.TenantID == "*" {
			global = append(global, d)
			continue
		}
		byTenant[d.TenantID] = append(byTenant[d.TenantID], d)
	}

	m.mu.Lock()
	m.byTenant = byTenant
	m.global = global
	m.loaded = true
	m.mu.Unlock()

	m.logger.Info("barrier cache refreshed", zap.Int("count", len(defs)))
	return nil
}

// StartListener подписывается на инвалидацию и перечитывает набор целиком.
// Сигнал может быть простым "refresh": источником истины остается Postgres.
func (m *MemoSet) StartListener(ctx context.Context) {
	infra.ListenResilient(ctx, m.rdb, m.logger, infra.RedisChanBarrierUpdate,
		func() error { return m.Refresh(ctx) }, // Переподключение
		func(string) {
			if err := m.Refresh(ctx); err != nil {
				m.logger.Error("barrier refresh failed", zap.Error(err))
			}
		},
	)
}
