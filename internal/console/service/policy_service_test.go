package service

import (
	"context"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/cato-pipeline/internal/auditchain"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"go.uber.org/zap"
)

type fakePolicyStore struct {
	byTenant map[string]*domain.TenantPolicy
	upserts  int
}

func (f *fakePolicyStore) GetTenantPolicy(ctx context.Context, tenantID string) (*domain.TenantPolicy, error) {
	return f.byTenant[tenantID], nil
}

func (f *fakePolicyStore) UpsertTenantPolicy(ctx context.Context, pol *domain.TenantPolicy) error {
	if f.byTenant == nil {
		f.byTenant = make(map[string]*domain.TenantPolicy)
	}
	cp := *pol
	f.byTenant[pol.TenantID] = &cp
	f.upserts++
	return nil
}

type memChainStore struct {
	mu      sync.Mutex
	entries map[string][]domain.AuditEntry
}

func (s *memChainStore) AppendEntry(ctx context.Context, entry *domain.AuditEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string][]domain.AuditEntry)
	}
	s.entries[entry.TenantID] = append(s.entries[entry.TenantID], *entry)
	return entry.SequenceNumber, nil
}

func (s *memChainStore) GetLastEntry(ctx context.Context, tenantID string) (*domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[tenantID]
	if len(list) == 0 {
		return nil, nil
	}
	last := list[len(list)-1]
	return &last, nil
}

func (s *memChainStore) GetRange(ctx context.Context, tenantID string, fromSeq, toSeq int64) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range s.entries[tenantID] {
		if e.SequenceNumber >= fromSeq && e.SequenceNumber <= toSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func newPolicyService(repo PolicyRepository) (*PolicyService, *memChainStore) {
	logger := zap.NewNop()
	store := &memChainStore{}
	chain := auditchain.NewChain(store, logger)
	// Недоступный Redis: сигнал инвалидации деградирует в warn, не в панику
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	return NewPolicyService(repo, chain, rdb, logger), store
}

func TestPolicyService_GetFallsBackToStrictDefaults(t *testing.T) {
	svc, _ := newPolicyService(&fakePolicyStore{})

	pol, err := svc.Get(context.Background(), "t1")
	require.NoError(t, err)

	def := domain.DefaultTenantPolicy("t1")
	assert.Equal(t, def.LivelockThreshold, pol.LivelockThreshold)
	assert.True(t, pol.NonCriticalBlocks, "unconfigured tenant must not get a permissive policy")
}

func TestPolicyService_UpsertPersistsAuditsAndValidates(t *testing.T) {
	repo := &fakePolicyStore{}
	svc, store := newPolicyService(repo)

	pol := domain.DefaultTenantPolicy("t1")
	pol.LivelockThreshold = 40
	require.NoError(t, svc.Upsert(context.Background(), &pol, "admin-1"))

	assert.Equal(t, 1, repo.upserts)
	got, err := svc.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.LivelockThreshold)

	entries, err := store.GetRange(context.Background(), "t1", 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryPolicyAdmin, entries[0].EntryType)
}

func TestPolicyService_UpsertRejectsBrokenConfig(t *testing.T) {
	repo := &fakePolicyStore{}
	svc, _ := newPolicyService(repo)

	cases := []func(*domain.TenantPolicy){
		func(p *domain.TenantPolicy) { p.TenantID = "" },
		func(p *domain.TenantPolicy) { p.EmergencyThreshold = 1.5 },
		func(p *domain.TenantPolicy) { p.SensoryFloor = -0.1 },
		func(p *domain.TenantPolicy) { p.LivelockThreshold = -1 },
		func(p *domain.TenantPolicy) { p.EntropyMode = "SOMETIMES" },
	}
	for _, mutate := range cases {
		pol := domain.DefaultTenantPolicy("t1")
		mutate(&pol)
		assert.Error(t, svc.Upsert(context.Background(), &pol, "admin-1"))
	}
	assert.Zero(t, repo.upserts, "invalid policy must never reach the store")
}
