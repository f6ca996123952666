package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/cato-pipeline/internal/barrier"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/fracture"
	"github.com/xela07ax/cato-pipeline/internal/governor"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"github.com/xela07ax/cato-pipeline/internal/recovery"
	"github.com/xela07ax/cato-pipeline/internal/veto"
	"go.uber.org/zap"

	"github.com/xela07ax/cato-pipeline/internal/auditchain"
)

// --- Фейки персистентных слоев ---

type memAuditStore struct {
	mu      sync.Mutex
	entries map[string][]domain.AuditEntry
	failing bool
}

func newMemAuditStore() *memAuditStore {
	return &memAuditStore{entries: make(map[string][]domain.AuditEntry)}
}

func (s *memAuditStore) AppendEntry(ctx context.Context, entry *domain.AuditEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, errors.New("db down")
	}
	s.entries[entry.TenantID] = append(s.entries[entry.TenantID], *entry)
	return entry.SequenceNumber, nil
}

func (s *memAuditStore) GetLastEntry(ctx context.Context, tenantID string) (*domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[tenantID]
	if len(list) == 0 {
		return nil, nil
	}
	last := list[len(list)-1]
	return &last, nil
}

func (s *memAuditStore) GetRange(ctx context.Context, tenantID string, fromSeq, toSeq int64) ([]domain.AuditEntry, error) {
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

func (s *memAuditStore) count(tenantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[tenantID])
}

func (s *memAuditStore) lastType(tenantID string) domain.AuditEntryType {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[tenantID]
	if len(list) == 0 {
		return ""
	}
	return list[len(list)-1].EntryType
}

type fakeBarrierRepo struct {
	defs []domain.BarrierDefinition
}

func (f *fakeBarrierRepo) GetActiveBarriers(ctx context.Context) ([]domain.BarrierDefinition, error) {
	return f.defs, nil
}

type fakePolicyRepo struct{}

func (fakePolicyRepo) GetAllTenantPolicies(ctx context.Context) ([]domain.TenantPolicy, error) {
	return nil, nil
}

type fakeRecoveryRepo struct{}

func (fakeRecoveryRepo) CreateRecoveryRecord(ctx context.Context, rec *domain.EpistemicRecoveryRecord) error {
	return nil
}
func (fakeRecoveryRepo) CreateEscalation(ctx context.Context, esc *domain.HumanEscalation) error {
	return nil
}
func (fakeRecoveryRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type testHarness struct {
	orch   *Orchestrator
	store  *memAuditStore
	vetoes *veto.Monitor
}

func newHarness(t *testing.T, defs []domain.BarrierDefinition) *testHarness {
	t.Helper()
	logger := zap.NewNop()

	store := newMemAuditStore()
	chain := auditchain.NewChain(store, logger)

	barriers := barrier.NewMemoSet(&fakeBarrierRepo{defs: defs}, nil, logger)
	require.NoError(t, barriers.Refresh(context.Background()))

	policies := NewPolicyCache(fakePolicyRepo{}, nil, logger)
	vetoes := veto.NewMonitor(logger)

	detector := fracture.NewDetector(nil, nil, logger)
	recoveryMgr := recovery.NewManager(fakeRecoveryRepo{}, logger)
	sessions := NewSessionStore(time.Hour, nil, logger)

	cfg := infra.PipelineConfig{
		StageBudget:       200 * time.Millisecond,
		SessionTTL:        time.Hour,
		TileSize:          64,
		EntropyQueueSize:  16,
		EntropyJobTimeout: time.Second,
	}

	orch := NewOrchestrator(
		governor.New(nil),
		barrier.NewEngine(logger),
		barriers,
		vetoes,
		detector,
		recoveryMgr,
		chain,
		sessions,
		policies,
		NewMetrics(nil),
		cfg,
		logger,
	)
	return &testHarness{orch: orch, store: store, vetoes: vetoes}
}

func evalReq(session string) EvaluateRequest {
	return EvaluateRequest{
		TenantID:             "t1",
		UserID:               "u1",
		SessionID:            session,
		Action:               domain.ProposedAction{Type: domain.ActionToolCall},
		EpistemicUncertainty: 0.1,
		SensoryPrecision:     0.9,
		RequestedGamma:       0.8,
	}
}

func TestEvaluateAction_AllowedPathWritesOneAuditEntry(t *testing.T) {
	h := newHarness(t, nil)

	res := h.orch.EvaluateAction(context.Background(), evalReq("s1"))

	assert.True(t, res.Allowed)
	assert.Empty(t, res.BlockedBy)
	assert.False(t, res.SystemError)
	assert.Equal(t, int64(1), res.AuditSequence)
	assert.NotEmpty(t, res.TraceID)

	assert.Equal(t, 1, h.store.count("t1"))
	assert.Equal(t, domain.EntryDecision, h.store.lastType("t1"))
}

func TestEvaluateAction_EmergencyVetoBlocks(t *testing.T) {
	h := newHarness(t, nil)

	h.vetoes.Raise(domain.VetoSignal{
		Signal:    "kill",
		Severity:  domain.VetoEmergency,
		Source:    "sensor",
		SessionID: "s1",
	})

	res := h.orch.EvaluateAction(context.Background(), evalReq("s1"))

	assert.False(t, res.Allowed)
	assert.Equal(t, domain.BlockedByVeto, res.BlockedBy)
	assert.Equal(t, 1, h.store.count("t1"), "blocked decision is still audited")
}

func TestEvaluateAction_CriticalBarrierBlocks(t *testing.T) {
	h := newHarness(t, []domain.BarrierDefinition{{
		ID:         "phi",
		TenantID:   "t1",
		Name:       "phi-guard",
		Type:       domain.BarrierContent,
		IsCritical: true,
		Threshold:  domain.ThresholdConfig{Threshold: 0.5},
		Active:     true,
	}})

	req := evalReq("s1")
	req.Action.ContainsPHI = true

	res := h.orch.EvaluateAction(context.Background(), req)

	assert.False(t, res.Allowed)
	assert.Equal(t, domain.BlockedByCBF, res.BlockedBy)
	require.NotNil(t, res.SafeAlternative)
	assert.Equal(t, domain.StrategyRejectAndAsk, res.SafeAlternative.Strategy)
}

func TestEvaluateAction_EmergencyUncertaintyBlocksViaGovernor(t *testing.T) {
	h := newHarness(t, nil)

	req := evalReq("s1")
	req.EpistemicUncertainty = 0.95

	res := h.orch.EvaluateAction(context.Background(), req)

	assert.False(t, res.Allowed)
	assert.Equal(t, domain.BlockedByGovernor, res.BlockedBy)
	require.NotNil(t, res.Governor)
	assert.Equal(t, domain.GovernorEmergencySafeMode, res.Governor.State)
}

func TestEvaluateAction_AuditFailureDeniesWithSystemError(t *testing.T) {
	h := newHarness(t, nil)
	h.store.failing = true

	res := h.orch.EvaluateAction(context.Background(), evalReq("s1"))

	assert.False(t, res.Allowed)
	assert.True(t, res.SystemError)
	assert.Empty(t, res.BlockedBy, "system error is not attributed to a safety component")
}

func TestEvaluateAction_RepeatedRejectionsEngageRecovery(t *testing.T) {
	h := newHarness(t, nil)

	h.vetoes.Raise(domain.VetoSignal{
		Signal:    "hold",
		Severity:  domain.VetoEmergency,
		Source:    "sensor",
		SessionID: "s1",
	})

	var last domain.SafetyPipelineResult
	for i := 0; i < 5; i++ {
		last = h.orch.EvaluateAction(context.Background(), evalReq("s1"))
	}

	assert.False(t, last.Allowed)
	require.NotNil(t, last.Recovery)
	assert.True(t, last.Recovery.IsLivelocked)
	assert.Equal(t, domain.RecoveryActionEpistemic, last.Recovery.Action)
	require.NotNil(t, last.RetryWithContext)
	// Восстановление не поднимает гамму: ретрай идет с гаммой губернатора
	assert.LessOrEqual(t, last.RetryWithContext.RequestedGamma, 0.8)
}

func TestEvaluateAction_CallerCancellationFailsClosed(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.orch.EvaluateAction(ctx, evalReq("s1"))

	assert.False(t, res.Allowed)
	assert.False(t, res.SystemError)
	assert.Equal(t, 1, h.store.count("t1"))
	assert.Equal(t, domain.EntryDecisionIncomplete, h.store.lastType("t1"))
}

func TestEvaluateAction_MissingBarrierSnapshotDenies(t *testing.T) {
	logger := zap.NewNop()
	store := newMemAuditStore()

	// MemoSet без Refresh: снапшот не загружен
	barriers := barrier.NewMemoSet(&fakeBarrierRepo{}, nil, logger)

	orch := NewOrchestrator(
		governor.New(nil),
		barrier.NewEngine(logger),
		barriers,
		veto.NewMonitor(logger),
		fracture.NewDetector(nil, nil, logger),
		recovery.NewManager(fakeRecoveryRepo{}, logger),
		auditchain.NewChain(store, logger),
		NewSessionStore(time.Hour, nil, logger),
		NewPolicyCache(fakePolicyRepo{}, nil, logger),
		NewMetrics(nil),
		infra.PipelineConfig{StageBudget: 200 * time.Millisecond, EntropyQueueSize: 16},
		logger,
	)

	res := orch.EvaluateAction(context.Background(), evalReq("s1"))

	assert.False(t, res.Allowed)
	assert.Equal(t, domain.BlockedByCBF, res.BlockedBy)
}

func TestHandleEntropyResult_AppendsFollowupAndRaisesVeto(t *testing.T) {
	h := newHarness(t, nil)

	// Сначала обычное решение, чтобы у цепочки была запись #1
	h.orch.EvaluateAction(context.Background(), evalReq("s1"))

	h.orch.HandleEntropyResult(context.Background(), fracture.Job{
		JobID:       "job-1",
		TenantID:    "t1",
		SessionID:   "s1",
		OriginalSeq: 1,
	}, domain.FractureCheck{Ran: true, Score: 0.1, Severity: domain.FractureCritical})

	assert.Equal(t, 2, h.store.count("t1"))
	assert.Equal(t, domain.EntryFractureFollowup, h.store.lastType("t1"))

	// Критичная поздняя находка поднимает emergency-вето на сессию
	res := h.orch.EvaluateAction(context.Background(), evalReq("s1"))
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.BlockedByVeto, res.BlockedBy)
}
