package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"go.uber.org/zap"
)

type fakeRepo struct {
	records     []*domain.EpistemicRecoveryRecord
	escalations []*domain.HumanEscalation
	expired     int64
}

func (f *fakeRepo) CreateRecoveryRecord(ctx context.Context, rec *domain.EpistemicRecoveryRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRepo) CreateEscalation(ctx context.Context, esc *domain.HumanEscalation) error {
	f.escalations = append(f.escalations, esc)
	return nil
}

func (f *fakeRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	return f.expired, nil
}

func windowWith(sources ...domain.RejectedBy) *Window {
	w := NewWindow(16, 5*time.Minute)
	for _, s := range sources {
		w.Add(domain.RejectionEvent{RejectedBy: s, Reason: "blocked"})
	}
	return w
}

func TestCheckLivelock_BelowThresholdIsNone(t *testing.T) {
	m := NewManager(&fakeRepo{}, zap.NewNop())

	w := windowWith(domain.RejectedByCBF, domain.RejectedByCBF)
	res := m.CheckLivelock(context.Background(), "t1", "s1", w, 0, domain.DefaultTenantPolicy("t1"))

	assert.False(t, res.IsLivelocked)
	assert.Equal(t, domain.RecoveryActionNone, res.Action)
	assert.Zero(t, res.Attempt)
}

func TestCheckLivelock_ThresholdReachedTriggersSafetyRecovery(t *testing.T) {
	repo := &fakeRepo{}
	m := NewManager(repo, zap.NewNop())

	// 5 отказов при пороге 5 — livelock
	w := windowWith(
		domain.RejectedByCBF, domain.RejectedByCBF, domain.RejectedByCBF,
		domain.RejectedByVeto, domain.RejectedByCBF,
	)
	res := m.CheckLivelock(context.Background(), "t1", "s1", w, 0, domain.DefaultTenantPolicy("t1"))

	assert.True(t, res.IsLivelocked)
	assert.Equal(t, domain.RecoveryActionEpistemic, res.Action)
	assert.Equal(t, 1, res.Attempt)
	require.NotNil(t, res.Params)
	assert.Equal(t, domain.StrategySafetyViolationRecovery, res.Params.Strategy)

	require.Len(t, repo.records, 1)
	assert.Equal(t, domain.StrategySafetyViolationRecovery, repo.records[0].Strategy)
}

func TestCheckLivelock_GovernorDominantTriggersCognitiveStall(t *testing.T) {
	m := NewManager(&fakeRepo{}, zap.NewNop())

	pol := domain.DefaultTenantPolicy("t1")
	w := windowWith(
		domain.RejectedByGovernor, domain.RejectedByGovernor, domain.RejectedByGovernor,
		domain.RejectedByGovernor, domain.RejectedByCBF,
	)
	res := m.CheckLivelock(context.Background(), "t1", "s1", w, 0, pol)

	require.NotNil(t, res.Params)
	assert.Equal(t, domain.StrategyCognitiveStallRecovery, res.Params.Strategy)
	assert.Equal(t, pol.RecoveryPersona, res.Params.Persona)
	assert.InDelta(t, pol.EmergencyThreshold*stallThresholdRatio, res.Params.UncertaintyThreshold, 1e-9)
}

func TestCheckLivelock_TieBetweenSourcesPrefersSafety(t *testing.T) {
	m := NewManager(&fakeRepo{}, zap.NewNop())

	// Поровну GOVERNOR и safety: выбор не в пользу когнитивного ступора
	w := windowWith(
		domain.RejectedByGovernor, domain.RejectedByGovernor,
		domain.RejectedByCBF, domain.RejectedByCBF, domain.RejectedByVeto,
	)
	res := m.CheckLivelock(context.Background(), "t1", "s1", w, 0, domain.DefaultTenantPolicy("t1"))

	require.NotNil(t, res.Params)
	assert.Equal(t, domain.StrategySafetyViolationRecovery, res.Params.Strategy)
}

func TestCheckLivelock_ExhaustedAttemptsEscalate(t *testing.T) {
	repo := &fakeRepo{}
	m := NewManager(repo, zap.NewNop())

	w := windowWith(
		domain.RejectedByCBF, domain.RejectedByCBF, domain.RejectedByCBF,
		domain.RejectedByCBF, domain.RejectedByCBF,
	)
	// MaxRecoveryAttempts=3, это четвертая попытка
	res := m.CheckLivelock(context.Background(), "t1", "s1", w, 3, domain.DefaultTenantPolicy("t1"))

	assert.True(t, res.IsLivelocked)
	assert.Equal(t, domain.RecoveryActionEscalate, res.Action)
	assert.Nil(t, res.Params)
	assert.NotEmpty(t, res.EscalationID)

	require.Len(t, repo.escalations, 1)
	esc := repo.escalations[0]
	assert.Equal(t, domain.EscalationPending, esc.Status)
	assert.Equal(t, "s1", esc.SessionID)
	assert.NotEmpty(t, esc.Context)
	assert.True(t, esc.ExpiresAt.After(esc.CreatedAt))

	require.Len(t, repo.records, 1)
	assert.Equal(t, domain.StrategyHumanEscalation, repo.records[0].Strategy)
}

func TestRecoveryParams_NeverRelaxSafety(t *testing.T) {
	p := domain.RecoveryParams{Strategy: domain.StrategyCognitiveStallRecovery}

	assert.Zero(t, p.GammaBoost())
	assert.Equal(t, "ENFORCE", p.NonCriticalCBFMode().String())
}

func TestWindow_PrunesOutsideSpan(t *testing.T) {
	w := NewWindow(16, time.Minute)
	current := time.Now()
	w.now = func() time.Time { return current }

	w.Add(domain.RejectionEvent{RejectedBy: domain.RejectedByCBF})
	w.Add(domain.RejectionEvent{RejectedBy: domain.RejectedByCBF})
	assert.Equal(t, 2, w.Count())

	current = current.Add(2 * time.Minute)
	assert.Equal(t, 0, w.Count())
}

func TestWindow_CapacityBounded(t *testing.T) {
	w := NewWindow(3, time.Hour)
	for i := 0; i < 10; i++ {
		w.Add(domain.RejectionEvent{RejectedBy: domain.RejectedByCBF})
	}
	assert.Equal(t, 3, w.Count())
}
