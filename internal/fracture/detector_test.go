package fracture

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"go.uber.org/zap"
)

type stubSampler struct {
	samples []string
	err     error
}

func (s *stubSampler) Sample(ctx context.Context, prompt string, n int) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.samples, nil
}

func syncPolicy() domain.TenantPolicy {
	pol := domain.DefaultTenantPolicy("t1")
	pol.EntropyMode = domain.EntropySync
	return pol
}

func TestDetect_CausalContradictionIsLatentFracture(t *testing.T) {
	d := NewDetector(&stubSampler{}, nil, zap.NewNop())

	ledger := NewCausalLedger()
	ledger.Observe([]string{"db is empty"})

	pol := domain.DefaultTenantPolicy("t1")
	pol.EntropyMode = domain.EntropySkip

	res := d.Detect(context.Background(), domain.ProposedAction{
		Type:       domain.ActionToolCall,
		Parameters: map[string]interface{}{"claims": []string{"!db is empty"}},
	}, SessionContext{SessionID: "s1", Ledger: ledger}, pol)

	assert.True(t, res.Causal.Ran)
	assert.Equal(t, domain.FractureModerate, res.Causal.Severity)
	assert.Equal(t, domain.FractureModerate, res.Severity)
	assert.Contains(t, res.Causal.Detail, "latent fracture")
}

func TestDetect_DestructiveContradictionIsCritical(t *testing.T) {
	d := NewDetector(&stubSampler{}, nil, zap.NewNop())

	ledger := NewCausalLedger()
	ledger.Observe([]string{"backup exists"})

	pol := domain.DefaultTenantPolicy("t1")
	pol.EntropyMode = domain.EntropySkip

	res := d.Detect(context.Background(), domain.ProposedAction{
		Type:          domain.ActionSideEffect,
		IsDestructive: true,
		Parameters:    map[string]interface{}{"claims": []string{"!backup exists"}},
	}, SessionContext{SessionID: "s1", Ledger: ledger}, pol)

	assert.Equal(t, domain.FractureCritical, res.Severity)
}

func TestDetect_NarrativeDrift(t *testing.T) {
	d := NewDetector(&stubSampler{}, nil, zap.NewNop())

	pol := domain.DefaultTenantPolicy("t1")
	pol.EntropyMode = domain.EntropySkip
	pol.CausalCheckEnabled = false

	// Ни одно из выполненных действий не входит в заявленный план
	res := d.Detect(context.Background(), domain.ProposedAction{
		Type:       domain.ActionToolCall,
		Parameters: map[string]interface{}{"plan": []string{"MODEL_CALL"}},
	}, SessionContext{
		SessionID:     "s1",
		RecentActions: []domain.ActionType{domain.ActionSideEffect, domain.ActionMemoWrite},
	}, pol)

	assert.True(t, res.Narrative.Ran)
	assert.Equal(t, domain.FractureModerate, res.Narrative.Severity)
	assert.Less(t, res.Narrative.Score, 0.25)
}

func TestDetect_SyncEntropyConsistentSamples(t *testing.T) {
	d := NewDetector(&stubSampler{
		samples: []string{"the plan is safe", "the plan is safe", "the plan is safe"},
	}, nil, zap.NewNop())

	pol := syncPolicy()
	pol.CausalCheckEnabled = false
	pol.NarrativeCheckEnabled = false

	res := d.Detect(context.Background(), domain.ProposedAction{
		Type:       domain.ActionModelCall,
		Parameters: map[string]interface{}{"justification": "explain why"},
	}, SessionContext{SessionID: "s1"}, pol)

	require.True(t, res.Entropy.Ran)
	assert.InDelta(t, 1.0, res.Entropy.Score, 1e-9)
	assert.Equal(t, domain.FractureNone, res.Severity)
}

func TestDetect_SyncEntropyDivergentSamplesCritical(t *testing.T) {
	d := NewDetector(&stubSampler{
		samples: []string{"alpha beta", "gamma delta", "epsilon zeta"},
	}, nil, zap.NewNop())

	pol := syncPolicy()
	pol.CausalCheckEnabled = false
	pol.NarrativeCheckEnabled = false

	res := d.Detect(context.Background(), domain.ProposedAction{
		Type:       domain.ActionModelCall,
		Parameters: map[string]interface{}{"justification": "explain why"},
	}, SessionContext{SessionID: "s1"}, pol)

	require.True(t, res.Entropy.Ran)
	assert.Equal(t, domain.FractureCritical, res.Severity)
}

func TestDetect_SyncEntropyDegradesToSkipOnError(t *testing.T) {
	d := NewDetector(&stubSampler{err: errors.New("sampler down")}, nil, zap.NewNop())

	pol := syncPolicy()
	pol.CausalCheckEnabled = false
	pol.NarrativeCheckEnabled = false

	res := d.Detect(context.Background(), domain.ProposedAction{
		Type:       domain.ActionModelCall,
		Parameters: map[string]interface{}{"justification": "explain why"},
	}, SessionContext{SessionID: "s1"}, pol)

	assert.False(t, res.Entropy.Ran)
	assert.Contains(t, res.Entropy.Detail, "degraded")
	assert.Equal(t, domain.FractureNone, res.Severity)
}

func TestDetect_AsyncReservesJobID(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_entropy_queue"})
	worker := NewWorker(&stubSampler{samples: []string{"a", "a"}}, func(context.Context, Job, domain.FractureCheck) {}, 4, 0, gauge, zap.NewNop())

	d := NewDetector(&stubSampler{}, worker, zap.NewNop())

	pol := domain.DefaultTenantPolicy("t1") // дефолт — ASYNC
	res := d.Detect(context.Background(), domain.ProposedAction{
		Type:       domain.ActionModelCall,
		Parameters: map[string]interface{}{"justification": "explain why"},
	}, SessionContext{SessionID: "s1"}, pol)

	assert.NotEmpty(t, res.BackgroundJobID)
	assert.False(t, res.Entropy.Ran)
}

func TestCausalLedger_PolarityIsSticky(t *testing.T) {
	l := NewCausalLedger()

	assert.Empty(t, l.Observe([]string{"cache is warm"}))
	assert.Equal(t, []string{"cache is warm"}, l.Observe([]string{"!cache is warm"}))
	// Первая полярность — точка отсчета, повтор противоречия снова фиксируется
	assert.Equal(t, []string{"cache is warm"}, l.Observe([]string{"!cache is warm"}))
}

func TestConsistencyScore(t *testing.T) {
	assert.InDelta(t, 1.0, consistencyScore([]string{"same text", "same text"}), 1e-9)
	assert.InDelta(t, 0.0, consistencyScore([]string{"aaa bbb", "ccc ddd"}), 1e-9)
	assert.InDelta(t, 1.0, consistencyScore([]string{"only one"}), 1e-9)
}
