package barrier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"go.uber.org/zap"
)

func testBarrier(id string, typ domain.BarrierType, critical bool, threshold float64) domain.BarrierDefinition {
	return domain.BarrierDefinition{
		ID:         id,
		TenantID:   "t1",
		Name:       id,
		Type:       typ,
		IsCritical: critical,
		Threshold:  domain.ThresholdConfig{Threshold: threshold},
		Active:     true,
		Version:    1,
	}
}

func TestCheck_CriticalContentViolationBlocks(t *testing.T) {
	e := NewEngine(zap.NewNop())

	action := domain.ProposedAction{
		Type:        domain.ActionToolCall,
		ContainsPHI: true,
	}
	barriers := []domain.BarrierDefinition{
		testBarrier("phi-guard", domain.BarrierContent, true, 0.5),
	}

	res := e.Check(action, domain.SystemState{}, barriers, domain.DefaultTenantPolicy("t1"))

	assert.False(t, res.IsAdmissible)
	require.NotNil(t, res.CriticalViolation)
	assert.Equal(t, "phi-guard", res.CriticalViolation.BarrierID)
	require.NotNil(t, res.SafeAlternative)
	assert.Equal(t, domain.StrategyRejectAndAsk, res.SafeAlternative.Strategy)
}

func TestCheck_AllBarriersEvaluatedWithoutShortCircuit(t *testing.T) {
	e := NewEngine(zap.NewNop())

	action := domain.ProposedAction{Type: domain.ActionToolCall, ContainsPII: true}
	barriers := []domain.BarrierDefinition{
		testBarrier("content", domain.BarrierContent, true, 0.5),
		testBarrier("cost", domain.BarrierCost, false, 100),
		testBarrier("auth", domain.BarrierAuth, false, 0),
	}

	res := e.Check(action, domain.SystemState{}, barriers, domain.DefaultTenantPolicy("t1"))

	assert.Len(t, res.Evaluations, 3)
}

func TestCheck_CostViolationOffersReducedScope(t *testing.T) {
	e := NewEngine(zap.NewNop())

	action := domain.ProposedAction{Type: domain.ActionToolCall, EstimatedCost: 80}
	state := domain.SystemState{RunningCost: 50}
	barriers := []domain.BarrierDefinition{
		testBarrier("budget", domain.BarrierCost, false, 100),
	}

	res := e.Check(action, state, barriers, domain.DefaultTenantPolicy("t1"))

	// Некритичное нарушение при дефолтной политике все равно блокирует
	assert.False(t, res.IsAdmissible)
	assert.Nil(t, res.CriticalViolation)
	require.NotNil(t, res.SafeAlternative)
	assert.Equal(t, domain.StrategyReduceScope, res.SafeAlternative.Strategy)
	require.NotNil(t, res.SafeAlternative.RestrictedAction)
	assert.InDelta(t, 50, res.SafeAlternative.RestrictedAction.EstimatedCost, 1e-9)
}

func TestCheck_NonCriticalAllowedWhenPolicyPermits(t *testing.T) {
	e := NewEngine(zap.NewNop())

	pol := domain.DefaultTenantPolicy("t1")
	pol.NonCriticalBlocks = false

	action := domain.ProposedAction{Type: domain.ActionToolCall, EstimatedCost: 80}
	barriers := []domain.BarrierDefinition{
		testBarrier("budget", domain.BarrierCost, false, 50),
	}

	res := e.Check(action, domain.SystemState{}, barriers, pol)

	assert.True(t, res.IsAdmissible)
	assert.NotNil(t, res.SafeAlternative, "alternative is produced even when allowed")
}

func TestCheck_BrokenCustomBarrierFailsClosed(t *testing.T) {
	e := NewEngine(zap.NewNop())

	// CUSTOM без param — это ошибка конфигурации, трактуется как нарушение
	b := testBarrier("broken", domain.BarrierCustom, true, 10)
	b.Threshold.Param = ""

	res := e.Check(domain.ProposedAction{Type: domain.ActionToolCall}, domain.SystemState{}, []domain.BarrierDefinition{b}, domain.DefaultTenantPolicy("t1"))

	assert.False(t, res.IsAdmissible)
	require.NotNil(t, res.CriticalViolation)
	assert.NotEmpty(t, res.CriticalViolation.Err)
}

func TestCheck_InactiveBarrierSkipped(t *testing.T) {
	e := NewEngine(zap.NewNop())

	b := testBarrier("off", domain.BarrierContent, true, 0.1)
	b.Active = false

	res := e.Check(domain.ProposedAction{ContainsPHI: true}, domain.SystemState{}, []domain.BarrierDefinition{b}, domain.DefaultTenantPolicy("t1"))

	assert.True(t, res.IsAdmissible)
	assert.Empty(t, res.Evaluations)
}

func TestCheck_AuthScopeMismatch(t *testing.T) {
	e := NewEngine(zap.NewNop())

	action := domain.ProposedAction{
		Type:           domain.ActionToolCall,
		RequiredScopes: []string{"db:write", "db:admin"},
	}
	state := domain.SystemState{
		TenantSettings: map[string]interface{}{"scopes": []string{"db:write"}},
	}
	barriers := []domain.BarrierDefinition{
		testBarrier("scopes", domain.BarrierAuth, true, 0),
	}

	res := e.Check(action, state, barriers, domain.DefaultTenantPolicy("t1"))

	assert.False(t, res.IsAdmissible)
	require.NotNil(t, res.CriticalViolation)
	assert.InDelta(t, 1, res.CriticalViolation.Value, 1e-9)
}

func TestCountRate_WindowPruning(t *testing.T) {
	e := NewEngine(zap.NewNop())

	for i := 0; i < 3; i++ {
		e.countRate("s1", time.Minute)
	}
	assert.Equal(t, 4, e.countRate("s1", time.Minute))

	e.ForgetSession("s1")
	assert.Equal(t, 1, e.countRate("s1", time.Minute))
}
