package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/cato-pipeline/internal/domain"
)

func evalWith(u, precision, requested float64) domain.GovernorResult {
	g := New(nil)
	return g.Evaluate(Params{
		EpistemicUncertainty:    u,
		CurrentSensoryPrecision: precision,
		RequestedGamma:          requested,
	}, domain.DefaultTenantPolicy("t1"))
}

func TestEvaluate_LowUncertaintyPassesThrough(t *testing.T) {
	res := evalWith(0.1, 0.9, 0.9)

	assert.Equal(t, domain.GovernorNormal, res.State)
	assert.False(t, res.WasLimited)
	assert.False(t, res.SensoryPrecisionEnforced)
	assert.InDelta(t, 0.9, res.AllowedGamma, 1e-9)
}

func TestEvaluate_GammaMonotonicInUncertainty(t *testing.T) {
	prev := 1.1
	for u := 0.0; u <= 1.0; u += 0.05 {
		res := evalWith(u, 0.9, 1.0)
		assert.LessOrEqual(t, res.AllowedGamma, prev,
			"allowed gamma must not grow with uncertainty (u=%.2f)", u)
		prev = res.AllowedGamma
	}
}

func TestEvaluate_StateLadder(t *testing.T) {
	cases := []struct {
		u    float64
		want domain.GovernorState
	}{
		{0.1, domain.GovernorNormal},
		{0.35, domain.GovernorCautious},
		{0.6, domain.GovernorConservative},
		{0.85, domain.GovernorEmergencySafeMode},
		{0.99, domain.GovernorEmergencySafeMode},
	}
	for _, c := range cases {
		res := evalWith(c.u, 0.9, 0.8)
		assert.Equal(t, c.want, res.State, "u=%.2f", c.u)
	}
}

func TestEvaluate_SensoryFloorForcesConservative(t *testing.T) {
	// Точность ниже пола тенанта: состояние не мягче CONSERVATIVE,
	// гамма не выше фактической точности
	res := evalWith(0.1, 0.1, 0.9)

	assert.True(t, res.SensoryPrecisionEnforced)
	assert.Equal(t, domain.GovernorConservative, res.State)
	assert.LessOrEqual(t, res.AllowedGamma, 0.1)
	assert.True(t, res.WasLimited)
}

func TestEvaluate_EmergencyCapsGammaAtFloor(t *testing.T) {
	pol := domain.DefaultTenantPolicy("t1")
	res := evalWith(0.9, 0.9, 1.0)

	assert.Equal(t, domain.GovernorEmergencySafeMode, res.State)
	assert.LessOrEqual(t, res.AllowedGamma, pol.SensoryFloor)
	assert.True(t, res.WasLimited)
}

func TestEvaluate_ClampsOutOfRangeInputs(t *testing.T) {
	res := evalWith(-5, 2, 3)

	assert.Equal(t, domain.GovernorNormal, res.State)
	assert.InDelta(t, 1.0, res.AllowedGamma, 1e-9)
}

func TestEvaluate_BasisPublished(t *testing.T) {
	res := evalWith(0.5, 0.9, 0.8)
	assert.NotEmpty(t, res.MathematicalBasis)
	assert.NotEmpty(t, res.Reason)
}
