package veto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"go.uber.org/zap"
)

func newTestMonitor(now time.Time) (*Monitor, *time.Time) {
	m := NewMonitor(zap.NewNop())
	current := now
	m.now = func() time.Time { return current }
	return m, &current
}

func TestCheck_NoSignalsPassesGammaThrough(t *testing.T) {
	m, _ := newTestMonitor(time.Now())

	res := m.Check("s1", 0.7, domain.DefaultTenantPolicy("t1"))

	assert.False(t, res.HasActiveVeto)
	assert.InDelta(t, 0.7, res.EnforcedGamma, 1e-9)
}

func TestCheck_EmergencyZeroesGammaAndEscalates(t *testing.T) {
	m, _ := newTestMonitor(time.Now())
	m.Raise(domain.VetoSignal{
		Signal:    "anomaly-spike",
		Severity:  domain.VetoEmergency,
		Source:    "sensor-7",
		SessionID: "s1",
	})

	res := m.Check("s1", 0.9, domain.DefaultTenantPolicy("t1"))

	assert.True(t, res.HasActiveVeto)
	assert.True(t, res.Escalated)
	assert.Zero(t, res.EnforcedGamma)
	assert.Equal(t, domain.VetoEmergency, res.MaxSeverity)
}

func TestCheck_CriticalClampsToSensoryFloor(t *testing.T) {
	m, _ := newTestMonitor(time.Now())
	m.Raise(domain.VetoSignal{
		Signal:    "content-flag",
		Severity:  domain.VetoCritical,
		Source:    "classifier",
		SessionID: "s1",
	})

	pol := domain.DefaultTenantPolicy("t1")
	res := m.Check("s1", 0.9, pol)

	assert.True(t, res.HasActiveVeto)
	assert.False(t, res.Escalated)
	assert.InDelta(t, pol.SensoryFloor, res.EnforcedGamma, 1e-9)
	assert.Equal(t, domain.VetoCritical, res.MaxSeverity)
}

func TestCheck_WarningsDampGammaProportionally(t *testing.T) {
	m, now := newTestMonitor(time.Now())
	base := *now
	m.Raise(domain.VetoSignal{Signal: "w1", Severity: domain.VetoWarning, Source: "a", SessionID: "s1", Timestamp: base})
	m.Raise(domain.VetoSignal{Signal: "w2", Severity: domain.VetoWarning, Source: "a", SessionID: "s1", Timestamp: base})

	res := m.Check("s1", 0.8, domain.DefaultTenantPolicy("t1"))

	assert.True(t, res.HasActiveVeto)
	assert.InDelta(t, 0.8*warningDamping*warningDamping, res.EnforcedGamma, 1e-9)
	assert.Equal(t, domain.VetoWarning, res.MaxSeverity)
}

func TestCheck_ExpiredSignalsDropped(t *testing.T) {
	m, current := newTestMonitor(time.Now())
	m.Raise(domain.VetoSignal{
		Signal:     "short-lived",
		Severity:   domain.VetoCritical,
		Source:     "sensor",
		SessionID:  "s1",
		TTLSeconds: 10,
	})

	*current = current.Add(11 * time.Second)

	res := m.Check("s1", 0.9, domain.DefaultTenantPolicy("t1"))
	assert.False(t, res.HasActiveVeto)
	assert.InDelta(t, 0.9, res.EnforcedGamma, 1e-9)
}

func TestRaise_IdempotentOnIdenticalSignal(t *testing.T) {
	m, now := newTestMonitor(time.Now())
	sig := domain.VetoSignal{
		Signal:    "dup",
		Severity:  domain.VetoWarning,
		Source:    "sensor",
		SessionID: "s1",
		Timestamp: *now,
	}
	m.Raise(sig)
	m.Raise(sig) // тот же сигнал из собственной Redis-подписки

	res := m.Check("s1", 0.8, domain.DefaultTenantPolicy("t1"))
	assert.InDelta(t, 0.8*warningDamping, res.EnforcedGamma, 1e-9, "duplicate must not damp twice")
}

func TestForgetSession(t *testing.T) {
	m, _ := newTestMonitor(time.Now())
	m.Raise(domain.VetoSignal{Signal: "x", Severity: domain.VetoEmergency, Source: "s", SessionID: "s1"})

	m.ForgetSession("s1")

	res := m.Check("s1", 0.5, domain.DefaultTenantPolicy("t1"))
	assert.False(t, res.HasActiveVeto)
}
