package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/recovery"
	"go.uber.org/zap"
)

func addRejections(sess *Session, n int) {
	for i := 0; i < n; i++ {
		sess.Window.Add(domain.RejectionEvent{
			RejectedBy: domain.RejectedByCBF,
			Reason:     "barrier violation",
		})
	}
}

func TestSessionWindowFitsTenantLivelockThreshold(t *testing.T) {
	store := NewSessionStore(time.Hour, nil, zap.NewNop())

	pol := domain.DefaultTenantPolicy("t1")
	pol.LivelockThreshold = 40

	sess := store.GetOrCreate("t1", "u1", "s1", pol)
	addRejections(sess, 40)

	assert.Equal(t, 40, sess.Window.Count(), "window must hold at least livelockThreshold rejections")

	mgr := recovery.NewManager(fakeRecoveryRepo{}, zap.NewNop())
	res := mgr.CheckLivelock(context.Background(), "t1", "s1", sess.Window, 0, pol)
	assert.True(t, res.IsLivelocked, "threshold above default capacity must still trigger livelock")
}

func TestSessionWindowKeepsFloorForSmallThresholds(t *testing.T) {
	store := NewSessionStore(time.Hour, nil, zap.NewNop())

	pol := domain.DefaultTenantPolicy("t1") // LivelockThreshold = 5
	sess := store.GetOrCreate("t1", "u1", "s1", pol)
	addRejections(sess, 40)

	// Маленький порог не схлопывает окно: остается дефолтная емкость
	assert.Equal(t, recentActionsCap, sess.Window.Count())
}
