package veto

/*
Пакет veto — сознательно самый простой и быстрый эвалюатор пайплайна.
Check обязан уметь наложить вето в том же синхронном вызове, который
диспетчеризует действие: только память, никакого сетевого I/O, никаких
блокировок поперек await-точек.

Сигналы приходят out-of-band: от внешних сенсоров через Redis Pub/Sub
(StartListener) либо через POST /v1/veto, и живут в активном наборе сессии
до истечения TTL.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"go.uber.org/zap"
)

const defaultSignalTTL = 5 * time.Minute

// Доля снижения гаммы на каждый warning-сигнал
const warningDamping = 0.5

type timedSignal struct {
	signal    domain.VetoSignal
	expiresAt time.Time
}

type Monitor struct {
	mu     sync.RWMutex
	active map[string][]timedSignal // session_id -> активные сигналы
	logger *zap.Logger
	now    func() time.Time
}

func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		active: make(map[string][]timedSignal),
		logger: logger.Named("veto"),
		now:    time.Now,
	}
}

// Raise добавляет сигнал в активный набор его сессии.
// Идемпотентен по идентичности сигнала: инстанс, принявший POST /v1/veto,
// получит тот же сигнал еще раз из своей же Redis-подписки.
func (m *Monitor) Raise(signal domain.VetoSignal) {
	if signal.Timestamp.IsZero() {
		signal.Timestamp = m.now()
	}
	ttl := defaultSignalTTL
	if signal.TTLSeconds > 0 {
		ttl = time.Duration(signal.TTLSeconds) * time.Second
	}

	m.mu.Lock()
	for _, ts := range m.active[signal.SessionID] {
		if ts.signal.Source == signal.Source && ts.signal.Signal == signal.Signal && ts.signal.Timestamp.Equal(signal.Timestamp) {
			m.mu.Unlock()
			return
		}
	}
	m.active[signal.SessionID] = append(m.active[signal.SessionID], timedSignal{
		signal:    signal,
		expiresAt: signal.Timestamp.Add(ttl),
	})
	m.mu.Unlock()

	m.logger.Warn("veto signal raised",
		zap.String("session_id", signal.SessionID),
		zap.String("severity", string(signal.Severity)),
		zap.String("source", signal.Source),
	)
}

// Check агрегирует активные сигналы сессии в вердикт.
// emergency давит гамму в 0 и эскалирует безусловно; critical прижимает к
// sensory floor тенанта; каждый warning пропорционально уменьшает гамму.
func (m *Monitor) Check(sessionID string, currentGamma float64, pol domain.TenantPolicy) domain.VetoResult {
	pol = pol.Normalize()
	signals := m.activeSignals(sessionID)

	if len(signals) == 0 {
		return domain.VetoResult{HasActiveVeto: false, EnforcedGamma: currentGamma}
	}

	result := domain.VetoResult{HasActiveVeto: true, EnforcedGamma: currentGamma, MaxSeverity: domain.VetoWarning}
	warnings := 0

	for _, s := range signals {
		switch s.Severity {
		case domain.VetoEmergency:
			// Ничто другое не имеет значения
			return domain.VetoResult{
				HasActiveVeto: true,
				EnforcedGamma: 0,
				Escalated:     true,
				MaxSeverity:   domain.VetoEmergency,
				Reason:        fmt.Sprintf("emergency veto from %s: %s", s.Source, s.Signal),
			}
		case domain.VetoCritical:
			if result.EnforcedGamma > pol.SensoryFloor {
				result.EnforcedGamma = pol.SensoryFloor
			}
			result.MaxSeverity = domain.VetoCritical
			result.Reason = fmt.Sprintf("critical veto from %s: %s", s.Source, s.Signal)
		case domain.VetoWarning:
			warnings++
		}
	}

	if warnings > 0 {
		for i := 0; i < warnings; i++ {
			result.EnforcedGamma *= warningDamping
		}
		if result.Reason == "" {
			result.Reason = fmt.Sprintf("%d warning veto signal(s) active", warnings)
		}
	}

	return result
}

// activeSignals отдает живые сигналы и попутно выбрасывает истекшие
func (m *Monitor) activeSignals(sessionID string) []domain.VetoSignal {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.active[sessionID]
	if len(stored) == 0 {
		return nil
	}

	kept := stored[:0]
	out := make([]domain.VetoSignal, 0, len(stored))
	for _, ts := range stored {
		if ts.expiresAt.After(now) {
			kept = append(kept, ts)
			out = append(out, ts.signal)
		}
	}

	if len(kept) == 0 {
		delete(m.active, sessionID)
	} else {
		m.active[sessionID] = kept
	}
	return out
}

// ForgetSession чистит набор при истечении сессии
func (m *Monitor) ForgetSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, sessionID)
}

// StartListener подписывается на сигналы сенсоров в Redis.
// Формат сообщения — JSON VetoSignal.
func (m *Monitor) StartListener(ctx context.Context, rdb *redis.Client) {
	infra.ListenResilient(ctx, rdb, m.logger, infra.RedisChanVetoSignals,
		nil,
		func(payload string) {
			var signal domain.VetoSignal
			if err := json.Unmarshal([]byte(payload), &signal); err != nil {
				m.logger.Error("invalid veto signal payload", zap.Error(err))
				return
			}
			if signal.SessionID == "" {
				m.logger.Error("veto signal without session_id dropped")
				return
			}
			m.Raise(signal)
		},
	)
}
