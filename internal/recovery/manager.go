package recovery

/*
Пакет recovery реализует менеджер эпистемического восстановления.
Он смотрит только на скользящее окно отказов сессии и решает:
ничего не делать / включить стратегию восстановления / эскалировать человеку.
Восстановление никогда не расслабляет безопасность: стратегии меняют
поведение следующего шага агента (персона, порог неопределенности, подсказка),
но не трогают gamma и режим CBF.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"go.uber.org/zap"
)

// Repository — персистентный слой менеджера (Postgres в проде)
type Repository interface {
	CreateRecoveryRecord(ctx context.Context, rec *domain.EpistemicRecoveryRecord) error
	CreateEscalation(ctx context.Context, esc *domain.HumanEscalation) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// Насколько COGNITIVE_STALL снижает рабочий порог неопределенности агента
const stallThresholdRatio = 0.8

// Время жизни эскалации до авто-EXPIRED
const escalationTTL = 24 * time.Hour

type Manager struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(repo Repository, logger *zap.Logger) *Manager {
	return &Manager{
		repo:   repo,
		logger: logger.Named("recovery"),
		now:    time.Now,
	}
}

// CheckLivelock оценивает окно отказов сессии.
// priorAttempts — сколько попыток восстановления уже было у сессии.
func (m *Manager) CheckLivelock(ctx context.Context, tenantID, sessionID string, window *Window, priorAttempts int, pol domain.TenantPolicy) domain.EpistemicRecoveryResult {
	pol = pol.Normalize()

	count := window.Count()
	if count < pol.LivelockThreshold {
		return domain.EpistemicRecoveryResult{
			Action:  domain.RecoveryActionNone,
			Attempt: priorAttempts,
			Reason:  fmt.Sprintf("%d rejections in window, threshold %d", count, pol.LivelockThreshold),
		}
	}

	attempt := priorAttempts + 1

	if attempt > pol.MaxRecoveryAttempts {
		return m.escalate(ctx, tenantID, sessionID, window, attempt)
	}

	params := m.selectStrategy(window, pol)

	m.persistRecord(ctx, &domain.EpistemicRecoveryRecord{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		SessionID: sessionID,
		Attempt:   attempt,
		Strategy:  params.Strategy,
		Reason:    fmt.Sprintf("livelock: %d rejections in window", count),
		CreatedAt: m.now(),
	})

	m.logger.Info("livelock detected, recovery engaged",
		zap.String("session_id", sessionID),
		zap.String("strategy", string(params.Strategy)),
		zap.Int("attempt", attempt),
	)

	return domain.EpistemicRecoveryResult{
		IsLivelocked: true,
		Action:       domain.RecoveryActionEpistemic,
		Params:       &params,
		Attempt:      attempt,
		Reason:       fmt.Sprintf("livelock detected: %d rejections, strategy %s", count, params.Strategy),
	}
}

// selectStrategy выбирает стратегию по доминирующему источнику отказов
func (m *Manager) selectStrategy(window *Window, pol domain.TenantPolicy) domain.RecoveryParams {
	switch window.DominantSource() {
	case domain.RejectedByGovernor:
		// Когнитивный ступор: агент буксует на высокой неопределенности.
		// Смена персоны + сниженный порог толкают его задать уточняющий вопрос.
		return domain.RecoveryParams{
			Strategy:             domain.StrategyCognitiveStallRecovery,
			Persona:              pol.RecoveryPersona,
			UncertaintyThreshold: pol.EmergencyThreshold * stallThresholdRatio,
			SystemPromptHint:     "You appear to be stuck. State explicitly what information you are missing and ask the user a clarifying question before acting.",
		}
	default:
		// CBF/VETO: агент раз за разом упирается в границы безопасности
		return domain.RecoveryParams{
			Strategy:         domain.StrategySafetyViolationRecovery,
			SystemPromptHint: "Recent actions were blocked by safety constraints. Do not retry them. Propose a narrower, reversible alternative or ask the user how to proceed.",
		}
	}
}

func (m *Manager) escalate(ctx context.Context, tenantID, sessionID string, window *Window, attempt int) domain.EpistemicRecoveryResult {
	snapshot, err := json.Marshal(window.Snapshot())
	if err != nil {
		snapshot = []byte("[]")
	}

	esc := &domain.HumanEscalation{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		SessionID: sessionID,
		Attempt:   attempt,
		Context:   string(snapshot),
		Status:    domain.EscalationPending,
		CreatedAt: m.now(),
		UpdatedAt: m.now(),
		ExpiresAt: m.now().Add(escalationTTL),
	}

	if err := m.repo.CreateEscalation(ctx, esc); err != nil {
		// Эскалация обязана оставить след: хотя бы в логе с полным контекстом
		m.logger.Error("failed to persist escalation",
			zap.String("session_id", sessionID),
			zap.String("escalation_id", esc.ID),
			zap.Error(err),
		)
	}

	m.persistRecord(ctx, &domain.EpistemicRecoveryRecord{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		SessionID: sessionID,
		Attempt:   attempt,
		Strategy:  domain.StrategyHumanEscalation,
		Reason:    "recovery attempts exhausted",
		CreatedAt: m.now(),
	})

	m.logger.Warn("recovery attempts exhausted, escalating to human",
		zap.String("session_id", sessionID),
		zap.String("escalation_id", esc.ID),
		zap.Int("attempt", attempt),
	)

	return domain.EpistemicRecoveryResult{
		IsLivelocked: true,
		Action:       domain.RecoveryActionEscalate,
		Attempt:      attempt,
		EscalationID: esc.ID,
		Reason:       "recovery attempts exhausted, human review required",
	}
}

func (m *Manager) persistRecord(ctx context.Context, rec *domain.EpistemicRecoveryRecord) {
	if err := m.repo.CreateRecoveryRecord(ctx, rec); err != nil {
		m.logger.Error("failed to persist recovery record",
			zap.String("session_id", rec.SessionID),
			zap.Error(err),
		)
	}
}

// StartExpiryJanitor периодически переводит просроченные PENDING-эскалации
// в EXPIRED. Остановка — через контекст.
func (m *Manager) StartExpiryJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.repo.ExpireStale(ctx, m.now())
				if err != nil {
					m.logger.Error("escalation expiry sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					m.logger.Info("expired stale escalations", zap.Int64("count", n))
				}
			}
		}
	}()
}
