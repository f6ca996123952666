package barrier

/*
Пакет barrier реализует CBF-движок (Control Barrier Functions): фиксированный
набор ограничений, которые обязаны оставаться выполненными. Нарушение
блокирует действие, а не предупреждает.

Движок вычисляет ВСЕ барьеры без short-circuit — результат описывает полную
поверхность ограничений, а не первый сработавший. Ошибка логики одного
барьера деградирует в «считаем нарушенным» (fail-closed), никогда в «пропустим
проверку».
*/

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xela07ax/cato-pipeline/internal/domain"
	"go.uber.org/zap"
)

// Ключи параметров действия, повышающие PII/PHI-вероятность контента
var sensitiveParamKeys = []string{"ssn", "dob", "email", "phone", "address", "diagnosis", "mrn", "patient"}

type Engine struct {
	logger *zap.Logger

	// Счетчики частоты per-session для RATE-барьеров
	mu       sync.Mutex
	rateHits map[string][]time.Time
	now      func() time.Time
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		logger:   logger.Named("cbf"),
		rateHits: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Check оценивает действие против набора барьеров.
// Классификация: любое нарушение критичного барьера => inadmissible и
// CriticalViolation; нарушение некритичного => admissibility по политике
// тенанта (дефолт: все равно inadmissible), но с SafeAlternative.
func (e *Engine) Check(action domain.ProposedAction, state domain.SystemState, barriers []domain.BarrierDefinition, pol domain.TenantPolicy) domain.CBFResult {
	pol = pol.Normalize()

	evals := make([]domain.BarrierEvaluation, 0, len(barriers))
	for _, b := range barriers {
		if !b.Active {
			continue
		}
		evals = append(evals, e.evaluate(b, action, state))
	}

	result := domain.CBFResult{IsAdmissible: true, Evaluations: evals}

	var firstViolation *domain.BarrierEvaluation
	for i := range evals {
		if !evals[i].Violated {
			continue
		}
		if firstViolation == nil {
			firstViolation = &evals[i]
		}
		if evals[i].Critical && result.CriticalViolation == nil {
			result.CriticalViolation = &evals[i]
		}
	}

	if result.CriticalViolation != nil {
		result.IsAdmissible = false
		result.SafeAlternative = buildAlternative(*result.CriticalViolation, action, state, pol)
		return result
	}

	if firstViolation != nil {
		// Некритичное нарушение: блокировка определяется политикой тенанта,
		// альтернатива генерируется всегда
		result.IsAdmissible = !pol.NonCriticalBlocks
		result.SafeAlternative = buildAlternative(*firstViolation, action, state, pol)
	}

	return result
}

// evaluate защищен от паник и ошибок отдельного барьера:
// сломанная проверка превращается в нарушение, не в пропуск.
func (e *Engine) evaluate(b domain.BarrierDefinition, action domain.ProposedAction, state domain.SystemState) (ev domain.BarrierEvaluation) {
	ev = domain.BarrierEvaluation{
		BarrierID: b.ID,
		Name:      b.Name,
		Type:      b.Type,
		Threshold: b.Threshold.Threshold,
		Critical:  b.IsCritical,
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("barrier evaluation panic, failing closed",
				zap.String("barrier_id", b.ID), zap.Any("panic", r))
			ev.Violated = true
			ev.Err = "evaluation failed, treated as violated"
		}
	}()

	value, err := e.barrierValue(b, action, state)
	if err != nil {
		e.logger.Warn("barrier evaluation error, failing closed",
			zap.String("barrier_id", b.ID), zap.Error(err))
		ev.Violated = true
		ev.Err = "evaluation failed, treated as violated"
		return ev
	}

	ev.Value = value
	ev.Violated = value > b.Threshold.Threshold
	return ev
}

// barrierValue вычисляет скалярное значение барьера.
// switch закрыт по BarrierType: новый тип не скомпилируется без ветки здесь.
func (e *Engine) barrierValue(b domain.BarrierDefinition, action domain.ProposedAction, state domain.SystemState) (float64, error) {
	switch b.Type {
	case domain.BarrierContent:
		return contentScore(action), nil

	case domain.BarrierCost:
		// Прогнозируемая стоимость сессии после действия
		return state.RunningCost + action.EstimatedCost, nil

	case domain.BarrierRate:
		window := b.Threshold.WindowSeconds
		if window <= 0 {
			window = 60
		}
		return float64(e.countRate(state.SessionID, time.Duration(window)*time.Second)), nil

	case domain.BarrierAuth:
		return scopeMismatches(action, state), nil

	case domain.BarrierCustom:
		if b.Threshold.Param == "" {
			return 0, fmt.Errorf("custom barrier %s has no param configured", b.ID)
		}
		raw, ok := action.Parameters[b.Threshold.Param]
		if !ok {
			return 0, nil // Параметра нет — барьер не задет
		}
		// В JSON числа всегда парсятся в float64
		val, ok := raw.(float64)
		if !ok {
			return 0, fmt.Errorf("param %q is not numeric", b.Threshold.Param)
		}
		return val, nil

	default:
		return 0, fmt.Errorf("unknown barrier type %q", b.Type)
	}
}

// contentScore — PII/PHI-вероятность. Явные флаги дают 1.0,
// иначе эвристика по именам параметров. Сам классификатор контента
// живет выше по стеку, здесь только контракт барьера.
func contentScore(action domain.ProposedAction) float64 {
	if action.ContainsPHI || action.ContainsPII {
		return 1.0
	}
	score := 0.0
	for key := range action.Parameters {
		lower := strings.ToLower(key)
		for _, s := range sensitiveParamKeys {
			if strings.Contains(lower, s) {
				score += 0.25
				break
			}
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// scopeMismatches — число требуемых скоупов, не покрытых выданными
func scopeMismatches(action domain.ProposedAction, state domain.SystemState) float64 {
	if len(action.RequiredScopes) == 0 {
		return 0
	}

	granted := make(map[string]bool)
	if raw, ok := state.TenantSettings["scopes"]; ok {
		switch v := raw.(type) {
		case []string:
			for _, s := range v {
				granted[s] = true
			}
		case []interface{}:
			for _, s := range v {
				if str, ok := s.(string); ok {
					granted[str] = true
				}
			}
		case map[string]bool:
			granted = v
		}
	}

	mismatches := 0
	for _, req := range action.RequiredScopes {
		if !granted[req] {
			mismatches++
		}
	}
	return float64(mismatches)
}

// countRate регистрирует обращение сессии и возвращает частоту в окне
func (e *Engine) countRate(sessionID string, window time.Duration) int {
	now := e.now()
	cutoff := now.Add(-window)

	e.mu.Lock()
	defer e.mu.Unlock()

	hits := e.rateHits[sessionID]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	e.rateHits[sessionID] = kept
	return len(kept)
}

// ForgetSession чистит частотные счетчики при истечении сессии
func (e *Engine) ForgetSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rateHits, sessionID)
}
