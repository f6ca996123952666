package governor

/*
Пакет governor реализует Precision Governor — главный ограничитель
«уверенности» агента. Чистая функция: никаких side effects, полностью
детерминирован по входам, тривиально тестируется юнитами.

Губернатор никогда не поднимает точность выше, чем оправдывает
неопределенность, — это основной rate-limiter уверенности в системе.
*/

import (
	"fmt"

	"github.com/xela07ax/cato-pipeline/internal/domain"
)

// Params — входы одной оценки
type Params struct {
	EpistemicUncertainty    float64 `json:"epistemic_uncertainty"`
	CurrentSensoryPrecision float64 `json:"current_sensory_precision"`
	RequestedGamma          float64 `json:"requested_gamma"`
}

type Governor struct {
	decay DecayFunc
}

// New создает губернатор с выбранной стратегией затухания.
// nil означает дефолтную экспоненциальную.
func New(decay DecayFunc) *Governor {
	if decay == nil {
		decay = ExponentialDecay{Lambda: defaultLambda}
	}
	return &Governor{decay: decay}
}

// Evaluate вычисляет допустимую гамму и состояние губернатора.
// Ниже CautiousThreshold неопределенность считается рабочей нормой и гамма
// не режется; выше — множитель строго убывает.
func (g *Governor) Evaluate(p Params, pol domain.TenantPolicy) domain.GovernorResult {
	pol = pol.Normalize()

	u := clamp01(p.EpistemicUncertainty)
	precision := clamp01(p.CurrentSensoryPrecision)
	requested := clamp01(p.RequestedGamma)

	// Масштабируем неопределенность в [0,1] относительно рабочей зоны
	var scaled float64
	if u > pol.CautiousThreshold {
		scaled = (u - pol.CautiousThreshold) / (1 - pol.CautiousThreshold)
	}

	allowed := requested * g.decay.Factor(scaled)

	state := domain.GovernorNormal
	switch {
	case u >= pol.EmergencyThreshold:
		state = domain.GovernorEmergencySafeMode
	case u >= pol.ConservativeThreshold:
		state = domain.GovernorConservative
	case u >= pol.CautiousThreshold:
		state = domain.GovernorCautious
	}

	// Принудительный пол сенсорной точности: деградировавшие сенсоры
	// не дают права на уверенные действия
	enforced := false
	if precision < pol.SensoryFloor {
		enforced = true
		if state < domain.GovernorConservative {
			state = domain.GovernorConservative
		}
		if allowed > precision {
			allowed = precision
		}
	}

	// В аварийном режиме гамма прижимается к полу
	if state == domain.GovernorEmergencySafeMode && allowed > pol.SensoryFloor {
		allowed = pol.SensoryFloor
	}

	return domain.GovernorResult{
		AllowedGamma:             allowed,
		State:                    state,
		WasLimited:               allowed < requested,
		SensoryPrecisionEnforced: enforced,
		Reason:                   reasonFor(state, enforced),
		MathematicalBasis:        g.decay.Basis(),
	}
}

func reasonFor(state domain.GovernorState, enforced bool) string {
	if enforced {
		return fmt.Sprintf("sensory precision below tenant floor, state %s", state)
	}
	return fmt.Sprintf("epistemic uncertainty maps to state %s", state)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
