package barrier

import (
	"fmt"

	"github.com/xela07ax/cato-pipeline/internal/domain"
)

// buildAlternative выбирает стратегию безопасной альтернативы.
// Правила выбора:
//   - деструктивные действия и критичные нарушения -> REJECT_AND_ASK;
//   - сужаемые нарушения (стоимость, кастомный параметр) -> REDUCE_SCOPE;
//   - остальное -> SUGGEST_ALTERNATIVE.
//
// UserMessage не содержит порогов и внутренних деталей: они остаются
// в аудите и админке.
func buildAlternative(violation domain.BarrierEvaluation, action domain.ProposedAction, state domain.SystemState, pol domain.TenantPolicy) *domain.SafeAlternative {
	if action.IsDestructive || violation.Critical {
		return &domain.SafeAlternative{
			Strategy:    domain.StrategyRejectAndAsk,
			UserMessage: "This request can't be carried out as asked. Could you narrow down what you need?",
		}
	}

	switch violation.Type {
	case domain.BarrierCost:
		restricted := action
		headroom := violation.Threshold - state.RunningCost
		if headroom < 0 {
			headroom = 0
		}
		restricted.EstimatedCost = headroom
		return &domain.SafeAlternative{
			Strategy:         domain.StrategyReduceScope,
			UserMessage:      "The request exceeds the current budget. A smaller version of it can run instead.",
			RestrictedAction: &restricted,
		}

	case domain.BarrierCustom:
		// Убираем именно тот параметр, который пробил порог
		restricted := action.WithoutParameter(findParam(violation, action))
		return &domain.SafeAlternative{
			Strategy:         domain.StrategyReduceScope,
			UserMessage:      "Part of the request is outside the allowed limits and was removed.",
			RestrictedAction: &restricted,
		}

	default:
		return &domain.SafeAlternative{
			Strategy:    domain.StrategySuggestAlternative,
			UserMessage: fmt.Sprintf("The request was declined by a safety check (%s). Try rephrasing or reducing its scope.", violation.Name),
		}
	}
}

// findParam восстанавливает имя параметра по значению нарушения.
// Кастомный барьер знает свой Param только в определении, поэтому ищем
// числовой параметр с совпавшим значением.
func findParam(violation domain.BarrierEvaluation, action domain.ProposedAction) string {
	for k, v := range action.Parameters {
		if f, ok := v.(float64); ok && f == violation.Value {
			return k
		}
	}
	return ""
}
