package domain

import "time"

// ActionType классифицирует, что именно агент собирается сделать
type ActionType string

const (
	ActionModelCall  ActionType = "MODEL_CALL"  // Вызов LLM
	ActionToolCall   ActionType = "TOOL_CALL"   // Вызов внешнего инструмента
	ActionMemoWrite  ActionType = "MEMORY_WRITE"
	ActionSideEffect ActionType = "SIDE_EFFECT" // Необратимое действие во внешнем мире
)

// SystemState — снапшот состояния сессии на момент оценки.
// Мутируется ровно один раз за цикл действия (оркестратором), владелец — сессия.
type SystemState struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	// Эпистемические входы. Считаются выше по стеку, здесь только числа [0,1]
	EpistemicUncertainty float64 `json:"epistemic_uncertainty"`
	SensoryPrecision     float64 `json:"sensory_precision"`

	ActivePersona  string                 `json:"active_persona"`
	TenantSettings map[string]interface{} `json:"tenant_settings,omitempty"`

	RunningCost  float64   `json:"running_cost"`  // Накопленная стоимость сессии (USD)
	RequestCount int64     `json:"request_count"` // Сколько действий уже прошло через пайплайн
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProposedAction — кандидат на исполнение. Иммутабелен после конструирования:
// эвалюаторы читают, но никогда не изменяют.
type ProposedAction struct {
	Type           ActionType             `json:"type"`
	ModelID        string                 `json:"model_id,omitempty"`
	EstimatedCost  float64                `json:"estimated_cost"`
	ContainsPHI    bool                   `json:"contains_phi"`
	ContainsPII    bool                   `json:"contains_pii"`
	IsDestructive  bool                   `json:"is_destructive"`
	RequiredScopes []string               `json:"required_scopes,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
}

// WithoutParameter возвращает копию действия без указанного параметра.
// Используется при генерации safe alternative (REDUCE_SCOPE).
func (a ProposedAction) WithoutParameter(key string) ProposedAction {
	restricted := a
	restricted.Parameters = make(map[string]interface{}, len(a.Parameters))
	for k, v := range a.Parameters {
		if k == key {
			continue
		}
		restricted.Parameters[k] = v
	}
	return restricted
}

// ExecutionContext — скорректированный контекст для ретрая после recovery.
// Меняет, КАКОЕ действие агент попробует дальше, но не ЧТО ему разрешено.
type ExecutionContext struct {
	Persona              string  `json:"persona"`
	UncertaintyThreshold float64 `json:"uncertainty_threshold"`
	SystemPromptHint     string  `json:"system_prompt_hint,omitempty"`
	RequestedGamma       float64 `json:"requested_gamma"`
}
