package domain

import "time"

// BarrierType — закрытое множество типов CBF-ограничений.
// Добавление нового типа требует обновления каждого switch в движке.
type BarrierType string

const (
	BarrierContent BarrierType = "CONTENT" // PII/PHI-вероятность контента
	BarrierCost    BarrierType = "COST"    // Прогнозируемая стоимость vs потолок
	BarrierRate    BarrierType = "RATE"    // Частота запросов сессии
	BarrierAuth    BarrierType = "AUTH"    // Несовпадение скоупов авторизации
	BarrierCustom  BarrierType = "CUSTOM"  // Порог на произвольный числовой параметр
)

// EnforcementMode — тип нулевого размера: режим структурно всегда ENFORCE.
// WARN/DISABLED недостижимы из кода — смягчение возможно только деактивацией
// самого определения барьера (аудируемое админское действие).
type EnforcementMode struct{}

func (EnforcementMode) String() string { return "ENFORCE" }

func (EnforcementMode) MarshalJSON() ([]byte, error) { return []byte(`"ENFORCE"`), nil }

func (*EnforcementMode) UnmarshalJSON([]byte) error { return nil }

// ThresholdConfig — настройка порога барьера.
// Param используется типами CUSTOM (имя числового параметра действия)
// и AUTH/RATE для уточнения окна/поля.
type ThresholdConfig struct {
	Threshold     float64 `json:"threshold"`
	Param         string  `json:"param,omitempty"`
	WindowSeconds int     `json:"window_seconds,omitempty"`
}

// BarrierScope ограничивает применимость определения
type BarrierScope string

const (
	ScopeGlobal BarrierScope = "GLOBAL" // Для всех тенантов
	ScopeTenant BarrierScope = "TENANT"
)

// BarrierDefinition — долгоживущая конфигурационная сущность.
// Создается админами через Console API, для пайплайна read-only.
type BarrierDefinition struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"` // "*" для глобальных барьеров
	Name        string          `json:"name"`
	Type        BarrierType     `json:"type"`
	IsCritical  bool            `json:"is_critical"`
	Enforcement EnforcementMode `json:"enforcement_mode"`
	Threshold   ThresholdConfig `json:"threshold_config"`
	Scope       BarrierScope    `json:"scope"`
	Active      bool            `json:"active"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// BarrierEvaluation — результат проверки одного барьера.
// Err заполняется при fail-closed деградации (сбой логики = нарушение).
type BarrierEvaluation struct {
	BarrierID string      `json:"barrier_id"`
	Name      string      `json:"name"`
	Type      BarrierType `json:"type"`
	Value     float64     `json:"value"`
	Threshold float64     `json:"threshold"`
	Violated  bool        `json:"violated"`
	Critical  bool        `json:"critical"`
	Err       string      `json:"error,omitempty"`
}

// CBFResult — полная картина ограничений по одному действию.
// Барьеры вычисляются все, без short-circuit.
type CBFResult struct {
	IsAdmissible      bool                `json:"is_admissible"`
	Evaluations       []BarrierEvaluation `json:"evaluations"`
	CriticalViolation *BarrierEvaluation  `json:"critical_violation,omitempty"`
	SafeAlternative   *SafeAlternative    `json:"safe_alternative,omitempty"`
}

// AlternativeStrategy — как предложить агенту безопасный путь
type AlternativeStrategy string

const (
	StrategyRejectAndAsk       AlternativeStrategy = "REJECT_AND_ASK"
	StrategyReduceScope        AlternativeStrategy = "REDUCE_SCOPE"
	StrategySuggestAlternative AlternativeStrategy = "SUGGEST_ALTERNATIVE"
)

// SafeAlternative генерируется при нарушении некритичного барьера.
// UserMessage — единственное, что видит конечный пользователь (без порогов и стектрейсов).
type SafeAlternative struct {
	Strategy         AlternativeStrategy `json:"strategy"`
	UserMessage      string              `json:"user_message"`
	RestrictedAction *ProposedAction     `json:"restricted_action,omitempty"`
}
