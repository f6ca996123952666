package domain

// TenantPolicy — версионированный иммутабельный снапшот настроек тенанта.
// Передается в каждый вызов оценки; обновление порождает новый снапшот,
// конкурентные оценки никогда не видят полуобновленных порогов.
type TenantPolicy struct {
	TenantID string `json:"tenant_id"`
	Version  int64  `json:"version"`

	// Пороги губернатора (сравниваются с epistemic uncertainty)
	CautiousThreshold     float64 `json:"cautious_threshold"`
	ConservativeThreshold float64 `json:"conservative_threshold"`
	EmergencyThreshold    float64 `json:"emergency_threshold"`
	SensoryFloor          float64 `json:"sensory_floor"`

	// Некритичное нарушение барьера: блокировать (дефолт) или пропускать с альтернативой
	NonCriticalBlocks bool `json:"non_critical_blocks"`

	// Детектор livelock
	LivelockThreshold     int `json:"livelock_threshold"`
	RecoveryWindowSeconds int `json:"recovery_window_seconds"`
	MaxRecoveryAttempts   int `json:"max_recovery_attempts"`

	RecoveryPersona string `json:"recovery_persona"`

	// Fracture-подпроверки
	CausalCheckEnabled    bool        `json:"causal_check_enabled"`
	NarrativeCheckEnabled bool        `json:"narrative_check_enabled"`
	EntropyMode           EntropyMode `json:"entropy_mode"`
	EntropySyncTimeoutMs  int         `json:"entropy_sync_timeout_ms"`
}

// RecoveryPersonaName — персона, в которую принудительно переводится агент
// при COGNITIVE_STALL_RECOVERY, если тенант не задал свою.
const RecoveryPersonaName = "epistemic-guide"

// DefaultTenantPolicy возвращает консервативные дефолты.
// Пустая политика не должна означать «все разрешено» (Zero Trust).
func DefaultTenantPolicy(tenantID string) TenantPolicy {
	return TenantPolicy{
		TenantID:              tenantID,
		Version:               1,
		CautiousThreshold:     0.3,
		ConservativeThreshold: 0.6,
		EmergencyThreshold:    0.85,
		SensoryFloor:          0.2,
		NonCriticalBlocks:     true,
		LivelockThreshold:     5,
		RecoveryWindowSeconds: 300,
		MaxRecoveryAttempts:   3,
		RecoveryPersona:       RecoveryPersonaName,
		CausalCheckEnabled:    true,
		NarrativeCheckEnabled: true,
		EntropyMode:           EntropyAsync,
		EntropySyncTimeoutMs:  1500,
	}
}

// Normalize подставляет дефолты вместо нулевых порогов.
// Битая конфигурация деградирует в строгую, не в мягкую.
func (p TenantPolicy) Normalize() TenantPolicy {
	def := DefaultTenantPolicy(p.TenantID)
	if p.CautiousThreshold <= 0 || p.CautiousThreshold > 1 {
		p.CautiousThreshold = def.CautiousThreshold
	}
	if p.ConservativeThreshold <= 0 || p.ConservativeThreshold > 1 {
		p.ConservativeThreshold = def.ConservativeThreshold
	}
	if p.EmergencyThreshold <= 0 || p.EmergencyThreshold > 1 {
		p.EmergencyThreshold = def.EmergencyThreshold
	}
	if p.SensoryFloor <= 0 || p.SensoryFloor > 1 {
		p.SensoryFloor = def.SensoryFloor
	}
	if p.LivelockThreshold <= 0 {
		p.LivelockThreshold = def.LivelockThreshold
	}
	if p.RecoveryWindowSeconds <= 0 {
		p.RecoveryWindowSeconds = def.RecoveryWindowSeconds
	}
	if p.MaxRecoveryAttempts <= 0 {
		p.MaxRecoveryAttempts = def.MaxRecoveryAttempts
	}
	if p.RecoveryPersona == "" {
		p.RecoveryPersona = def.RecoveryPersona
	}
	if p.EntropyMode == "" {
		p.EntropyMode = EntropySkip
	}
	if p.EntropySyncTimeoutMs <= 0 {
		p.EntropySyncTimeoutMs = def.EntropySyncTimeoutMs
	}
	return p
}
