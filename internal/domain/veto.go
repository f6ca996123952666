package domain

import "time"

// VetoSeverity — уровни сигналов независимых сенсоров безопасности
type VetoSeverity string

const (
	VetoWarning   VetoSeverity = "warning"   // Пропорциональное снижение гаммы
	VetoCritical  VetoSeverity = "critical"  // Гамма прижимается к sensory floor тенанта
	VetoEmergency VetoSeverity = "emergency" // Гамма = 0, безусловная эскалация
)

// VetoSignal — эфемерное событие от внешнего сенсора (аномалия, классификатор контента).
// Живет в активном наборе сессии до истечения TTL.
type VetoSignal struct {
	Signal     string       `json:"signal"`
	Severity   VetoSeverity `json:"severity"`
	Source     string       `json:"source"`
	SessionID  string       `json:"session_id"`
	Timestamp  time.Time    `json:"timestamp"`
	TTLSeconds int          `json:"ttl_seconds,omitempty"`
}

// VetoResult — агрегат активных сигналов сессии.
// Вето работает поверх всех остальных вердиктов и может их безусловно перекрыть.
type VetoResult struct {
	HasActiveVeto bool         `json:"has_active_veto"`
	EnforcedGamma float64      `json:"enforced_gamma"`
	Escalated     bool         `json:"escalated"`
	MaxSeverity   VetoSeverity `json:"max_severity,omitempty"` // Наивысшая severity среди активных сигналов
	Reason        string       `json:"reason,omitempty"`
}
