package domain

type UnifiedDashboard struct {
	Activity  ActivityStats  `json:"activity"`  // Нагрузка и трафик
	Safety    SafetyStats    `json:"safety"`    // Отказы и эскалации
	Integrity IntegrityStats `json:"integrity"` // Состояние аудит-цепочки
	Quality   QualityStats   `json:"quality"`   // SLO/SLI (Latency)
}

type ActivityStats struct {
	RPS            float64 `json:"rps"`
	TotalDecisions int64   `json:"total_decisions"`
	ActiveTenants  int     `json:"active_tenants"`
}

type SafetyStats struct {
	BlockedDecisions   int64   `json:"blocked_decisions"`
	RejectionRatio     float64 `json:"rejection_ratio"`
	PendingEscalations int     `json:"pending_escalations"`
	RecoveryEvents     int64   `json:"recovery_events"`
}

type IntegrityStats struct {
	AnchoredTiles   int64 `json:"anchored_tiles"`
	UnanchoredTiles int64 `json:"unanchored_tiles"`
}

type QualityStats struct {
	P95Latency float64 `json:"p95_latency_ms"`
}
