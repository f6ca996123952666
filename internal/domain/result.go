package domain

// BlockedBy — какой компонент закрыл дверь
type BlockedBy string

const (
	BlockedByGovernor BlockedBy = "GOVERNOR"
	BlockedByCBF      BlockedBy = "CBF"
	BlockedByVeto     BlockedBy = "VETO"
)

// SafetyPipelineResult — единственный выход пайплайна. Только он определяет,
// исполняется ли действие, модифицируется (SafeAlternative) или отклоняется.
type SafetyPipelineResult struct {
	Allowed   bool      `json:"allowed"`
	BlockedBy BlockedBy `json:"blocked_by,omitempty"` // Пусто при allow и при системной ошибке
	Reason    string    `json:"reason,omitempty"`     // Человекочитаемо, без внутренних деталей

	Governor *GovernorResult          `json:"governor,omitempty"`
	CBF      *CBFResult               `json:"cbf,omitempty"`
	Veto     *VetoResult              `json:"veto,omitempty"`
	Fracture *FractureResult          `json:"fracture,omitempty"`
	Recovery *EpistemicRecoveryResult `json:"recovery,omitempty"`

	SafeAlternative  *SafeAlternative  `json:"safe_alternative,omitempty"`
	RetryWithContext *ExecutionContext `json:"retry_with_context,omitempty"`

	// SystemError=true означает отказ самого пайплайна (например, не записался аудит).
	// Всегда сопровождается Allowed=false и пустым BlockedBy.
	SystemError bool `json:"system_error,omitempty"`

	AuditSequence int64  `json:"audit_sequence,omitempty"`
	TraceID       string `json:"trace_id"`
	DurationMs    int64  `json:"duration_ms"`
}
