package domain

import (
	"errors"
	"time"
)

// RejectedBy — источник отказа, питающий детектор livelock
type RejectedBy string

const (
	RejectedByGovernor RejectedBy = "GOVERNOR"
	RejectedByCBF      RejectedBy = "CBF"
	RejectedByVeto     RejectedBy = "VETO"
)

// RejectionEvent попадает в скользящее окно сессии при каждом отказе
type RejectionEvent struct {
	Timestamp  time.Time  `json:"timestamp"`
	RejectedBy RejectedBy `json:"rejected_by"`
	Reason     string     `json:"reason"`
}

// RecoveryStrategyType — закрытое множество стратегий выхода из livelock
type RecoveryStrategyType string

const (
	StrategySafetyViolationRecovery RecoveryStrategyType = "SAFETY_VIOLATION_RECOVERY"
	StrategyCognitiveStallRecovery  RecoveryStrategyType = "COGNITIVE_STALL_RECOVERY"
	StrategyHumanEscalation         RecoveryStrategyType = "HUMAN_ESCALATION"
)

// RecoveryAction — что оркестратор сообщает вызывающей стороне
type RecoveryAction string

const (
	RecoveryActionNone      RecoveryAction = "NONE"
	RecoveryActionEpistemic RecoveryAction = "EPISTEMIC_RECOVERY"
	RecoveryActionEscalate  RecoveryAction = "ESCALATE_TO_HUMAN"
)

// RecoveryParams — параметры восстановления. Инварианты зашиты структурно:
// у типа нет полей для gamma boost или режима CBF, их невозможно сконструировать
// с другими значениями. Recovery меняет следующий шаг агента, но не расширяет
// границы дозволенного.
type RecoveryParams struct {
	Strategy             RecoveryStrategyType `json:"strategy"`
	Persona              string               `json:"persona,omitempty"`
	UncertaintyThreshold float64              `json:"uncertainty_threshold,omitempty"`
	SystemPromptHint     string               `json:"system_prompt_hint,omitempty"`
}

// GammaBoost всегда ровно 0 для любой стратегии
func (RecoveryParams) GammaBoost() float64 { return 0 }

// NonCriticalCBFMode всегда ENFORCE, включая режим восстановления
func (RecoveryParams) NonCriticalCBFMode() EnforcementMode { return EnforcementMode{} }

// EpistemicRecoveryResult возвращается менеджером восстановления оркестратору
type EpistemicRecoveryResult struct {
	IsLivelocked bool            `json:"is_livelocked"`
	Action       RecoveryAction  `json:"action"`
	Params       *RecoveryParams `json:"params,omitempty"`
	Attempt      int             `json:"attempt"`
	EscalationID string          `json:"escalation_id,omitempty"`
	Reason       string          `json:"reason"`
}

// EpistemicRecoveryRecord — персистентный след каждой попытки восстановления
type EpistemicRecoveryRecord struct {
	ID        string               `json:"id"`
	TenantID  string               `json:"tenant_id"`
	SessionID string               `json:"session_id"`
	Attempt   int                  `json:"attempt"`
	Strategy  RecoveryStrategyType `json:"strategy"`
	Reason    string               `json:"reason"`
	CreatedAt time.Time            `json:"created_at"`
}

// Статусы State Machine эскалации
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "PENDING"
	EscalationResolved EscalationStatus = "RESOLVED"
	EscalationExpired  EscalationStatus = "EXPIRED"
)

// EscalationDecision — вердикт ревьюера
type EscalationDecision string

const (
	DecisionApproved EscalationDecision = "APPROVED"
	DecisionRejected EscalationDecision = "REJECTED"
	DecisionModified EscalationDecision = "MODIFIED"
)

var (
	ErrInvalidTransition = errors.New("invalid escalation status transition")
	ErrAlreadyProcessed  = errors.New("escalation already processed")
)

// HumanEscalation создается, когда попытки восстановления исчерпаны.
// Жизненный цикл: PENDING -> RESOLVED | EXPIRED.
type HumanEscalation struct {
	ID        string           `json:"id"`
	TenantID  string           `json:"tenant_id"`
	SessionID string           `json:"session_id"`
	Attempt   int              `json:"attempt"`
	Context   string           `json:"context"` // Сериализованный снимок окна отказов
	Status    EscalationStatus `json:"status"`

	Decision   *EscalationDecision `json:"decision,omitempty"`
	Response   *string             `json:"response,omitempty"`
	ReviewerID *string             `json:"reviewer_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CanTransitionTo проверяет правила конечного автомата
func (e *HumanEscalation) CanTransitionTo(next EscalationStatus) error {
	if e.Status != EscalationPending {
		return ErrAlreadyProcessed
	}
	if next == EscalationPending {
		return ErrInvalidTransition
	}
	return nil
}
