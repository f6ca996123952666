package pipeline

/*
Файл orchestrator.go — ядро принятия решения. Один вызов EvaluateAction —
одно решение о допуске действия и ровно одна запись в аудит-цепочку,
выполненная ДО возврата результата вызывающей стороне.

Машина состояний действия:
RECEIVED -> (Governor || CBF || Veto, конкурентно, общий бюджет) ->
[FRACTURE] -> [RECOVERY] -> AUDITED -> DONE.

Short-circuit: emergency/critical вето либо критичное нарушение CBF завершают
оценку с allowed=false, но стадия AUDITED выполняется всегда, без исключений.
Если аудит записать не удалось — действие не разрешается (fail-closed).
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/cato-pipeline/internal/auditchain"
	"github.com/xela07ax/cato-pipeline/internal/barrier"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/fracture"
	"github.com/xela07ax/cato-pipeline/internal/governor"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"github.com/xela07ax/cato-pipeline/internal/recovery"
	"github.com/xela07ax/cato-pipeline/internal/veto"
	"go.uber.org/zap"
)

// Бюджет на запись решения: аудит переживает отмену вызывающего контекста
const auditWriteBudget = 5 * time.Second

// EvaluateRequest — вход единственной точки допуска
type EvaluateRequest struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	Action domain.ProposedAction `json:"action"`

	// Эпистемические входы считаются выше по стеку
	EpistemicUncertainty float64 `json:"epistemic_uncertainty"`
	SensoryPrecision     float64 `json:"sensory_precision"`
	RequestedGamma       float64 `json:"requested_gamma"`

	TraceID string `json:"trace_id,omitempty"`
}

type Orchestrator struct {
	gov      *governor.Governor
	engine   *barrier.Engine
	barriers *barrier.MemoSet
	vetoes   *veto.Monitor
	detector *fracture.Detector
	recovery *recovery.Manager
	chain    *auditchain.Chain
	sessions *SessionStore
	policies *PolicyCache

	metrics *Metrics
	cfg     infra.PipelineConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewOrchestrator(
	gov *governor.Governor,
	engine *barrier.Engine,
	barriers *barrier.MemoSet,
	vetoes *veto.Monitor,
	detector *fracture.Detector,
	recoveryMgr *recovery.Manager,
	chain *auditchain.Chain,
	sessions *SessionStore,
	policies *PolicyCache,
	metrics *Metrics,
	cfg infra.PipelineConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		gov:      gov,
		engine:   engine,
		barriers: barriers,
		vetoes:   vetoes,
		detector: detector,
		recovery: recoveryMgr,
		chain:    chain,
		sessions: sessions,
		policies: policies,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		now:      time.Now,
	}
}

// decisionRecord — содержимое аудит-записи одного решения
type decisionRecord struct {
	TraceID   string                `json:"trace_id"`
	SessionID string                `json:"session_id"`
	UserID    string                `json:"user_id"`
	Action    domain.ProposedAction `json:"action"`

	Allowed    bool             `json:"allowed"`
	BlockedBy  domain.BlockedBy `json:"blocked_by,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	DurationMs int64            `json:"duration_ms"`

	Governor *domain.GovernorResult          `json:"governor,omitempty"`
	CBF      *domain.CBFResult               `json:"cbf,omitempty"`
	Veto     *domain.VetoResult              `json:"veto,omitempty"`
	Fracture *domain.FractureResult          `json:"fracture,omitempty"`
	Recovery *domain.EpistemicRecoveryResult `json:"recovery,omitempty"`

	// Корреляция для позднего результата ASYNC-энтропии
	BackgroundJobID string `json:"background_job_id,omitempty"`
}

// EvaluateAction — единственная точка допуска действий агента
func (o *Orchestrator) EvaluateAction(ctx context.Context, req EvaluateRequest) domain.SafetyPipelineResult {
	started := o.now()
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}

	pol := o.policies.For(req.TenantID)
	sess := o.sessions.GetOrCreate(req.TenantID, req.UserID, req.SessionID, pol)

	// Единственная мутация SystemState за цикл действия
	sess.Touch(func(s *domain.SystemState) {
		s.EpistemicUncertainty = req.EpistemicUncertainty
		s.SensoryPrecision = req.SensoryPrecision
		s.RequestCount++
	})
	state := sess.State

	result := domain.SafetyPipelineResult{TraceID: traceID}

	// Конкурентные независимые стадии с общим бюджетом
	stages, stageErr := o.runStages(ctx, req, state, pol)
	if stageErr != nil {
		return o.finishDegraded(ctx, req, sess, pol, traceID, started, stageErr)
	}
	result.Governor = stages.gov
	result.CBF = stages.cbf
	result.Veto = stages.veto

	if stages.gov.WasLimited {
		o.metrics.GovernorLimited.Inc()
	}
	o.countViolations(stages.cbf)

	// Порядок вердиктов: вето перекрывает все, затем CBF, затем губернатор
	switch {
	case stages.veto.Escalated || stages.veto.MaxSeverity == domain.VetoCritical:
		result.Allowed = false
		result.BlockedBy = domain.BlockedByVeto
		result.Reason = stages.veto.Reason
		o.metrics.VetoEvents.WithLabelValues(string(stages.veto.MaxSeverity)).Inc()

	case !stages.cbf.IsAdmissible:
		result.Allowed = false
		result.BlockedBy = domain.BlockedByCBF
		result.Reason = cbfReason(stages.cbf)
		result.SafeAlternative = stages.cbf.SafeAlternative

	case stages.gov.State == domain.GovernorEmergencySafeMode:
		// Аварийный режим: агент не действует, пока неопределенность не спадет
		result.Allowed = false
		result.BlockedBy = domain.BlockedByGovernor
		result.Reason = stages.gov.Reason

	default:
		result.Allowed = true
	}

	// Fracture-проверки гоняются и для заблокированных действий не нужны:
	// действие не исполнится, а сигнал отказа уже есть
	if result.Allowed {
		fr := o.detector.Detect(ctx, req.Action, fracture.SessionContext{
			TenantID:      req.TenantID,
			SessionID:     req.SessionID,
			Ledger:        sess.Ledger,
			RecentActions: sess.RecentSnapshot(),
		}, pol)
		result.Fracture = &fr

		// critical трактуется как жесткий отказ уровня CBF
		if fr.Severity == domain.FractureCritical {
			result.Allowed = false
			result.BlockedBy = domain.BlockedByCBF
			result.Reason = fractureReason(fr)
		}
	}

	// Отказ питает окно livelock и может включить восстановление
	if !result.Allowed {
		sess.Window.Add(domain.RejectionEvent{
			Timestamp:  o.now(),
			RejectedBy: domain.RejectedBy(result.BlockedBy),
			Reason:     result.Reason,
		})

		rec := o.recovery.CheckLivelock(ctx, req.TenantID, req.SessionID, sess.Window, sess.Attempts(), pol)
		if rec.Action != domain.RecoveryActionNone {
			sess.BumpAttempts(rec.Attempt)
			result.Recovery = &rec
			o.metrics.RecoveryEvents.WithLabelValues(recoveryStrategyLabel(rec)).Inc()
			if rec.Action == domain.RecoveryActionEscalate {
				sess.MarkEscalationPending()
				o.metrics.PendingEscalations.Inc()
			}

			if rec.Params != nil {
				result.RetryWithContext = &domain.ExecutionContext{
					Persona:              personaOrCurrent(rec.Params.Persona, state.ActivePersona),
					UncertaintyThreshold: rec.Params.UncertaintyThreshold,
					SystemPromptHint:     rec.Params.SystemPromptHint,
					RequestedGamma:       stages.gov.AllowedGamma,
				}
			}
		}
	}

	return o.finish(req, sess, &result, started)
}

// finish пишет решение в аудит и замыкает результат.
// AUDITED — безусловная стадия: без записи нет разрешения.
func (o *Orchestrator) finish(req EvaluateRequest, sess *Session, result *domain.SafetyPipelineResult, started time.Time) domain.SafetyPipelineResult {
	result.DurationMs = o.now().Sub(started).Milliseconds()

	record := decisionRecord{
		TraceID:    result.TraceID,
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		Action:     req.Action,
		Allowed:    result.Allowed,
		BlockedBy:  result.BlockedBy,
		Reason:     result.Reason,
		DurationMs: result.DurationMs,
		Governor:   result.Governor,
		CBF:        result.CBF,
		Veto:       result.Veto,
		Fracture:   result.Fracture,
		Recovery:   result.Recovery,
	}
	if result.Fracture != nil {
		record.BackgroundJobID = result.Fracture.BackgroundJobID
	}

	// Аудит живет на собственном контексте: отмена вызывающего не дает
	// права потерять запись
	auditCtx, cancel := context.WithTimeout(context.Background(), auditWriteBudget)
	defer cancel()

	seq, err := o.chain.Append(auditCtx, req.TenantID, domain.EntryDecision, record)
	if err != nil {
		o.metrics.AuditAppendFailures.Inc()
		o.logger.Error("decision not recorded, denying action",
			zap.String("trace_id", result.TraceID),
			zap.Error(err),
		)
		o.observe(req.TenantID, "system_error", started)
		return domain.SafetyPipelineResult{
			Allowed:     false,
			Reason:      "safety decision could not be durably recorded",
			SystemError: true,
			TraceID:     result.TraceID,
			DurationMs:  o.now().Sub(started).Milliseconds(),
		}
	}
	result.AuditSequence = seq

	if result.Allowed {
		sess.RecordAction(req.Action.Type)

		// ASYNC-энтропия стартует только теперь: заданию нужен sequence number
		if result.Fracture != nil && result.Fracture.BackgroundJobID != "" {
			o.detector.ScheduleEntropy(req.Action, fracture.SessionContext{
				TenantID:    req.TenantID,
				SessionID:   req.SessionID,
				DecisionSeq: seq,
			}, result.Fracture.BackgroundJobID)
		}
		o.observe(req.TenantID, "allowed", started)
	} else {
		o.observe(req.TenantID, "blocked", started)
	}

	return *result
}

// stageResults — выходы конкурентных стадий
type stageResults struct {
	gov  *domain.GovernorResult
	cbf  *domain.CBFResult
	veto *domain.VetoResult
}

var errStageBudget = fmt.Errorf("evaluation stage budget exceeded")

// runStages гоняет Governor/CBF/Veto конкурентно и джойнит с бюджетом.
// Таймаут и отмена — деградация в fail-closed, никогда в fail-open.
func (o *Orchestrator) runStages(ctx context.Context, req EvaluateRequest, state domain.SystemState, pol domain.TenantPolicy) (stageResults, error) {
	if err := ctx.Err(); err != nil {
		return stageResults{}, err
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageBudget)
	defer cancel()

	govCh := make(chan domain.GovernorResult, 1)
	cbfCh := make(chan domain.CBFResult, 1)
	vetoCh := make(chan domain.VetoResult, 1)

	go func() {
		govCh <- o.gov.Evaluate(governor.Params{
			EpistemicUncertainty:    req.EpistemicUncertainty,
			CurrentSensoryPrecision: req.SensoryPrecision,
			RequestedGamma:          req.RequestedGamma,
		}, pol)
	}()

	go func() {
		defs, loaded := o.barriers.ForTenant(req.TenantID)
		if !loaded {
			// Снапшот барьеров не загружен — это не «барьеров нет», это deny
			cbfCh <- domain.CBFResult{
				IsAdmissible: false,
				Evaluations: []domain.BarrierEvaluation{{
					Name:     "barrier-snapshot",
					Violated: true,
					Critical: true,
					Err:      "barrier snapshot not loaded",
				}},
			}
			return
		}
		cbfCh <- o.engine.Check(req.Action, state, defs, pol)
	}()

	go func() {
		vetoCh <- o.vetoes.Check(req.SessionID, req.RequestedGamma, pol)
	}()

	var out stageResults
	for i := 0; i < 3; i++ {
		select {
		case g := <-govCh:
			out.gov = &g
		case c := <-cbfCh:
			out.cbf = &c
		case v := <-vetoCh:
			out.veto = &v
		case <-stageCtx.Done():
			if ctx.Err() != nil {
				return out, ctx.Err() // Отмена вызывающего
			}
			return out, errStageBudget
		}
	}
	return out, nil
}

// finishDegraded закрывает оценку, не дождавшуюся стадий: таймаут бюджета
// или отмена вызывающего. Запись в аудит происходит и здесь.
func (o *Orchestrator) finishDegraded(ctx context.Context, req EvaluateRequest, sess *Session, pol domain.TenantPolicy, traceID string, started time.Time, cause error) domain.SafetyPipelineResult {
	entryType := domain.EntryDegradation
	reason := "evaluation exceeded stage budget, failing closed"
	if ctx.Err() != nil {
		entryType = domain.EntryDecisionIncomplete
		reason = "caller cancelled before decision completed"
	}

	o.logger.Warn("evaluation degraded",
		zap.String("trace_id", traceID),
		zap.String("session_id", req.SessionID),
		zap.Error(cause),
	)

	record := decisionRecord{
		TraceID:   traceID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Action:    req.Action,
		Allowed:   false,
		Reason:    reason,
	}

	auditCtx, cancel := context.WithTimeout(context.Background(), auditWriteBudget)
	defer cancel()

	seq, err := o.chain.Append(auditCtx, req.TenantID, entryType, record)
	if err != nil {
		o.metrics.AuditAppendFailures.Inc()
		o.observe(req.TenantID, "system_error", started)
		return domain.SafetyPipelineResult{
			Allowed:     false,
			Reason:      "safety decision could not be durably recorded",
			SystemError: true,
			TraceID:     traceID,
			DurationMs:  o.now().Sub(started).Milliseconds(),
		}
	}

	o.observe(req.TenantID, "blocked", started)
	return domain.SafetyPipelineResult{
		Allowed:       false,
		Reason:        reason,
		TraceID:       traceID,
		AuditSequence: seq,
		DurationMs:    o.now().Sub(started).Milliseconds(),
	}
}

// HandleEntropyResult принимает поздний результат ASYNC-энтропии.
// История не мутируется: пишется НОВАЯ запись со ссылкой на исходную,
// а критичная находка поднимает корректирующее emergency-вето на сессию.
func (o *Orchestrator) HandleEntropyResult(ctx context.Context, job fracture.Job, check domain.FractureCheck) {
	content := map[string]interface{}{
		"job_id":       job.JobID,
		"original_seq": job.OriginalSeq,
		"session_id":   job.SessionID,
		"check":        check,
	}

	if _, err := o.chain.Append(ctx, job.TenantID, domain.EntryFractureFollowup, content); err != nil {
		o.metrics.AuditAppendFailures.Inc()
		o.logger.Error("fracture follow-up not recorded",
			zap.String("job_id", job.JobID),
			zap.Error(err),
		)
	}

	if check.Severity == domain.FractureCritical {
		o.vetoes.Raise(domain.VetoSignal{
			Signal:    fmt.Sprintf("late critical fracture finding (job %s)", job.JobID),
			Severity:  domain.VetoEmergency,
			Source:    "fracture-detector",
			SessionID: job.SessionID,
		})
		o.logger.Warn("late critical fracture, emergency veto raised",
			zap.String("session_id", job.SessionID),
			zap.String("job_id", job.JobID),
		)
	}
}

// RaiseVeto — входная точка для внешних сенсоров (POST /v1/veto)
func (o *Orchestrator) RaiseVeto(signal domain.VetoSignal) {
	o.vetoes.Raise(signal)
	o.metrics.VetoEvents.WithLabelValues(string(signal.Severity)).Inc()
}

func (o *Orchestrator) observe(tenantID, outcome string, started time.Time) {
	o.metrics.EvaluationsTotal.WithLabelValues(tenantID, outcome).Inc()
	o.metrics.EvaluationDuration.WithLabelValues(tenantID, outcome).Observe(o.now().Sub(started).Seconds())
}

func (o *Orchestrator) countViolations(cbf *domain.CBFResult) {
	for _, ev := range cbf.Evaluations {
		if ev.Violated {
			o.metrics.CBFViolations.WithLabelValues(string(ev.Type), fmt.Sprintf("%t", ev.Critical)).Inc()
		}
	}
}

func cbfReason(cbf *domain.CBFResult) string {
	if cbf.CriticalViolation != nil {
		return fmt.Sprintf("critical barrier %q violated", cbf.CriticalViolation.Name)
	}
	for _, ev := range cbf.Evaluations {
		if ev.Violated {
			return fmt.Sprintf("barrier %q violated", ev.Name)
		}
	}
	return "action is not admissible"
}

func fractureReason(fr domain.FractureResult) string {
	for _, check := range []domain.FractureCheck{fr.Causal, fr.Narrative, fr.Entropy} {
		if check.Severity == domain.FractureCritical {
			return fmt.Sprintf("critical fracture detected: %s", check.Detail)
		}
	}
	return "critical fracture detected"
}

func recoveryStrategyLabel(rec domain.EpistemicRecoveryResult) string {
	if rec.Action == domain.RecoveryActionEscalate {
		return string(domain.StrategyHumanEscalation)
	}
	if rec.Params != nil {
		return string(rec.Params.Strategy)
	}
	return "unknown"
}

func personaOrCurrent(persona, current string) string {
	if persona != "" {
		return persona
	}
	return current
}
