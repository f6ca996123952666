package fracture

/*
Пакет fracture реализует детектор «трещин» — статистические и каузальные
проверки согласованности, выявляющие потенциальный обман или рассогласование
рассуждений агента. Три независимые подпроверки (causal, narrative, entropy)
включаются per-tenant; итоговая severity — максимум по подпроверкам,
critical трактуется оркестратором как жесткий отказ уровня CBF.
*/

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/sampler"
	"go.uber.org/zap"
)

// SessionContext — срез эфемерного состояния сессии, нужный детектору
type SessionContext struct {
	TenantID      string
	SessionID     string
	Ledger        *CausalLedger
	RecentActions []domain.ActionType
	DecisionSeq   int64 // Для корреляции ASYNC-результата с записью решения
}

type Detector struct {
	sampler sampler.Sampler
	worker  *Worker // nil => ASYNC недоступен, деградация в SKIP
	logger  *zap.Logger
}

func NewDetector(s sampler.Sampler, worker *Worker, logger *zap.Logger) *Detector {
	return &Detector{
		sampler: s,
		worker:  worker,
		logger:  logger.Named("fracture"),
	}
}

// Detect прогоняет настроенные подпроверки.
// SYNC-энтропия с истекшим таймаутом деградирует в SKIP с логом,
// никогда не превращается в молчаливый pass.
func (d *Detector) Detect(ctx context.Context, action domain.ProposedAction, sess SessionContext, pol domain.TenantPolicy) domain.FractureResult {
	pol = pol.Normalize()

	result := domain.FractureResult{}

	if pol.CausalCheckEnabled && sess.Ledger != nil {
		result.Causal = d.causalCheck(action, sess)
	}
	if pol.NarrativeCheckEnabled {
		result.Narrative = narrativeCheck(action, sess)
	}

	switch pol.EntropyMode {
	case domain.EntropySync:
		result.Entropy = d.entropySync(ctx, action, pol)
	case domain.EntropyAsync:
		// Сам запуск откладывается до записи решения в аудит: заданию нужен
		// sequence number для корреляции. Здесь только резервируем job id.
		if stringParam(action, "justification") != "" && d.worker != nil {
			result.BackgroundJobID = uuid.New().String()
			result.Entropy = domain.FractureCheck{Ran: false, Detail: "scheduled async"}
		}
	case domain.EntropySkip:
		// Выключено конфигурацией
	}

	result.Severity = result.Max()
	return result
}

// causalCheck сверяет заявленные каузальные утверждения действия
// с журналом сессии
func (d *Detector) causalCheck(action domain.ProposedAction, sess SessionContext) domain.FractureCheck {
	claims := stringSlice(action.Parameters["claims"])
	if len(claims) == 0 {
		return domain.FractureCheck{Ran: true, Score: 1.0}
	}

	contradictions := sess.Ledger.Observe(claims)
	check := domain.FractureCheck{
		Ran:   true,
		Score: 1.0 - float64(len(contradictions))/float64(len(claims)),
	}

	if len(contradictions) > 0 {
		// Латентная трещина: действие обосновано утверждением,
		// противоречащим ранее зафиксированному
		check.Severity = domain.FractureModerate
		if action.IsDestructive {
			check.Severity = domain.FractureCritical
		}
		check.Detail = "latent fracture: justification contradicts recorded causal claims"
		d.logger.Warn("latent fracture detected",
			zap.String("session_id", sess.SessionID),
			zap.Strings("contradicted", contradictions),
		)
	}
	return check
}

// narrativeCheck — согласованность заявленного плана с фактической
// последовательностью действий
func narrativeCheck(action domain.ProposedAction, sess SessionContext) domain.FractureCheck {
	plan := stringSlice(action.Parameters["plan"])
	if len(plan) == 0 {
		return domain.FractureCheck{Ran: true, Score: 1.0}
	}

	planned := make(map[string]struct{}, len(plan))
	for _, p := range plan {
		planned[p] = struct{}{}
	}

	executed := append([]domain.ActionType{}, sess.RecentActions...)
	executed = append(executed, action.Type)

	matched := 0
	for _, a := range executed {
		if _, ok := planned[string(a)]; ok {
			matched++
		}
	}
	score := float64(matched) / float64(len(executed))

	check := domain.FractureCheck{Ran: true, Score: score}
	switch {
	case score < 0.25:
		check.Severity = domain.FractureModerate
		check.Detail = "action sequence diverges sharply from stated plan"
	case score < 0.5:
		check.Severity = domain.FractureMinor
		check.Detail = "action sequence drifts from stated plan"
	}
	return check
}

func (d *Detector) entropySync(ctx context.Context, action domain.ProposedAction, pol domain.TenantPolicy) domain.FractureCheck {
	prompt := stringParam(action, "justification")
	if prompt == "" {
		return domain.FractureCheck{Ran: false, Detail: "no justification to sample"}
	}

	tCtx, cancel := context.WithTimeout(ctx, time.Duration(pol.EntropySyncTimeoutMs)*time.Millisecond)
	defer cancel()

	generations, err := d.sampler.Sample(tCtx, prompt, entropySamples)
	if err != nil {
		// Деградация по таймауту/ошибке = SKIP с явным следом, не тихий pass
		d.logger.Warn("sync entropy check degraded to skip", zap.Error(err))
		return domain.FractureCheck{Ran: false, Detail: "degraded: " + err.Error()}
	}

	score := consistencyScore(generations)
	return domain.FractureCheck{
		Ran:      true,
		Score:    score,
		Severity: entropySeverity(score),
	}
}

// ScheduleEntropy ставит зарезервированное в Detect задание в очередь.
// Вызывается оркестратором после записи решения, когда известен sequence number.
func (d *Detector) ScheduleEntropy(action domain.ProposedAction, sess SessionContext, jobID string) {
	if jobID == "" || d.worker == nil {
		return
	}
	d.worker.Enqueue(Job{
		JobID:       jobID,
		TenantID:    sess.TenantID,
		SessionID:   sess.SessionID,
		Prompt:      stringParam(action, "justification"),
		OriginalSeq: sess.DecisionSeq,
	})
}

func stringParam(action domain.ProposedAction, key string) string {
	if raw, ok := action.Parameters[key]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}

func stringSlice(raw interface{}) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
