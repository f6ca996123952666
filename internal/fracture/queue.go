package fracture

/*
Файл queue.go реализует фоновый воркер ASYNC-энтропии.

Ключевые особенности архитектуры:
- Non-blocking Enqueue: постановка задания не блокирует Hot Path пайплайна,
  при переполнении очереди работает Load Shedding с логированием.
- Drain Pattern & Graceful Shutdown: при остановке сервис вычитывает остаток
  очереди до конца. Завершение горутины происходит исключительно через
  закрытие входного канала.
- Поздний результат никогда не мутирует уже записанный аудит: воркер отдает
  готовую проверку хендлеру, который пишет НОВУЮ запись со ссылкой на job id.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/sampler"
	"go.uber.org/zap"
)

// Job — одно отложенное энтропийное задание
type Job struct {
	JobID       string
	TenantID    string
	SessionID   string
	Prompt      string
	OriginalSeq int64 // Запись решения, к которой привязан результат
	EnqueuedAt  time.Time
}

// ResultHandler вызывается воркером по завершении задания
type ResultHandler func(ctx context.Context, job Job, check domain.FractureCheck)

type Worker struct {
	ch      chan Job
	sampler sampler.Sampler
	handler ResultHandler
	timeout time.Duration
	logger  *zap.Logger
	gauge   prometheus.Gauge // Заполненность очереди (backpressure)
	wg      sync.WaitGroup
	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Enqueue после остановки
	isClosed int32
}

func NewWorker(s sampler.Sampler, handler ResultHandler, queueSize int, timeout time.Duration, gauge prometheus.Gauge, logger *zap.Logger) *Worker {
	return &Worker{
		ch:      make(chan Job, queueSize),
		sampler: s,
		handler: handler,
		timeout: timeout,
		logger:  logger.With(zap.String("mod", "entropy-worker")),
		gauge:   gauge,
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё доработает.
func (w *Worker) Stop() {
	// 1. Сначала ставим флаг
	atomic.StoreInt32(&w.isClosed, 1)

	// 2. Даем крошечную паузу, чтобы текущие Enqueue успели проскочить
	time.Sleep(10 * time.Millisecond)

	// 3. Drain Pattern: закрываем канал, воркер дочитывает остатки и выходит
	w.logger.Info("stopping entropy worker: closing queue and draining...")
	close(w.ch)
	w.wg.Wait()
	w.logger.Info("entropy worker stopped gracefully")
}

// Enqueue ставит задание без блокировки вызывающего
func (w *Worker) Enqueue(job Job) bool {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	// Атомарно проверяем, не закрыт ли канал
	if atomic.LoadInt32(&w.isClosed) == 1 {
		w.logger.Warn("entropy job dropped: worker is stopping", zap.String("job_id", job.JobID))
		return false
	}

	// Стратегия Load Shedding (сброс нагрузки)
	select {
	case w.ch <- job:
		w.gauge.Set(float64(len(w.ch)))
		return true
	default:
		// Очередь переполнена (Backpressure) — фиксируем потерю явно
		w.logger.Error("entropy_queue_overflow",
			zap.String("job_id", job.JobID),
			zap.String("session_id", job.SessionID),
		)
		return false
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for job := range w.ch {
		w.gauge.Set(float64(len(w.ch)))
		w.process(job)
	}
	w.logger.Info("entropy worker finished")
}

func (w *Worker) process(job Job) {
	// Основной контекст может быть уже закрыт — у задания свой таймаут
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	check := domain.FractureCheck{Ran: true}

	generations, err := w.sampler.Sample(ctx, job.Prompt, entropySamples)
	if err != nil {
		w.logger.Error("entropy sampling failed", zap.String("job_id", job.JobID), zap.Error(err))
		check.Ran = false
		check.Detail = "sampling failed"
	} else {
		check.Score = consistencyScore(generations)
		check.Severity = entropySeverity(check.Score)
	}

	w.handler(ctx, job, check)
}
