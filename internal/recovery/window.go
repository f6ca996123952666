package recovery

import (
	"sync"
	"time"

	"github.com/xela07ax/cato-pipeline/internal/domain"
)

// Window — скользящее time-boxed окно отказов одной сессии.
// Емкость ограничена, старые и вышедшие за окно события вытесняются.
type Window struct {
	mu       sync.Mutex
	events   []domain.RejectionEvent
	capacity int
	span     time.Duration
	now      func() time.Time
}

func NewWindow(capacity int, span time.Duration) *Window {
	if capacity <= 0 {
		capacity = 16
	}
	return &Window{
		capacity: capacity,
		span:     span,
		now:      time.Now,
	}
}

// Add фиксирует отказ
func (w *Window) Add(ev domain.RejectionEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = w.now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune()
	w.events = append(w.events, ev)
	if len(w.events) > w.capacity {
		w.events = w.events[len(w.events)-w.capacity:]
	}
}

// Count возвращает число отказов внутри окна
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	return len(w.events)
}

// DominantSource — источник, давший больше всего отказов в окне.
// При равенстве приоритет у safety-источников (CBF/VETO) перед GOVERNOR.
func (w *Window) DominantSource() domain.RejectedBy {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()

	counts := make(map[domain.RejectedBy]int)
	for _, ev := range w.events {
		counts[ev.RejectedBy]++
	}

	safety := counts[domain.RejectedByCBF] + counts[domain.RejectedByVeto]
	if counts[domain.RejectedByGovernor] > safety {
		return domain.RejectedByGovernor
	}
	if counts[domain.RejectedByVeto] > counts[domain.RejectedByCBF] {
		return domain.RejectedByVeto
	}
	return domain.RejectedByCBF
}

// Reset очищает окно (после одобренной человеком эскалации)
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = w.events[:0]
}

// Snapshot — копия событий окна (для контекста эскалации)
func (w *Window) Snapshot() []domain.RejectionEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	out := make([]domain.RejectionEvent, len(w.events))
	copy(out, w.events)
	return out
}

// prune выбрасывает события старше окна. Вызывать под мьютексом.
func (w *Window) prune() {
	if w.span <= 0 {
		return
	}
	cutoff := w.now().Add(-w.span)
	kept := w.events[:0]
	for _, ev := range w.events {
		if ev.Timestamp.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	w.events = kept
}
