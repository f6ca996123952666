package pipeline

/*
Файл session.go — владелец эфемерного состояния сессий.
Все мутации SystemState происходят здесь, ровно один раз за цикл действия.
Протухшие сессии выбрасывает janitor, попутно чистя связанные наборы
(veto-сигналы, rate-счетчики барьеров).
*/

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/fracture"
	"github.com/xela07ax/cato-pipeline/internal/recovery"
	"go.uber.org/zap"
)

// Сколько последних действий сессии хранится для narrative-проверки
const recentActionsCap = 32

type Session struct {
	mu sync.Mutex

	State            domain.SystemState
	Window           *recovery.Window
	Ledger           *fracture.CausalLedger
	RecentActions    []domain.ActionType
	RecoveryAttempts int

	// Взведен, пока эскалация этой сессии ждет вердикта ревьюера
	escalationPending bool

	lastSeen time.Time
}

// Touch мутирует снапшот состояния под блокировкой сессии
func (s *Session) Touch(fn func(*domain.SystemState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.State)
	s.State.UpdatedAt = time.Now()
}

// RecordAction добавляет исполненное действие в хвост narrative-истории
func (s *Session) RecordAction(t domain.ActionType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecentActions = append(s.RecentActions, t)
	if len(s.RecentActions) > recentActionsCap {
		s.RecentActions = s.RecentActions[len(s.RecentActions)-recentActionsCap:]
	}
}

// RecentSnapshot — копия истории действий для детектора
func (s *Session) RecentSnapshot() []domain.ActionType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ActionType, len(s.RecentActions))
	copy(out, s.RecentActions)
	return out
}

// BumpAttempts фиксирует использованную попытку восстановления
func (s *Session) BumpAttempts(attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt > s.RecoveryAttempts {
		s.RecoveryAttempts = attempt
	}
}

func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RecoveryAttempts
}

// ResetRecovery размораживает сессию после одобренной эскалации:
// окно отказов и счетчик попыток начинаются заново
func (s *Session) ResetRecovery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecoveryAttempts = 0
	s.Window.Reset()
}

// MarkEscalationPending фиксирует, что сессия ждет вердикта ревьюера
func (s *Session) MarkEscalationPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalationPending = true
}

// ClearEscalationPending снимает флаг и сообщает, был ли он взведен.
// Нужен, чтобы широковещательный вердикт уменьшал gauge только на инстансе,
// который эту эскалацию поднимал.
func (s *Session) ClearEscalationPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.escalationPending
	s.escalationPending = false
	return was
}

// SessionStore — TTL-хранилище сессий в памяти процесса
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	logger   *zap.Logger

	// Колбэк на выселение: чистка veto-сигналов и rate-счетчиков сессии
	onEvict func(sessionID string)
}

func NewSessionStore(ttl time.Duration, onEvict func(sessionID string), logger *zap.Logger) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger.Named("sessions"),
		onEvict:  onEvict,
	}
}

// GetOrCreate возвращает сессию, создавая ее при первом действии.
// Окно отказов наследует recoveryWindowSeconds политики тенанта.
func (st *SessionStore) GetOrCreate(tenantID, userID, sessionID string, pol domain.TenantPolicy) *Session {
	st.mu.RLock()
	if s, ok := st.sessions[sessionID]; ok {
		st.mu.RUnlock()
		st.touch(s)
		return s
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[sessionID]; ok {
		s.lastSeen = time.Now()
		return s
	}

	pol = pol.Normalize()
	// Окно обязано вмещать порог livelock тенанта: окно меньше порога
	// никогда не наберет нужное число отказов
	windowCap := pol.LivelockThreshold
	if windowCap < recentActionsCap {
		windowCap = recentActionsCap
	}
	s := &Session{
		State: domain.SystemState{
			TenantID:  tenantID,
			UserID:    userID,
			SessionID: sessionID,
			UpdatedAt: time.Now(),
		},
		Window:   recovery.NewWindow(windowCap, time.Duration(pol.RecoveryWindowSeconds)*time.Second),
		Ledger:   fracture.NewCausalLedger(),
		lastSeen: time.Now(),
	}
	st.sessions[sessionID] = s
	return s
}

// Lookup возвращает сессию без создания (nil, если не живет на этом инстансе)
func (st *SessionStore) Lookup(sessionID string) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[sessionID]
}

func (st *SessionStore) touch(s *Session) {
	st.mu.Lock()
	s.lastSeen = time.Now()
	st.mu.Unlock()
}

// StartJanitor периодически выселяет протухшие сессии
func (st *SessionStore) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.sweep()
			}
		}
	}()
}

func (st *SessionStore) sweep() {
	cutoff := time.Now().Add(-st.ttl)

	st.mu.Lock()
	var evicted []string
	for id, s := range st.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(st.sessions, id)
			evicted = append(evicted, id)
		}
	}
	st.mu.Unlock()

	for _, id := range evicted {
		if st.onEvict != nil {
			st.onEvict(id)
		}
	}
	if len(evicted) > 0 {
		st.logger.Info("evicted expired sessions", zap.Int("count", len(evicted)))
	}
}
