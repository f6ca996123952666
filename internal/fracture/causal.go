package fracture

import (
	"strings"
	"sync"
)

// CausalLedger хранит каузальные утверждения сессии.
// Утверждение — нормализованная строка; префикс "!" означает отрицание.
// Противоречие = в журнале уже есть то же утверждение с обратной полярностью.
type CausalLedger struct {
	mu       sync.Mutex
	polarity map[string]bool // statement -> полярность (true = утверждается)
}

func NewCausalLedger() *CausalLedger {
	return &CausalLedger{polarity: make(map[string]bool)}
}

// Observe фиксирует новые утверждения и возвращает список противоречий
// с ранее записанными (латентная трещина).
func (l *CausalLedger) Observe(claims []string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var contradictions []string
	for _, raw := range claims {
		statement, positive := normalizeClaim(raw)
		if statement == "" {
			continue
		}

		if prev, seen := l.polarity[statement]; seen && prev != positive {
			contradictions = append(contradictions, statement)
			continue // Полярность не перезаписываем: первая запись — точка отсчета
		}
		l.polarity[statement] = positive
	}
	return contradictions
}

func normalizeClaim(raw string) (statement string, positive bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(s, "!") {
		return strings.TrimSpace(s[1:]), false
	}
	return s, true
}
