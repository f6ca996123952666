package domain

// FractureSeverity — упорядоченная серьезность признаков обмана/рассогласования
type FractureSeverity int

const (
	FractureNone FractureSeverity = iota
	FractureMinor
	FractureModerate
	FractureCritical
)

func (s FractureSeverity) String() string {
	switch s {
	case FractureNone:
		return "none"
	case FractureMinor:
		return "minor"
	case FractureModerate:
		return "moderate"
	case FractureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s FractureSeverity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// EntropyMode — режим запуска энтропийной подпроверки
type EntropyMode string

const (
	EntropySync  EntropyMode = "SYNC"  // Блокирует пайплайн, severity гейтит действие
	EntropyAsync EntropyMode = "ASYNC" // Fire-and-forget, результат доклеивается в аудит
	EntropySkip  EntropyMode = "SKIP"
)

// FractureCheck — результат одной подпроверки. Ran=false когда проверка
// выключена конфигурацией или деградировала по таймауту.
type FractureCheck struct {
	Ran      bool             `json:"ran"`
	Score    float64          `json:"score"`
	Severity FractureSeverity `json:"severity"`
	Detail   string           `json:"detail,omitempty"`
}

// FractureResult — композит трех опциональных подпроверок.
// Итоговая Severity = максимум по подпроверкам.
type FractureResult struct {
	Causal          FractureCheck    `json:"causal"`
	Narrative       FractureCheck    `json:"narrative"`
	Entropy         FractureCheck    `json:"entropy"`
	Severity        FractureSeverity `json:"severity"`
	BackgroundJobID string           `json:"background_job_id,omitempty"` // Корреляция для ASYNC-результата
}

// Max возвращает агрегированную серьезность
func (r *FractureResult) Max() FractureSeverity {
	max := r.Causal.Severity
	if r.Narrative.Severity > max {
		max = r.Narrative.Severity
	}
	if r.Entropy.Severity > max {
		max = r.Entropy.Severity
	}
	return max
}
