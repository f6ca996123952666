package domain

// GovernorState — упорядоченные режимы точности. Сравнимы через < и >.
type GovernorState int

const (
	GovernorNormal GovernorState = iota
	GovernorCautious
	GovernorConservative
	GovernorEmergencySafeMode
)

func (s GovernorState) String() string {
	switch s {
	case GovernorNormal:
		return "NORMAL"
	case GovernorCautious:
		return "CAUTIOUS"
	case GovernorConservative:
		return "CONSERVATIVE"
	case GovernorEmergencySafeMode:
		return "EMERGENCY_SAFE_MODE"
	default:
		return "UNKNOWN"
	}
}

func (s GovernorState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// GovernorResult — результат оценки губернатора. Создается заново на каждый вызов,
// живет только внутри записи решения.
type GovernorResult struct {
	AllowedGamma             float64       `json:"allowed_gamma"`
	State                    GovernorState `json:"governor_state"`
	WasLimited               bool          `json:"was_limited"`
	SensoryPrecisionEnforced bool          `json:"sensory_precision_enforced"`
	Reason                   string        `json:"reason"`
	MathematicalBasis        string        `json:"mathematical_basis"` // Формула публикуется для аудита, не прячется
}
