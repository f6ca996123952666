package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// AuditEntryType классифицирует записи цепочки
type AuditEntryType string

const (
	EntryDecision           AuditEntryType = "DECISION"            // Одно решение пайплайна
	EntryDecisionIncomplete AuditEntryType = "DECISION_INCOMPLETE" // Вызов отменен до завершения
	EntryRecovery           AuditEntryType = "RECOVERY"
	EntryEscalation         AuditEntryType = "ESCALATION"
	EntryFractureFollowup   AuditEntryType = "FRACTURE_FOLLOWUP" // Поздний результат ASYNC-энтропии
	EntryBarrierAdmin       AuditEntryType = "BARRIER_ADMIN"     // Изменение конфигурации барьеров
	EntryPolicyAdmin        AuditEntryType = "POLICY_ADMIN"      // Изменение политики тенанта
	EntryDegradation        AuditEntryType = "DEGRADATION"       // Таймаут/деградация стадии
)

// ErrAuditWriteFailed — фатальная ошибка пайплайна: решение, которое нельзя
// записать, не может быть разрешено.
var ErrAuditWriteFailed = errors.New("audit append failed")

// AuditEntry — одна запись хэш-цепочки. Создается ровно один раз,
// никогда не обновляется и не удаляется (хранилище не экспонирует UPDATE/DELETE).
type AuditEntry struct {
	TenantID       string          `json:"tenant_id"`
	SequenceNumber int64           `json:"sequence_number"` // Монотонный, per-tenant, без дыр
	EntryType      AuditEntryType  `json:"entry_type"`
	EntryContent   json.RawMessage `json:"entry_content"`
	PreviousHash   string          `json:"previous_hash"` // merkleHash записи n-1 того же тенанта
	MerkleHash     string          `json:"merkle_hash"`   // H(prev || content || seq)
	Timestamp      time.Time       `json:"timestamp"`
}

// AuditTile финализируется каждые N записей и якорится во внешнем
// иммутабельном хранилище.
type AuditTile struct {
	TenantID     string     `json:"tenant_id"`
	TileIndex    int64      `json:"tile_index"`
	FromSeq      int64      `json:"from_seq"`
	ToSeq        int64      `json:"to_seq"`
	TileRootHash string     `json:"tile_root_hash"`
	AnchoredAt   *time.Time `json:"anchored_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// VerifyResult — итог перепроверки цепочки по диапазону
type VerifyResult struct {
	IsValid          bool     `json:"is_valid"`
	Errors           []string `json:"errors"`
	FirstMismatchSeq int64    `json:"first_mismatch_seq,omitempty"`
}
