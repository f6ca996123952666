package auditchain

/*
Пакет auditchain ведет per-tenant хэш-цепочку аудита (append-only).
Каждая запись включает хэш предыдущей; подмена или удаление любой записи
ломает все последующие хэши. Хранилище экспонирует только INSERT и SELECT.
*/

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/xela07ax/cato-pipeline/internal/domain"
	"go.uber.org/zap"
)

// Store — персистентный слой цепочки. Мутирующих операций нет намеренно.
type Store interface {
	// AppendEntry пишет запись и возвращает присвоенный sequence number.
	// Реализация обязана сериализовать записи одного тенанта (транзакция
	// с блокировкой последней записи).
	AppendEntry(ctx context.Context, entry *domain.AuditEntry) (int64, error)
	GetLastEntry(ctx context.Context, tenantID string) (*domain.AuditEntry, error)
	GetRange(ctx context.Context, tenantID string, fromSeq, toSeq int64) ([]domain.AuditEntry, error)
}

// Число шардов мьютекса записи: тенанты одного шарда пишут по очереди
const appendShards = 64

type Chain struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	// Локальная сериализация поверх транзакционной: снимает contention
	// на row-lock базы при конкурентных записях одного тенанта
	shards [appendShards]sync.Mutex
}

func NewChain(store Store, logger *zap.Logger) *Chain {
	return &Chain{
		store:  store,
		logger: logger.Named("auditchain"),
		now:    time.Now,
	}
}

// Append дописывает запись в цепочку тенанта и возвращает ее sequence number.
// Ошибка здесь фатальна для вызывающего решения (fail-closed).
func (c *Chain) Append(ctx context.Context, tenantID string, entryType domain.AuditEntryType, content interface{}) (int64, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal content: %v", domain.ErrAuditWriteFailed, err)
	}

	mu := &c.shards[shardFor(tenantID)]
	mu.Lock()
	defer mu.Unlock()

	last, err := c.store.GetLastEntry(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("%w: read chain head: %v", domain.ErrAuditWriteFailed, err)
	}

	var prevHash string
	var seq int64 = 1
	if last != nil {
		prevHash = last.MerkleHash
		seq = last.SequenceNumber + 1
	}

	entry := &domain.AuditEntry{
		TenantID:       tenantID,
		SequenceNumber: seq,
		EntryType:      entryType,
		EntryContent:   raw,
		PreviousHash:   prevHash,
		MerkleHash:     ComputeHash(prevHash, raw, seq),
		Timestamp:      c.now(),
	}

	assigned, err := c.store.AppendEntry(ctx, entry)
	if err != nil {
		c.logger.Error("audit append failed",
			zap.String("tenant_id", tenantID),
			zap.Int64("seq", seq),
			zap.Error(err),
		)
		return 0, fmt.Errorf("%w: %v", domain.ErrAuditWriteFailed, err)
	}
	return assigned, nil
}

// ComputeHash — хэш записи: H(previousHash || content || sequenceNumber)
func ComputeHash(prevHash string, content json.RawMessage, seq int64) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(content)
	h.Write([]byte(strconv.FormatInt(seq, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

func shardFor(tenantID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	return h.Sum32() % appendShards
}
