package auditchain

/*
Тайлы: каждые TileSize записей цепочка тенанта финализируется в тайл,
корневой хэш которого якорится во внешнем write-once хранилище.
Даже администратор БД, переписавший цепочку целиком, не может подменить
уже опубликованный якорь.
*/

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"go.uber.org/zap"
)

// TileStore — персистентный слой тайлов
type TileStore interface {
	// ListTenants возвращает тенантов, у которых есть записи цепочки
	ListTenants(ctx context.Context) ([]string, error)
	GetLastTile(ctx context.Context, tenantID string) (*domain.AuditTile, error)
	CreateTile(ctx context.Context, tile *domain.AuditTile) error
	MarkAnchored(ctx context.Context, tenantID string, tileIndex int64, at time.Time) error
}

// Anchorer публикует корневой хэш тайла во внешнее write-once хранилище
type Anchorer interface {
	Anchor(ctx context.Context, tenantID string, tileIndex int64, rootHash string) error
}

// RedisAnchorer пишет якорь через SETNX: повторная публикация с другим
// значением невозможна.
type RedisAnchorer struct {
	rdb *redis.Client
}

func NewRedisAnchorer(rdb *redis.Client) *RedisAnchorer {
	return &RedisAnchorer{rdb: rdb}
}

func (a *RedisAnchorer) Anchor(ctx context.Context, tenantID string, tileIndex int64, rootHash string) error {
	key := infra.GetAnchorKey(tenantID, tileIndex)
	ok, err := a.rdb.SetNX(ctx, key, rootHash, 0).Result()
	if err != nil {
		return fmt.Errorf("anchor setnx: %w", err)
	}
	if !ok {
		// Ключ уже существует: сверяем, что там тот же хэш
		existing, err := a.rdb.Get(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("anchor readback: %w", err)
		}
		if existing != rootHash {
			return fmt.Errorf("anchor conflict for %s: existing hash differs", key)
		}
	}
	return nil
}

// NoopAnchorer — для окружений без внешнего якоря (dev/test)
type NoopAnchorer struct{}

func (NoopAnchorer) Anchor(context.Context, string, int64, string) error { return nil }

// SweepLock сериализует проход по тенантам между инстансами,
// чтобы два воркера не строили один тайл параллельно
type SweepLock interface {
	TryLock(ctx context.Context, ttl time.Duration) bool
	Unlock(ctx context.Context)
}

// RedisSweepLock — SETNX-блокировка с TTL на случай падения держателя
type RedisSweepLock struct {
	rdb *redis.Client
	key string
}

func NewRedisSweepLock(rdb *redis.Client) *RedisSweepLock {
	return &RedisSweepLock{rdb: rdb, key: infra.RedisKeyLockAnchor}
}

func (l *RedisSweepLock) TryLock(ctx context.Context, ttl time.Duration) bool {
	ok, err := l.rdb.SetNX(ctx, l.key, "1", ttl).Result()
	return err == nil && ok
}

func (l *RedisSweepLock) Unlock(ctx context.Context) {
	l.rdb.Del(ctx, l.key)
}

// Верхняя граница одного прохода: протухший лок подбирает следующий инстанс
const sweepLockTTL = 2 * time.Minute

// TileBuilder — фоновый воркер, достраивающий и якорящий тайлы
type TileBuilder struct {
	chain    *Chain
	tiles    TileStore
	anchorer Anchorer
	lock     SweepLock
	tileSize int64
	logger   *zap.Logger
}

// NewTileBuilder собирает воркер тайлов. lock может быть nil (single-instance).
func NewTileBuilder(chain *Chain, tiles TileStore, anchorer Anchorer, lock SweepLock, tileSize int64, logger *zap.Logger) *TileBuilder {
	if tileSize <= 0 {
		tileSize = 64
	}
	return &TileBuilder{
		chain:    chain,
		tiles:    tiles,
		anchorer: anchorer,
		lock:     lock,
		tileSize: tileSize,
		logger:   logger.Named("audit-tiles"),
	}
}

// Start запускает периодический проход по тенантам
func (b *TileBuilder) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sweep(ctx)
			}
		}
	}()
}

func (b *TileBuilder) sweep(ctx context.Context) {
	if b.lock != nil {
		if !b.lock.TryLock(ctx, sweepLockTTL) {
			return // проход уже идет на другом инстансе
		}
		defer b.lock.Unlock(ctx)
	}

	tenants, err := b.tiles.ListTenants(ctx)
	if err != nil {
		b.logger.Error("tile sweep: list tenants failed", zap.Error(err))
		return
	}
	for _, tenantID := range tenants {
		if err := b.BuildPending(ctx, tenantID); err != nil {
			b.logger.Error("tile build failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}
}

// BuildPending достраивает все полные, но еще не финализированные тайлы тенанта
func (b *TileBuilder) BuildPending(ctx context.Context, tenantID string) error {
	head, err := b.chain.store.GetLastEntry(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("read chain head: %w", err)
	}
	if head == nil {
		return nil
	}

	var nextIndex, fromSeq int64 = 0, 1
	last, err := b.tiles.GetLastTile(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("read last tile: %w", err)
	}
	if last != nil {
		nextIndex = last.TileIndex + 1
		fromSeq = last.ToSeq + 1

		// Недоякоренный тайл прошлого прохода: повторяем публикацию
		if last.AnchoredAt == nil {
			if err := b.anchorer.Anchor(ctx, tenantID, last.TileIndex, last.TileRootHash); err != nil {
				return fmt.Errorf("re-anchor tile %d: %w", last.TileIndex, err)
			}
			now := time.Now()
			if err := b.tiles.MarkAnchored(ctx, tenantID, last.TileIndex, now); err != nil {
				return fmt.Errorf("mark anchored: %w", err)
			}
		}
	}

	for fromSeq+b.tileSize-1 <= head.SequenceNumber {
		toSeq := fromSeq + b.tileSize - 1
		if err := b.buildTile(ctx, tenantID, nextIndex, fromSeq, toSeq); err != nil {
			return err
		}
		nextIndex++
		fromSeq = toSeq + 1
	}
	return nil
}

func (b *TileBuilder) buildTile(ctx context.Context, tenantID string, index, fromSeq, toSeq int64) error {
	entries, err := b.chain.store.GetRange(ctx, tenantID, fromSeq, toSeq)
	if err != nil {
		return fmt.Errorf("read tile range: %w", err)
	}
	if int64(len(entries)) != toSeq-fromSeq+1 {
		return fmt.Errorf("tile range incomplete: want %d entries, got %d", toSeq-fromSeq+1, len(entries))
	}

	root := tileRoot(entries)
	tile := &domain.AuditTile{
		TenantID:     tenantID,
		TileIndex:    index,
		FromSeq:      fromSeq,
		ToSeq:        toSeq,
		TileRootHash: root,
		CreatedAt:    time.Now(),
	}
	if err := b.tiles.CreateTile(ctx, tile); err != nil {
		return fmt.Errorf("create tile: %w", err)
	}

	if err := b.anchorer.Anchor(ctx, tenantID, index, root); err != nil {
		// Тайл создан, якорь не опубликован: следующий sweep повторит попытку
		return fmt.Errorf("anchor tile: %w", err)
	}
	now := time.Now()
	if err := b.tiles.MarkAnchored(ctx, tenantID, index, now); err != nil {
		return fmt.Errorf("mark anchored: %w", err)
	}

	b.logger.Info("audit tile anchored",
		zap.String("tenant_id", tenantID),
		zap.Int64("tile_index", index),
		zap.Int64("from_seq", fromSeq),
		zap.Int64("to_seq", toSeq),
	)
	return nil
}

// tileRoot — хэш конкатенации merkle-хэшей записей тайла
func tileRoot(entries []domain.AuditEntry) string {
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.MerkleHash))
	}
	return hex.EncodeToString(h.Sum(nil))
}
