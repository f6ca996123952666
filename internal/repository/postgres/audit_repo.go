package postgres

/*
Файл audit_repo.go — хранилище хэш-цепочки аудита.
Намеренно экспонирует только INSERT и SELECT: у записи цепочки нет
легального пути изменения или удаления через код приложения.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/cato-pipeline/internal/auditchain"
	"github.com/xela07ax/cato-pipeline/internal/domain"
)

// AppendEntry пишет запись в транзакции, блокируя последнюю запись тенанта.
// Гарантирует плотную монотонную нумерацию даже при нескольких инстансах.
func (r *Repo) AppendEntry(ctx context.Context, entry *domain.AuditEntry) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin audit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокируем хвост цепочки тенанта: конкурентная запись того же тенанта
	// из другого инстанса дождется коммита
	var lastSeq int64
	var lastHash string
	err = tx.QueryRow(ctx, `
		SELECT sequence_number, merkle_hash
		FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY sequence_number DESC
		LIMIT 1
		FOR UPDATE`, entry.TenantID).Scan(&lastSeq, &lastHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres: lock chain head: %w", err)
	}

	// Пересчитываем связку по фактическому хвосту из базы: локальный снимок
	// вызывающего мог устареть, если писал другой инстанс
	if entry.SequenceNumber != lastSeq+1 || entry.PreviousHash != lastHash {
		entry.SequenceNumber = lastSeq + 1
		entry.PreviousHash = lastHash
		entry.MerkleHash = auditchain.ComputeHash(entry.PreviousHash, entry.EntryContent, entry.SequenceNumber)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_entries (tenant_id, sequence_number, entry_type, entry_content, previous_hash, merkle_hash, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.TenantID, entry.SequenceNumber, entry.EntryType, entry.EntryContent,
		entry.PreviousHash, entry.MerkleHash, entry.Timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit audit tx: %w", err)
	}
	return entry.SequenceNumber, nil
}

func (r *Repo) GetLastEntry(ctx context.Context, tenantID string) (*domain.AuditEntry, error) {
	query := `
		SELECT tenant_id, sequence_number, entry_type, entry_content, previous_hash, merkle_hash, timestamp
		FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY sequence_number DESC
		LIMIT 1`

	var e domain.AuditEntry
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&e.TenantID, &e.SequenceNumber, &e.EntryType, &e.EntryContent,
		&e.PreviousHash, &e.MerkleHash, &e.Timestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Пустая цепочка
		}
		return nil, fmt.Errorf("postgres: read chain head: %w", err)
	}
	return &e, nil
}

func (r *Repo) GetRange(ctx context.Context, tenantID string, fromSeq, toSeq int64) ([]domain.AuditEntry, error) {
	query := `
		SELECT tenant_id, sequence_number, entry_type, entry_content, previous_hash, merkle_hash, timestamp
		FROM audit_entries
		WHERE tenant_id = $1 AND sequence_number BETWEEN $2 AND $3
		ORDER BY sequence_number ASC`

	rows, err := r.pool.Query(ctx, query, tenantID, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("postgres: query audit range: %w", err)
	}
	defer rows.Close()

	results := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(
			&e.TenantID, &e.SequenceNumber, &e.EntryType, &e.EntryContent,
			&e.PreviousHash, &e.MerkleHash, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		results = append(results, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// --- Тайлы ---

func (r *Repo) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM audit_entries`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tenants: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return ids, nil
}

func (r *Repo) GetLastTile(ctx context.Context, tenantID string) (*domain.AuditTile, error) {
	query := `
		SELECT tenant_id, tile_index, from_seq, to_seq, tile_root_hash, anchored_at, created_at
		FROM audit_tiles
		WHERE tenant_id = $1
		ORDER BY tile_index DESC
		LIMIT 1`

	var t domain.AuditTile
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&t.TenantID, &t.TileIndex, &t.FromSeq, &t.ToSeq, &t.TileRootHash, &t.AnchoredAt, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: read last tile: %w", err)
	}
	return &t, nil
}

func (r *Repo) CreateTile(ctx context.Context, tile *domain.AuditTile) error {
	query := `
		INSERT INTO audit_tiles (tenant_id, tile_index, from_seq, to_seq, tile_root_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		tile.TenantID, tile.TileIndex, tile.FromSeq, tile.ToSeq, tile.TileRootHash, tile.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create tile: %w", err)
	}
	return nil
}

func (r *Repo) MarkAnchored(ctx context.Context, tenantID string, tileIndex int64, at time.Time) error {
	query := `UPDATE audit_tiles SET anchored_at = $1 WHERE tenant_id = $2 AND tile_index = $3 AND anchored_at IS NULL`
	_, err := r.pool.Exec(ctx, query, at, tenantID, tileIndex)
	if err != nil {
		return fmt.Errorf("postgres: mark tile anchored: %w", err)
	}
	return nil
}
