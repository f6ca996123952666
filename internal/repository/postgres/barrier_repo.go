package postgres

/*
Файл barrier_repo.go отвечает за хранение определений барьеров (CBF).
Долговременное хранение правил в PostgreSQL отделено от их мгновенной
проверки в оперативной памяти пайплайна (MemoSet).
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/cato-pipeline/internal/domain"
)

// GetActiveBarriers выполняет «холодную загрузку» всех активных определений
// при старте пайплайна и при инвалидации кэша.
func (r *Repo) GetActiveBarriers(ctx context.Context) ([]domain.BarrierDefinition, error) {
	query := `
		SELECT id, tenant_id, name, type, is_critical, threshold_config, scope, active, version, created_at, updated_at
		FROM barriers
		WHERE active = TRUE`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: query active barriers: %w", err)
	}
	defer rows.Close()

	results := make([]domain.BarrierDefinition, 0)
	for rows.Next() {
		b, err := scanBarrier(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

func (r *Repo) GetBarrierByID(ctx context.Context, id string) (*domain.BarrierDefinition, error) {
	query := `
		SELECT id, tenant_id, name, type, is_critical, threshold_config, scope, active, version, created_at, updated_at
		FROM barriers WHERE id = $1`

	row := r.pool.QueryRow(ctx, query, id)
	b, err := scanBarrier(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // 404 решает хендлер
		}
		return nil, err
	}
	return b, nil
}

// ListBarriers — выборка для консоли. tenantID == "" означает все тенанты.
func (r *Repo) ListBarriers(ctx context.Context, tenantID string) ([]domain.BarrierDefinition, error) {
	query := `
		SELECT id, tenant_id, name, type, is_critical, threshold_config, scope, active, version, created_at, updated_at
		FROM barriers`

	var args []interface{}
	if tenantID != "" {
		query += ` WHERE tenant_id = $1 OR tenant_id = '*'`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at DESC LIMIT 200`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query barriers: %w", err)
	}
	defer rows.Close()

	results := make([]domain.BarrierDefinition, 0)
	for rows.Next() {
		b, err := scanBarrier(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// CreateBarrier создает определение. tenant_id = '*' задает глобальный барьер.
func (r *Repo) CreateBarrier(ctx context.Context, b *domain.BarrierDefinition) error {
	threshold, err := json.Marshal(b.Threshold)
	if err != nil {
		return fmt.Errorf("postgres: marshal threshold config: %w", err)
	}

	query := `
		INSERT INTO barriers (id, tenant_id, name, type, is_critical, threshold_config, scope, active, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, 1)`
	_, err = r.pool.Exec(ctx, query, b.ID, b.TenantID, b.Name, b.Type, b.IsCritical, threshold, b.Scope)
	if err != nil {
		return fmt.Errorf("postgres: failed to create barrier: %w", err)
	}
	return nil
}

// UpdateBarrier обновляет порог/критичность и поднимает версию.
func (r *Repo) UpdateBarrier(ctx context.Context, b *domain.BarrierDefinition) error {
	threshold, err := json.Marshal(b.Threshold)
	if err != nil {
		return fmt.Errorf("postgres: marshal threshold config: %w", err)
	}

	query := `
		UPDATE barriers
		SET name = $1, is_critical = $2, threshold_config = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4`

	ct, err := r.pool.Exec(ctx, query, b.Name, b.IsCritical, threshold, b.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update barrier: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: barrier not found")
	}
	return nil
}

// SetBarrierActive включает/выключает барьер. Деактивация — единственный
// легальный способ смягчить ENFORCE, поэтому она аудируется на уровне сервиса.
func (r *Repo) SetBarrierActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE barriers SET active = $1, version = version + 1, updated_at = NOW() WHERE id = $2`

	ct, err := r.pool.Exec(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to toggle barrier: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: barrier not found")
	}
	return nil
}

// scanBarrier работает и с pgx.Row, и с pgx.Rows
func scanBarrier(row pgx.Row) (*domain.BarrierDefinition, error) {
	var b domain.BarrierDefinition
	var threshold []byte

	err := row.Scan(
		&b.ID, &b.TenantID, &b.Name, &b.Type, &b.IsCritical,
		&threshold, &b.Scope, &b.Active, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("postgres: scan barrier: %w", err)
	}

	if err := json.Unmarshal(threshold, &b.Threshold); err != nil {
		return nil, fmt.Errorf("postgres: decode threshold config: %w", err)
	}
	return &b, nil
}
