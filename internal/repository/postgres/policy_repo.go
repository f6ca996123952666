package postgres

/*
Файл policy_repo.go — версионированные политики тенантов.
Политика хранится как jsonb-снапшот; отсутствие строки означает строгие
дефолты, а не «все разрешено».
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/cato-pipeline/internal/domain"
)

func (r *Repo) GetTenantPolicy(ctx context.Context, tenantID string) (*domain.TenantPolicy, error) {
	query := `SELECT settings FROM tenant_policies WHERE tenant_id = $1`

	var raw []byte
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Дефолты решает вызывающая сторона
		}
		return nil, fmt.Errorf("postgres: failed to get tenant policy: %w", err)
	}

	var pol domain.TenantPolicy
	if err := json.Unmarshal(raw, &pol); err != nil {
		return nil, fmt.Errorf("postgres: decode tenant policy: %w", err)
	}
	pol.TenantID = tenantID
	return &pol, nil
}

// GetAllTenantPolicies — «холодная загрузка» при старте пайплайна
func (r *Repo) GetAllTenantPolicies(ctx context.Context) ([]domain.TenantPolicy, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant_id, settings FROM tenant_policies`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query tenant policies: %w", err)
	}
	defer rows.Close()

	var results []domain.TenantPolicy
	for rows.Next() {
		var tenantID string
		var raw []byte
		if err := rows.Scan(&tenantID, &raw); err != nil {
			return nil, fmt.Errorf("postgres: scan tenant policy: %w", err)
		}
		var pol domain.TenantPolicy
		if err := json.Unmarshal(raw, &pol); err != nil {
			return nil, fmt.Errorf("postgres: decode tenant policy: %w", err)
		}
		pol.TenantID = tenantID
		results = append(results, pol)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// UpsertTenantPolicy атомарно подменяет снапшот и поднимает версию
func (r *Repo) UpsertTenantPolicy(ctx context.Context, pol *domain.TenantPolicy) error {
	raw, err := json.Marshal(pol)
	if err != nil {
		return fmt.Errorf("postgres: marshal tenant policy: %w", err)
	}

	query := `
		INSERT INTO tenant_policies (tenant_id, settings, version)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id)
		DO UPDATE SET settings = EXCLUDED.settings, version = tenant_policies.version + 1, updated_at = NOW()`

	_, err = r.pool.Exec(ctx, query, pol.TenantID, raw)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert tenant policy: %w", err)
	}
	return nil
}
