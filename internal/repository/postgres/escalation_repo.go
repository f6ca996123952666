package postgres

/*
Файл escalation_repo.go — персистенция механизма Human-in-the-loop:
эскалации (Decision Queue для ревьюеров) и следы попыток восстановления.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/cato-pipeline/internal/domain"
)

func (r *Repo) CreateEscalation(ctx context.Context, esc *domain.HumanEscalation) error {
	query := `
		INSERT INTO escalations (id, tenant_id, session_id, attempt, context, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		esc.ID, esc.TenantID, esc.SessionID, esc.Attempt, esc.Context, esc.Status,
		esc.CreatedAt, esc.UpdatedAt, esc.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create escalation: %w", err)
	}
	return nil
}

func (r *Repo) GetEscalationByID(ctx context.Context, id string) (*domain.HumanEscalation, error) {
	query := `
		SELECT id, tenant_id, session_id, attempt, context, status, decision, response, reviewer_id, created_at, updated_at, expires_at
		FROM escalations WHERE id = $1`

	var esc domain.HumanEscalation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&esc.ID, &esc.TenantID, &esc.SessionID, &esc.Attempt, &esc.Context, &esc.Status,
		&esc.Decision, &esc.Response, &esc.ReviewerID,
		&esc.CreatedAt, &esc.UpdatedAt, &esc.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get escalation: %w", err)
	}
	return &esc, nil
}

// FindEscalations — фильтрация очереди ревью. Пустой статус = все.
func (r *Repo) FindEscalations(ctx context.Context, tenantID string, status domain.EscalationStatus) ([]*domain.HumanEscalation, error) {
	query := `
		SELECT id, tenant_id, session_id, attempt, context, status, decision, response, reviewer_id, created_at, updated_at, expires_at
		FROM escalations WHERE 1=1`

	var args []interface{}
	if tenantID != "" {
		args = append(args, tenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC LIMIT 100"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query escalations: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.HumanEscalation, 0)
	for rows.Next() {
		var esc domain.HumanEscalation
		if err := rows.Scan(
			&esc.ID, &esc.TenantID, &esc.SessionID, &esc.Attempt, &esc.Context, &esc.Status,
			&esc.Decision, &esc.Response, &esc.ReviewerID,
			&esc.CreatedAt, &esc.UpdatedAt, &esc.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan escalation: %w", err)
		}
		results = append(results, &esc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// UpdateDecision атомарно фиксирует вердикт ревьюера.
// Условие status = 'PENDING' исключает Double Decision; RETURNING отдает
// session_id для трансляции сигнала в Redis без второго SELECT.
func (r *Repo) UpdateDecision(ctx context.Context, id string, decision domain.EscalationDecision, response, reviewerID string) (string, error) {
	var sessionID string
	query := `
		UPDATE escalations
		SET status = 'RESOLVED',
		    decision = $1,
		    response = $2,
		    reviewer_id = $3,
		    updated_at = NOW()
		WHERE id = $4 AND status = 'PENDING'
		RETURNING session_id`

	err := r.pool.QueryRow(ctx, query, decision, response, reviewerID, id).Scan(&sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// ID неверный либо решение уже принято ранее
			return "", domain.ErrAlreadyProcessed
		}
		return "", fmt.Errorf("postgres: failed to update escalation: %w", err)
	}
	return sessionID, nil
}

// ExpireStale переводит просроченные PENDING-эскалации в EXPIRED
func (r *Repo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE escalations
		SET status = 'EXPIRED', updated_at = NOW()
		WHERE status = 'PENDING' AND expires_at < $1`

	ct, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to expire escalations: %w", err)
	}
	return ct.RowsAffected(), nil
}

// CreateRecoveryRecord — след каждой попытки эпистемического восстановления
func (r *Repo) CreateRecoveryRecord(ctx context.Context, rec *domain.EpistemicRecoveryRecord) error {
	query := `
		INSERT INTO recovery_records (id, tenant_id, session_id, attempt, strategy, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.TenantID, rec.SessionID, rec.Attempt, rec.Strategy, rec.Reason, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create recovery record: %w", err)
	}
	return nil
}
