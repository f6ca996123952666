package postgres

import (
	"context"

	"github.com/xela07ax/cato-pipeline/internal/domain"
)

func (r *Repo) GetUnifiedDashboard(ctx context.Context) (*domain.UnifiedDashboard, error) {
	d := &domain.UnifiedDashboard{}

	// 1. Активность и отказы за последние 60 минут.
	// PERCENTILE_CONT дает честный P95 Latency по содержимому решений.
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE entry_content->>'allowed' = 'false'),
			COUNT(DISTINCT tenant_id),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY (entry_content->>'duration_ms')::float), 0)
		FROM audit_entries
		WHERE entry_type = 'DECISION' AND timestamp > NOW() - INTERVAL '60 minutes'`).Scan(
		&d.Activity.TotalDecisions,
		&d.Safety.BlockedDecisions,
		&d.Activity.ActiveTenants,
		&d.Quality.P95Latency,
	)
	if err != nil {
		return nil, err
	}

	// RPS = решений за час / 3600
	d.Activity.RPS = float64(d.Activity.TotalDecisions) / 3600
	if d.Activity.TotalDecisions > 0 {
		d.Safety.RejectionRatio = float64(d.Safety.BlockedDecisions) / float64(d.Activity.TotalDecisions)
	}

	// 2. Очередь ревью и события восстановления
	err = r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM escalations WHERE status = 'PENDING'),
			(SELECT COUNT(*) FROM recovery_records WHERE created_at > NOW() - INTERVAL '60 minutes')`).Scan(
		&d.Safety.PendingEscalations,
		&d.Safety.RecoveryEvents,
	)
	if err != nil {
		return nil, err
	}

	// 3. Состояние якорения цепочки
	err = r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE anchored_at IS NOT NULL),
			COUNT(*) FILTER (WHERE anchored_at IS NULL)
		FROM audit_tiles`).Scan(&d.Integrity.AnchoredTiles, &d.Integrity.UnanchoredTiles)

	return d, err
}
