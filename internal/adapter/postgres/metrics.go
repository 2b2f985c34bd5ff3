package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MetricsRepo keeps per-day assignment counters. Prometheus has the live
// series; this table backs the query API across restarts.
type MetricsRepo struct {
	db *pgxpool.Pool
}

func NewMetricsRepo(db *pgxpool.Pool) *MetricsRepo {
	return &MetricsRepo{
		db: db,
	}
}

func (r *MetricsRepo) Record(ctx context.Context, day time.Time, success bool, latency time.Duration) (err error) {
	const op = "MetricsRepo.Record"
	start := time.Now()
	defer func() { observe("metrics_record", start, err) }()

	successful := 0
	if success {
		successful = 1
	}

	query := `
		INSERT INTO assignment_metrics_daily(day, total_assignments, successful_assignments, cumulative_latency_ms)
		VALUES($1, 1, $2, $3)
		ON CONFLICT (day) DO UPDATE SET
			total_assignments = assignment_metrics_daily.total_assignments + 1,
			successful_assignments = assignment_metrics_daily.successful_assignments + EXCLUDED.successful_assignments,
			cumulative_latency_ms = assignment_metrics_daily.cumulative_latency_ms + EXCLUDED.cumulative_latency_ms;`

	if _, err = TxorDB(ctx, r.db).Exec(ctx, query, day.Truncate(24*time.Hour), successful, latency.Milliseconds()); err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return nil
}

func (r *MetricsRepo) Get(ctx context.Context, day time.Time) (_ models.AssignmentMetrics, err error) {
	const op = "MetricsRepo.Get"
	start := time.Now()
	defer func() { observe("metrics_get", start, err) }()

	query := `
		SELECT day, total_assignments, successful_assignments, cumulative_latency_ms
		FROM assignment_metrics_daily
		WHERE day = $1;`

	var m models.AssignmentMetrics
	if err = TxorDB(ctx, r.db).QueryRow(ctx, query, day.Truncate(24*time.Hour)).Scan(
		&m.Day, &m.TotalAssignments, &m.SuccessfulAssignments, &m.CumulativeLatencyMS,
	); err != nil {
		if err == pgx.ErrNoRows {
			// A day with no attempts reads as zeroes, not an error.
			return models.AssignmentMetrics{Day: day.Truncate(24 * time.Hour)}, nil
		}
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return models.AssignmentMetrics{}, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return m, nil
}
