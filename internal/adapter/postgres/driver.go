package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DriverRepo struct {
	db *pgxpool.Pool
}

func NewDriverRepo(db *pgxpool.Pool) *DriverRepo {
	return &DriverRepo{
		db: db,
	}
}

func (r *DriverRepo) Profile(ctx context.Context, driverID uuid.UUID) (_ *models.DriverProfile, err error) {
	const op = "DriverRepo.Profile"
	start := time.Now()
	defer func() { observe("driver_profile", start, err) }()

	query := `
		SELECT id, name, vehicle_type, rating, status, last_zone_id
		FROM drivers
		WHERE id = $1;`

	var (
		p        models.DriverProfile
		lastZone *uuid.UUID
	)
	if err = TxorDB(ctx, r.db).QueryRow(ctx, query, driverID).Scan(
		&p.ID, &p.Name, &p.VehicleType, &p.Rating, &p.Status, &lastZone,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.ErrDriverNotFound
		}
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	if lastZone != nil {
		p.LastZoneID = *lastZone
	}
	return &p, nil
}

// ListOnline returns the ids of drivers persisted in a working status, so
// the pool can repopulate itself after a restart.
func (r *DriverRepo) ListOnline(ctx context.Context) (_ []uuid.UUID, err error) {
	const op = "DriverRepo.ListOnline"
	start := time.Now()
	defer func() { observe("driver_list_online", start, err) }()

	query := `
		SELECT id
		FROM drivers
		WHERE status IN ('online', 'busy', 'break');`

	rows, err := TxorDB(ctx, r.db).Query(ctx, query)
	if err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err = rows.Scan(&id); err != nil {
			ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
			return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return ids, nil
}

// SevenDayPerformance aggregates the rolling driver record the scoring
// strategies read. Drivers without recent history score as clean slates.
func (r *DriverRepo) SevenDayPerformance(ctx context.Context, driverID uuid.UUID) (_ models.PerformanceStats, err error) {
	const op = "DriverRepo.SevenDayPerformance"
	start := time.Now()
	defer func() { observe("driver_seven_day_performance", start, err) }()

	query := `
		SELECT
			d.rating,
			COALESCE(att.total, 0),
			COALESCE(att.accepted, 0),
			COALESCE(done.completed, 0),
			COALESCE(done.on_time, 0),
			COALESCE(done.avg_minutes, 0)
		FROM drivers d
		LEFT JOIN LATERAL (
			SELECT
				COUNT(*) AS total,
				COUNT(*) FILTER (WHERE status != 'cancelled') AS accepted
			FROM assignments
			WHERE driver_id = d.id AND created_at > now() - interval '7 days'
		) att ON true
		LEFT JOIN LATERAL (
			SELECT
				COUNT(*) AS completed,
				COUNT(*) FILTER (WHERE o.completed_at <= a.estimated_delivery_at) AS on_time,
				AVG(EXTRACT(EPOCH FROM o.completed_at - a.created_at) / 60) AS avg_minutes
			FROM orders o
			JOIN assignments a ON a.order_id = o.id AND a.status != 'cancelled'
			WHERE a.driver_id = d.id
			  AND o.status = 'completed'
			  AND o.completed_at > now() - interval '7 days'
		) done ON true
		WHERE d.id = $1;`

	var (
		stats             models.PerformanceStats
		total, accepted   int
		completed, onTime int
	)
	if err = TxorDB(ctx, r.db).QueryRow(ctx, query, driverID).Scan(
		&stats.Rating,
		&total, &accepted,
		&completed, &onTime,
		&stats.AvgDeliveryTimeMin,
	); err != nil {
		if err == pgx.ErrNoRows {
			return models.PerformanceStats{}, types.ErrDriverNotFound
		}
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return models.PerformanceStats{}, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}

	stats.AcceptanceRate = rate(accepted, total)
	stats.OnTimeRate = rate(onTime, completed)
	return stats, nil
}

// TodayStats counts deliveries completed since local midnight and the fees
// they earned.
func (r *DriverRepo) TodayStats(ctx context.Context, driverID uuid.UUID) (completed int, earnings float64, err error) {
	const op = "DriverRepo.TodayStats"
	start := time.Now()
	defer func() { observe("driver_today_stats", start, err) }()

	query := `
		SELECT COUNT(*), COALESCE(SUM(o.delivery_fee), 0)
		FROM orders o
		JOIN assignments a ON a.order_id = o.id AND a.status != 'cancelled'
		WHERE a.driver_id = $1
		  AND o.status = 'completed'
		  AND o.completed_at >= date_trunc('day', now());`

	if err = TxorDB(ctx, r.db).QueryRow(ctx, query, driverID).Scan(&completed, &earnings); err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return 0, 0, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return completed, earnings, nil
}

func (r *DriverRepo) ActiveDeliveryCount(ctx context.Context, driverID uuid.UUID) (_ int, err error) {
	const op = "DriverRepo.ActiveDeliveryCount"
	start := time.Now()
	defer func() { observe("driver_active_delivery_count", start, err) }()

	query := `
		SELECT COUNT(*)
		FROM orders o
		JOIN assignments a ON a.order_id = o.id AND a.status != 'cancelled'
		WHERE a.driver_id = $1
		  AND o.status IN ('assigned', 'at_pickup', 'in_transit', 'at_delivery');`

	var count int
	if err = TxorDB(ctx, r.db).QueryRow(ctx, query, driverID).Scan(&count); err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return 0, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return count, nil
}

func (r *DriverRepo) SetStatus(ctx context.Context, driverID uuid.UUID, status types.DriverStatus) (err error) {
	const op = "DriverRepo.SetStatus"
	start := time.Now()
	defer func() { observe("driver_set_status", start, err) }()

	query := `
		UPDATE drivers
		SET status = $2, updated_at = now()
		WHERE id = $1;`

	tag, err := TxorDB(ctx, r.db).Exec(ctx, query, driverID, status)
	if err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	if tag.RowsAffected() == 0 {
		return wrap.Error(ctx, types.ErrDriverNotFound)
	}
	return nil
}

// rate turns part/whole into a percentage, treating no history as perfect.
func rate(part, whole int) float64 {
	if whole == 0 {
		return 100
	}
	return float64(part) / float64(whole) * 100
}
