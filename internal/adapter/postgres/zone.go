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

type ZoneRepo struct {
	db *pgxpool.Pool
}

func NewZoneRepo(db *pgxpool.Pool) *ZoneRepo {
	return &ZoneRepo{
		db: db,
	}
}

func (r *ZoneRepo) List(ctx context.Context) (_ []models.Zone, err error) {
	const op = "ZoneRepo.List"
	start := time.Now()
	defer func() { observe("zone_list", start, err) }()

	query := `
		SELECT id, name, polygon, active, priority, demand_level, surge_multiplier,
			target_driver_count, avg_delivery_time_min, created_at, updated_at
		FROM zones
		ORDER BY created_at;`

	rows, err := TxorDB(ctx, r.db).Query(ctx, query)
	if err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	defer rows.Close()

	var zones []models.Zone
	for rows.Next() {
		var z models.Zone
		if err = rows.Scan(
			&z.ID, &z.Name, &z.Polygon, &z.Active, &z.Priority,
			&z.DemandLevel, &z.SurgeMultiplier,
			&z.TargetDriverCount, &z.AvgDeliveryTimeMin,
			&z.CreatedAt, &z.UpdatedAt,
		); err != nil {
			ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
			return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
		}
		zones = append(zones, z)
	}
	if err = rows.Err(); err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return zones, nil
}

func (r *ZoneRepo) Create(ctx context.Context, zone *models.Zone) (err error) {
	const op = "ZoneRepo.Create"
	start := time.Now()
	defer func() { observe("zone_create", start, err) }()

	query := `
		INSERT INTO zones(id, name, polygon, active, priority, demand_level, surge_multiplier,
			target_driver_count, avg_delivery_time_min)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at;`

	if err = TxorDB(ctx, r.db).QueryRow(ctx, query,
		zone.ID,
		zone.Name,
		zone.Polygon,
		zone.Active,
		zone.Priority,
		zone.DemandLevel,
		zone.SurgeMultiplier,
		zone.TargetDriverCount,
		zone.AvgDeliveryTimeMin,
	).Scan(&zone.CreatedAt, &zone.UpdatedAt); err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return nil
}

func (r *ZoneRepo) Update(ctx context.Context, zone *models.Zone) (err error) {
	const op = "ZoneRepo.Update"
	start := time.Now()
	defer func() { observe("zone_update", start, err) }()

	query := `
		UPDATE zones
		SET name = $2, polygon = $3, active = $4, priority = $5,
			target_driver_count = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at;`

	if err = TxorDB(ctx, r.db).QueryRow(ctx, query,
		zone.ID,
		zone.Name,
		zone.Polygon,
		zone.Active,
		zone.Priority,
		zone.TargetDriverCount,
	).Scan(&zone.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return types.ErrZoneNotFound
		}
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return nil
}

// UpdateDemand persists the periodic reclassification of one zone.
func (r *ZoneRepo) UpdateDemand(ctx context.Context, zoneID uuid.UUID, level types.DemandLevel, surge float64) (err error) {
	const op = "ZoneRepo.UpdateDemand"
	start := time.Now()
	defer func() { observe("zone_update_demand", start, err) }()

	query := `
		UPDATE zones
		SET demand_level = $2, surge_multiplier = $3, updated_at = now()
		WHERE id = $1;`

	tag, err := TxorDB(ctx, r.db).Exec(ctx, query, zoneID, level, surge)
	if err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	if tag.RowsAffected() == 0 {
		return wrap.Error(ctx, types.ErrZoneNotFound)
	}
	return nil
}
