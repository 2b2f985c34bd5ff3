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

type CoordinateRepo struct {
	db *pgxpool.Pool
}

func NewCoordinateRepo(db *pgxpool.Pool) *CoordinateRepo {
	return &CoordinateRepo{
		db: db,
	}
}

// BatchInsert writes one flush of buffered location updates in a single
// round trip.
func (r *CoordinateRepo) BatchInsert(ctx context.Context, updates []models.LocationUpdate) (err error) {
	const op = "CoordinateRepo.BatchInsert"
	if len(updates) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observe("coordinate_batch_insert", start, err) }()

	query := `
		INSERT INTO driver_location_log(driver_id, latitude, longitude, heading_degrees, speed_kmh, recorded_at)
		VALUES($1, $2, $3, $4, $5, $6);`

	batch := &pgx.Batch{}
	for _, upd := range updates {
		batch.Queue(query, upd.DriverID, upd.Latitude, upd.Longitude, upd.HeadingDegrees, upd.SpeedKmh, upd.Timestamp)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range updates {
		if _, err = results.Exec(); err != nil {
			ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
			return wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
		}
	}
	return nil
}

// LastKnown returns the newest logged coordinate for a driver, for
// reconnects that arrive before the first live frame.
func (r *CoordinateRepo) LastKnown(ctx context.Context, driverID uuid.UUID) (_ models.Location, err error) {
	const op = "CoordinateRepo.LastKnown"
	start := time.Now()
	defer func() { observe("coordinate_last_known", start, err) }()

	query := `
		SELECT latitude, longitude
		FROM driver_location_log
		WHERE driver_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1;`

	var loc models.Location
	if err = TxorDB(ctx, r.db).QueryRow(ctx, query, driverID).Scan(&loc.Latitude, &loc.Longitude); err != nil {
		if err == pgx.ErrNoRows {
			return models.Location{}, types.ErrNotFound
		}
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return models.Location{}, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return loc, nil
}
