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

type OrderRepo struct {
	db *pgxpool.Pool
}

func NewOrderRepo(db *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{
		db: db,
	}
}

const orderColumns = `
	id, number, customer_id, merchant_id, status,
	pickup_latitude, pickup_longitude, pickup_address,
	dropoff_latitude, dropoff_longitude, dropoff_address,
	pickup_window_start, pickup_window_end,
	delivery_window_start, delivery_window_end,
	required_vehicle, priority, sequence_number, created_at`

func (r *OrderRepo) Get(ctx context.Context, orderID uuid.UUID) (_ *models.Order, err error) {
	const op = "OrderRepo.Get"
	start := time.Now()
	defer func() { observe("order_get", start, err) }()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1;`

	order, err := scanOrder(TxorDB(ctx, r.db).QueryRow(ctx, query, orderID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.ErrOrderNotFound
		}
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return order, nil
}

func (r *OrderRepo) SetAssigned(ctx context.Context, orderID uuid.UUID) error {
	return r.updateStatus(ctx, "order_set_assigned", orderID, types.DeliveryAssigned)
}

// SetUnassigned cycles an order back into the matchable pool and clears its
// route sequence.
func (r *OrderRepo) SetUnassigned(ctx context.Context, orderID uuid.UUID) (err error) {
	const op = "OrderRepo.SetUnassigned"
	start := time.Now()
	defer func() { observe("order_set_unassigned", start, err) }()

	query := `
		UPDATE orders
		SET status = $2, sequence_number = 0, updated_at = now()
		WHERE id = $1;`

	tag, err := TxorDB(ctx, r.db).Exec(ctx, query, orderID, types.DeliveryUnassigned)
	if err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	if tag.RowsAffected() == 0 {
		return wrap.Error(ctx, types.ErrOrderNotFound)
	}
	return nil
}

func (r *OrderRepo) SetStatus(ctx context.Context, orderID uuid.UUID, status types.DeliveryStatus) (err error) {
	const op = "OrderRepo.SetStatus"
	start := time.Now()
	defer func() { observe("order_set_status", start, err) }()

	// Completion stamps the timestamp the performance rollups aggregate on.
	query := `
		UPDATE orders
		SET status = $2,
			completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END,
			updated_at = now()
		WHERE id = $1;`

	tag, err := TxorDB(ctx, r.db).Exec(ctx, query, orderID, status)
	if err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	if tag.RowsAffected() == 0 {
		return wrap.Error(ctx, types.ErrOrderNotFound)
	}
	return nil
}

func (r *OrderRepo) updateStatus(ctx context.Context, operation string, orderID uuid.UUID, status types.DeliveryStatus) (err error) {
	start := time.Now()
	defer func() { observe(operation, start, err) }()

	query := `
		UPDATE orders
		SET status = $2, updated_at = now()
		WHERE id = $1;`

	tag, err := TxorDB(ctx, r.db).Exec(ctx, query, orderID, status)
	if err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return wrap.Error(ctx, fmt.Errorf("OrderRepo.updateStatus(%s): %w", status, err))
	}
	if tag.RowsAffected() == 0 {
		return wrap.Error(ctx, types.ErrOrderNotFound)
	}
	return nil
}

func (r *OrderRepo) SetSequence(ctx context.Context, orderID uuid.UUID, seq int) (err error) {
	const op = "OrderRepo.SetSequence"
	start := time.Now()
	defer func() { observe("order_set_sequence", start, err) }()

	query := `
		UPDATE orders
		SET sequence_number = $2, updated_at = now()
		WHERE id = $1;`

	tag, err := TxorDB(ctx, r.db).Exec(ctx, query, orderID, seq)
	if err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	if tag.RowsAffected() == 0 {
		return wrap.Error(ctx, types.ErrOrderNotFound)
	}
	return nil
}

// ActiveByDriver returns the driver's deliveries that still carry route
// stops, ordered the way the driver runs them.
func (r *OrderRepo) ActiveByDriver(ctx context.Context, driverID uuid.UUID) (_ []models.Order, err error) {
	const op = "OrderRepo.ActiveByDriver"
	start := time.Now()
	defer func() { observe("order_active_by_driver", start, err) }()

	query := `
		SELECT ` + qualifyOrderColumns("o") + `
		FROM orders o
		JOIN assignments a ON a.order_id = o.id AND a.status != 'cancelled'
		WHERE a.driver_id = $1
		  AND o.status IN ('assigned', 'at_pickup', 'in_transit', 'at_delivery')
		ORDER BY o.sequence_number, o.created_at;`

	rows, err := TxorDB(ctx, r.db).Query(ctx, query, driverID)
	if err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	defer rows.Close()

	return collectOrders(ctx, op, rows)
}

func (r *OrderRepo) Unassigned(ctx context.Context, limit int) (_ []models.Order, err error) {
	const op = "OrderRepo.Unassigned"
	start := time.Now()
	defer func() { observe("order_unassigned", start, err) }()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = 'unassigned'
		ORDER BY priority DESC, created_at
		LIMIT $1;`

	rows, err := TxorDB(ctx, r.db).Query(ctx, query, limit)
	if err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	defer rows.Close()

	return collectOrders(ctx, op, rows)
}

// CountsByZone answers the order side of zone statistics: in-flight and
// pending order counts plus the mean pending wait.
func (r *OrderRepo) CountsByZone(ctx context.Context, zoneID uuid.UUID) (_ models.OrderCounts, err error) {
	const op = "OrderRepo.CountsByZone"
	start := time.Now()
	defer func() { observe("order_counts_by_zone", start, err) }()

	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('assigned', 'at_pickup', 'in_transit', 'at_delivery')),
			COUNT(*) FILTER (WHERE status = 'unassigned'),
			COALESCE(AVG(EXTRACT(EPOCH FROM now() - created_at) / 60) FILTER (WHERE status = 'unassigned'), 0)
		FROM orders
		WHERE zone_id = $1;`

	var counts models.OrderCounts
	if err = TxorDB(ctx, r.db).QueryRow(ctx, query, zoneID).Scan(
		&counts.Active,
		&counts.Pending,
		&counts.AvgWaitMinutes,
	); err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return models.OrderCounts{}, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return counts, nil
}

func collectOrders(ctx context.Context, op string, rows pgx.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
			return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o               models.Order
		pickupStart     *time.Time
		pickupEnd       *time.Time
		deliveryStart   *time.Time
		deliveryEnd     *time.Time
		requiredVehicle *string
	)

	if err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.MerchantID, &o.Status,
		&o.Pickup.Latitude, &o.Pickup.Longitude, &o.Pickup.Address,
		&o.Dropoff.Latitude, &o.Dropoff.Longitude, &o.Dropoff.Address,
		&pickupStart, &pickupEnd,
		&deliveryStart, &deliveryEnd,
		&requiredVehicle, &o.Priority, &o.SequenceNumber, &o.CreatedAt,
	); err != nil {
		return nil, err
	}

	o.PickupWindow = window(pickupStart, pickupEnd)
	o.DeliveryWindow = window(deliveryStart, deliveryEnd)
	if requiredVehicle != nil {
		v := types.VehicleType(*requiredVehicle)
		o.RequiredVehicle = &v
	}
	return &o, nil
}

func window(start, end *time.Time) *models.TimeWindow {
	if start == nil && end == nil {
		return nil
	}
	w := &models.TimeWindow{}
	if start != nil {
		w.Start = *start
	}
	if end != nil {
		w.End = *end
	}
	return w
}

func qualifyOrderColumns(alias string) string {
	return fmt.Sprintf(`
		%[1]s.id, %[1]s.number, %[1]s.customer_id, %[1]s.merchant_id, %[1]s.status,
		%[1]s.pickup_latitude, %[1]s.pickup_longitude, %[1]s.pickup_address,
		%[1]s.dropoff_latitude, %[1]s.dropoff_longitude, %[1]s.dropoff_address,
		%[1]s.pickup_window_start, %[1]s.pickup_window_end,
		%[1]s.delivery_window_start, %[1]s.delivery_window_end,
		%[1]s.required_vehicle, %[1]s.priority, %[1]s.sequence_number, %[1]s.created_at`, alias)
}
