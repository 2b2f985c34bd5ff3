package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	pgdb "github.com/feastlane/dispatch-system/pkg/postgres"
	"github.com/feastlane/dispatch-system/pkg/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AssignmentRepo struct {
	db *pgxpool.Pool
}

func NewAssignmentRepo(db *pgxpool.Pool) *AssignmentRepo {
	return &AssignmentRepo{
		db: db,
	}
}

// Create inserts a pending assignment. A partial unique index on order_id
// over non-cancelled rows makes the insert the claim: losing a race surfaces
// as types.ErrOrderAlreadyAssigned.
func (r *AssignmentRepo) Create(ctx context.Context, a *models.Assignment) (err error) {
	const op = "AssignmentRepo.Create"
	start := time.Now()
	defer func() { observe("assignment_create", start, err) }()

	query := `
		INSERT INTO assignments(id, order_id, driver_id, status, estimated_pickup_at, estimated_delivery_at, priority)
		VALUES($1, $2, $3, $4, $5, $6, $7);`

	if _, err = TxorDB(ctx, r.db).Exec(ctx, query,
		a.ID,
		a.OrderID,
		a.DriverID,
		a.Status,
		a.EstimatedPickupAt,
		a.EstimatedDeliveryAt,
		a.Priority,
	); err != nil {
		if pgdb.IsUniqueViolation(err) {
			return types.ErrOrderAlreadyAssigned
		}
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return nil
}

// ActiveByOrder returns the order's single non-cancelled assignment.
func (r *AssignmentRepo) ActiveByOrder(ctx context.Context, orderID uuid.UUID) (_ *models.Assignment, err error) {
	const op = "AssignmentRepo.ActiveByOrder"
	start := time.Now()
	defer func() { observe("assignment_active_by_order", start, err) }()

	query := `
		SELECT id, order_id, driver_id, status, estimated_pickup_at, estimated_delivery_at,
			priority, created_at, cancelled_at, COALESCE(cancel_reason, '')
		FROM assignments
		WHERE order_id = $1 AND status != 'cancelled';`

	var a models.Assignment
	if err = TxorDB(ctx, r.db).QueryRow(ctx, query, orderID).Scan(
		&a.ID, &a.OrderID, &a.DriverID, &a.Status,
		&a.EstimatedPickupAt, &a.EstimatedDeliveryAt,
		&a.Priority, &a.CreatedAt, &a.CancelledAt, &a.CancelReason,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.ErrNotFound
		}
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return nil, wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	return &a, nil
}

func (r *AssignmentRepo) Cancel(ctx context.Context, assignmentID uuid.UUID, reason string) (err error) {
	const op = "AssignmentRepo.Cancel"
	start := time.Now()
	defer func() { observe("assignment_cancel", start, err) }()

	query := `
		UPDATE assignments
		SET status = 'cancelled', cancelled_at = now(), cancel_reason = $2
		WHERE id = $1 AND status != 'cancelled';`

	tag, err := TxorDB(ctx, r.db).Exec(ctx, query, assignmentID, reason)
	if err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	if tag.RowsAffected() == 0 {
		return wrap.Error(ctx, types.ErrNotFound)
	}
	return nil
}

func (r *AssignmentRepo) Accept(ctx context.Context, assignmentID uuid.UUID) (err error) {
	const op = "AssignmentRepo.Accept"
	start := time.Now()
	defer func() { observe("assignment_accept", start, err) }()

	// Idempotent: completing a delivery re-accepts an already accepted row.
	query := `
		UPDATE assignments
		SET status = 'accepted'
		WHERE id = $1 AND status != 'cancelled';`

	tag, err := TxorDB(ctx, r.db).Exec(ctx, query, assignmentID)
	if err != nil {
		ctx = wrap.WithAction(ctx, types.ActionDatabaseTransactionFailed)
		return wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}
	if tag.RowsAffected() == 0 {
		return wrap.Error(ctx, types.ErrNotFound)
	}
	return nil
}
