package tracking

import (
	"context"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

/*=================Driver Pool============================*/

type DriverPool interface {
	UpdateLocation(ctx context.Context, upd models.LocationUpdate)
	Get(driverID uuid.UUID) (models.DriverRecord, bool)
}

/*=================Order Repository=======================*/

type OrderRepo interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ActiveByDriver(ctx context.Context, driverID uuid.UUID) ([]models.Order, error)
	SetStatus(ctx context.Context, orderID uuid.UUID, status types.DeliveryStatus) error
}

/*=================Assignment Repository==================*/

type AssignmentRepo interface {
	ActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Assignment, error)
}

/*=================Coordinate Repository==================*/

// CoordinateRepo persists buffered location batches.
type CoordinateRepo interface {
	BatchInsert(ctx context.Context, updates []models.LocationUpdate) error
}

/*=================Publisher==============================*/

type Publisher interface {
	PublishNotification(ctx context.Context, msg models.NotificationMessage) error
}

/*=================Subscriber Feed========================*/

type SnapshotSender interface {
	SendTo(id uuid.UUID, msg any) error
}
