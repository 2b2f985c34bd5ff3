package assignment

import (
	"context"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

/*=================Order Repository=======================*/

type OrderRepo interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	// SetAssigned flips the order to assigned; SetUnassigned cycles it back
	// for reassignment and clears the sequence number.
	SetAssigned(ctx context.Context, orderID uuid.UUID) error
	SetUnassigned(ctx context.Context, orderID uuid.UUID) error
	SetStatus(ctx context.Context, orderID uuid.UUID, status types.DeliveryStatus) error
	SetSequence(ctx context.Context, orderID uuid.UUID, seq int) error
	// ActiveByDriver returns the driver's deliveries between assigned and
	// at_delivery, the ones that still have route stops.
	ActiveByDriver(ctx context.Context, driverID uuid.UUID) ([]models.Order, error)
	Unassigned(ctx context.Context, limit int) ([]models.Order, error)
}

/*=================Assignment Repository==================*/

type AssignmentRepo interface {
	// Create inserts a pending assignment. The store enforces at most one
	// non-cancelled assignment per order; a second insert fails with
	// types.ErrOrderAlreadyAssigned.
	Create(ctx context.Context, a *models.Assignment) error
	ActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Assignment, error)
	Cancel(ctx context.Context, assignmentID uuid.UUID, reason string) error
	Accept(ctx context.Context, assignmentID uuid.UUID) error
}

/*=================Daily Metrics==========================*/

type MetricsRepo interface {
	Record(ctx context.Context, day time.Time, success bool, latency time.Duration) error
	Get(ctx context.Context, day time.Time) (models.AssignmentMetrics, error)
}

/*=================Driver Pool============================*/

type DriverPool interface {
	Get(driverID uuid.UUID) (models.DriverRecord, bool)
	NearbyDrivers(center models.Location, radiusMeters float64, filter models.NearbyFilter) []models.DriverWithDistance
	DriversInZone(zoneID uuid.UUID, status *types.DriverStatus) []models.DriverRecord
	// EnRoute lists connected drivers carrying at least minActive deliveries.
	EnRoute(minActive int) []models.DriverRecord
	IncrementActive(driverID uuid.UUID)
	DecrementActive(ctx context.Context, driverID uuid.UUID, completed bool)
}

/*=================Zone Map===============================*/

type ZoneMap interface {
	ZoneContaining(lat, lon float64) (*models.Zone, bool)
	NeighborsOf(zoneID uuid.UUID) ([]models.Zone, error)
	StatisticsOf(ctx context.Context, zoneID uuid.UUID) (models.ZoneStatistics, error)
}

/*=================Route Optimizer========================*/

type Optimizer interface {
	Optimize(start models.Location, stops []models.RouteNode) models.RoutePlan
	CanAppend(start models.Location, departAt time.Time, currentStops, newStops []models.RouteNode) bool
	SavingsPercent(start models.Location, stops []models.RouteNode) float64
}

/*=================Publisher==============================*/

type Publisher interface {
	PublishNotification(ctx context.Context, msg models.NotificationMessage) error
}

/*=================Driver Feed============================*/

// OfferSender pushes messages down a connected driver's socket.
// Delivery is best effort; the notification channel is the durable path.
type OfferSender interface {
	SendTo(id uuid.UUID, msg any) error
}
