package models

import (
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

type Order struct {
	ID         uuid.UUID
	Number     string
	CustomerID uuid.UUID
	MerchantID uuid.UUID

	Status types.DeliveryStatus

	Pickup  Location
	Dropoff Location

	PickupWindow   *TimeWindow
	DeliveryWindow *TimeWindow

	// RequiredVehicle is nil when any vehicle may serve the order.
	RequiredVehicle *types.VehicleType

	Priority int

	// SequenceNumber is the position of this order inside the assigned
	// driver's multi-stop route, zero when unrouted.
	SequenceNumber int

	CreatedAt time.Time
}

// OrderCounts is the per-zone order load used by zone statistics.
type OrderCounts struct {
	Active  int
	Pending int

	// AvgWaitMinutes is the mean time pending orders have been waiting.
	AvgWaitMinutes float64
}
