package models

import (
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

type Zone struct {
	ID   uuid.UUID
	Name string

	// Polygon is a simple (non self-intersecting) ring of vertices.
	// The closing vertex is not stored.
	Polygon []Location

	Active bool

	// Priority breaks ties when polygons overlap: the highest-priority
	// active zone claims the point, then the oldest.
	Priority int

	DemandLevel        types.DemandLevel
	SurgeMultiplier    float64 // 1.0 .. 3.0
	TargetDriverCount  int
	AvgDeliveryTimeMin float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ZoneStatistics is derived state, recomputed from the driver pool and the
// order store and cached for a short interval.
type ZoneStatistics struct {
	ZoneID uuid.UUID

	ActiveDrivers    int
	AvailableDrivers int
	ActiveOrders     int
	PendingOrders    int

	AvgWaitTimeMin    float64
	DemandSupplyRatio float64

	ComputedAt time.Time
}
