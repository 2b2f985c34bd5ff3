package models

import (
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

// DriverRecord is the pool's in-memory view of a connected driver.
// It is owned by the driver pool and mutated only through pool methods;
// the authoritative delivery counts live in the order store.
type DriverRecord struct {
	ID   uuid.UUID
	Name string

	Status      types.DriverStatus
	VehicleType types.VehicleType

	Location       Location
	HeadingDegrees float64
	SpeedKmh       float64
	LastUpdate     time.Time

	// ZoneID is a weak reference resolved against the zone map, empty when
	// the driver is outside every active zone.
	ZoneID uuid.UUID

	ActiveDeliveries int
	Capacity         int

	Performance PerformanceStats
}

// PerformanceStats carries rolling driver metrics. Today's counters are
// refreshed lazily from the order history store; the 7-day figures are
// recomputed on connect.
type PerformanceStats struct {
	CompletedToday     int
	EarningsToday      float64
	Rating             float64
	AcceptanceRate     float64 // 0..100
	OnTimeRate         float64 // 0..100
	AvgDeliveryTimeMin float64 // 7-day average
}

// DriverWithDistance pairs a pool record with its distance to a reference point.
type DriverWithDistance struct {
	Driver         DriverRecord
	DistanceMeters float64
}

// DriverProfile is the persisted part of a driver, loaded on connect.
type DriverProfile struct {
	ID          uuid.UUID
	Name        string
	VehicleType types.VehicleType
	Rating      float64
	Status      types.DriverStatus
	LastZoneID  uuid.UUID
}

// NearbyFilter narrows candidates before any distance is computed.
type NearbyFilter struct {
	Status              *types.DriverStatus
	VehicleType         *types.VehicleType
	MaxActiveDeliveries *int
}
