package models

import (
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

/* ======================= rabbitmq ======================= */

// OrderCreatedMessage arrives from the order service when a new delivery
// needs a driver.
type OrderCreatedMessage struct {
	OrderID       uuid.UUID `json:"order_id"`
	Strategy      string    `json:"strategy,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NotificationMessage is a fire-and-forget message to a driver, customer or
// merchant channel. Delivery mechanics belong to the notification service.
type NotificationMessage struct {
	Channel     types.Channel `json:"channel"`
	RecipientID uuid.UUID     `json:"recipient_id"`
	Kind        string        `json:"kind"`
	Payload     any           `json:"payload,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// SurgeNotification is published when a zone's suggested surge exceeds the
// notification threshold.
type SurgeNotification struct {
	ZoneID          uuid.UUID         `json:"zone_id"`
	ZoneName        string            `json:"zone_name"`
	Multiplier      float64           `json:"multiplier"`
	DemandLevel     types.DemandLevel `json:"demand_level"`
	DemandSupply    float64           `json:"demand_supply_ratio"`
	Timestamp       time.Time         `json:"timestamp"`
}

// ZoneTransitionMessage records a driver crossing a zone boundary.
type ZoneTransitionMessage struct {
	DriverID   uuid.UUID  `json:"driver_id"`
	FromZoneID *uuid.UUID `json:"from_zone_id,omitempty"`
	ToZoneID   *uuid.UUID `json:"to_zone_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

/* ======================= websocket ======================= */

// AssignmentOffer is pushed to the assigned driver's socket.
type AssignmentOffer struct {
	MsgType             string     `json:"type"` // always "assignment"
	AssignmentID        uuid.UUID  `json:"assignment_id"`
	OrderID             uuid.UUID  `json:"order_id"`
	Pickup              Location   `json:"pickup"`
	Dropoff             Location   `json:"dropoff"`
	EstimatedPickupAt   time.Time  `json:"estimated_pickup_at"`
	EstimatedDeliveryAt time.Time  `json:"estimated_delivery_at"`
	Priority            int        `json:"priority"`
}

// RouteUpdateMessage pushes a re-optimized stop sequence to a driver.
type RouteUpdateMessage struct {
	MsgType        string      `json:"type"` // always "route_update"
	DriverID       uuid.UUID   `json:"driver_id"`
	Stops          []RouteNode `json:"stops"`
	SavingsPercent float64     `json:"savings_percent"`
}

// TrackingSnapshot is sent to order subscribers (customer or merchant).
type TrackingSnapshot struct {
	MsgType    string     `json:"type"` // always "tracking"
	OrderID    uuid.UUID  `json:"order_id"`
	DriverID   uuid.UUID  `json:"driver_id"`
	Location   Location   `json:"location"`
	SpeedKmh   float64    `json:"speed_kmh,omitempty"`
	EtaSeconds float64    `json:"eta_seconds,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
