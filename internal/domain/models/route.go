package models

import (
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

// RouteNode is one stop in a multi-stop route. Nodes are transient:
// constructed per optimization call, never persisted.
type RouteNode struct {
	OrderID  uuid.UUID        `json:"order_id"`
	Kind     types.StopKind   `json:"kind"`
	Location Location         `json:"location"`
	Window   *TimeWindow      `json:"window,omitempty"`

	// ServiceTime is the fixed dwell at the stop (pickup 300s, delivery 180s).
	ServiceTime time.Duration `json:"service_time_seconds"`
}

// RouteMetrics summarizes a sequenced route.
type RouteMetrics struct {
	DistanceMeters float64       `json:"distance_meters"`
	Duration       time.Duration `json:"duration_seconds"`
}

// RoutePlan is the optimizer output for one driver.
type RoutePlan struct {
	DriverID uuid.UUID    `json:"driver_id"`
	Stops    []RouteNode  `json:"stops"`
	Metrics  RouteMetrics `json:"metrics"`

	// Truncated is set when precedence or windows left nodes unplaceable
	// and the plan covers only a prefix of the requested stops.
	Truncated bool `json:"truncated,omitempty"`
}
