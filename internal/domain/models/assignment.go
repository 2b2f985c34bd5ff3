package models

import (
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

// Assignment links an order to a driver. Cancelled assignments are kept for
// history; an order cycles back to unassigned on reassignment.
type Assignment struct {
	ID       uuid.UUID
	OrderID  uuid.UUID
	DriverID uuid.UUID

	Status types.AssignmentStatus

	EstimatedPickupAt   time.Time
	EstimatedDeliveryAt time.Time

	Priority int

	CreatedAt   time.Time
	CancelledAt *time.Time

	// CancelReason is set when Status is cancelled.
	CancelReason string
}

// AssignmentResult is what an assignment job reports back to its caller.
type AssignmentResult struct {
	OrderID             uuid.UUID  `json:"order_id"`
	Success             bool       `json:"success"`
	Reason              string     `json:"reason,omitempty"`
	Strategy            string     `json:"strategy"`
	AssignmentID        *uuid.UUID `json:"assignment_id,omitempty"`
	DriverID            *uuid.UUID `json:"driver_id,omitempty"`
	EstimatedPickupAt   *time.Time `json:"estimated_pickup_at,omitempty"`
	EstimatedDeliveryAt *time.Time `json:"estimated_delivery_at,omitempty"`
}

// AssignmentMetrics aggregates engine activity for one calendar day.
type AssignmentMetrics struct {
	Day                   time.Time
	TotalAssignments      int
	SuccessfulAssignments int
	CumulativeLatencyMS   int64
}
