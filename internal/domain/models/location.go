package models

import (
	"time"

	"github.com/feastlane/dispatch-system/pkg/uuid"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// TimeWindow bounds when a stop may be served. Zero-value fields mean unbounded.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LocationUpdate is a single frame from the driver state feed.
// Heading and speed are optional; zero speed is treated as absent by ETA code.
type LocationUpdate struct {
	DriverID       uuid.UUID `json:"driver_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	HeadingDegrees float64   `json:"heading_degrees,omitempty"`
	SpeedKmh       float64   `json:"speed_kmh,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func (u LocationUpdate) Location() Location {
	return Location{Latitude: u.Latitude, Longitude: u.Longitude}
}
