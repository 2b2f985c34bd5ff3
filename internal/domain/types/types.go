package types

type ServiceMode string

// Dispatch Service - runs the assignment engine, driver pool, zone map and
// real-time tracking behind one HTTP/WebSocket surface.
const (
	DispatchService ServiceMode = "dispatch-service"
)

// Enum for driver connection status
type DriverStatus string

func (s DriverStatus) String() string {
	return string(s)
}

const (
	DriverOnline  DriverStatus = "online"
	DriverOffline DriverStatus = "offline"
	DriverBusy    DriverStatus = "busy"
	DriverBreak   DriverStatus = "break"
)

// Enum for vehicle types
type VehicleType string

const (
	VehicleBicycle   VehicleType = "bicycle"
	VehicleMotorbike VehicleType = "motorbike"
	VehicleCar       VehicleType = "car"
	VehicleVan       VehicleType = "van"
)

// Enum for delivery progress of an order
type DeliveryStatus string

func (s DeliveryStatus) String() string {
	return string(s)
}

const (
	DeliveryUnassigned DeliveryStatus = "unassigned"
	DeliveryAssigned   DeliveryStatus = "assigned"
	DeliveryAtPickup   DeliveryStatus = "at_pickup"
	DeliveryInTransit  DeliveryStatus = "in_transit"
	DeliveryAtDropoff  DeliveryStatus = "at_delivery"
	DeliveryCompleted  DeliveryStatus = "completed"
	DeliveryCancelled  DeliveryStatus = "cancelled"
)

// Enum for the lifecycle of a single assignment attempt
type AssignmentStatus string

func (s AssignmentStatus) String() string {
	return string(s)
}

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentAccepted  AssignmentStatus = "accepted"
	AssignmentCancelled AssignmentStatus = "cancelled"
)

// Enum for zone demand classification
type DemandLevel string

const (
	DemandLow      DemandLevel = "low"
	DemandMedium   DemandLevel = "medium"
	DemandHigh     DemandLevel = "high"
	DemandVeryHigh DemandLevel = "very_high"
)

// Enum for route stop kinds
type StopKind string

const (
	StopPickup   StopKind = "pickup"
	StopDelivery StopKind = "delivery"
)

// Enum for notification recipients
type Channel string

const (
	ChannelDriver   Channel = "driver"
	ChannelCustomer Channel = "customer"
	ChannelMerchant Channel = "merchant"
)
