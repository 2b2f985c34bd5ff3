package types

import "errors"

var (
	ErrDriverNotFound = errors.New("driver not found")
	ErrOrderNotFound  = errors.New("order not found")
	ErrZoneNotFound   = errors.New("zone not found")
	ErrNotFound       = errors.New("requested item not found")

	ErrNoAvailableDrivers   = errors.New("No available drivers")
	ErrOrderAlreadyAssigned = errors.New("order already has an active assignment")
	ErrAssignmentTimeout    = errors.New("assignment job timed out")
	ErrUnknownStrategy      = errors.New("unknown assignment strategy")

	ErrInvalidZonePolygon = errors.New("invalid zone polygon")
	ErrZoneInactive       = errors.New("zone is not active")

	ErrSubscriptionForbidden = errors.New("subscriber is not a party to this order")
	ErrOrderNotAssigned      = errors.New("order has no assigned driver")

	ErrDatabaseFailed = errors.New("database operation failed")
)
