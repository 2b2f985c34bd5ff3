package driverpool

import (
	"context"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

/*=================Driver Repository======================*/

type DriverRepo interface {
	Profile(ctx context.Context, driverID uuid.UUID) (*models.DriverProfile, error)
	// ListOnline returns drivers persisted as working (not offline), for
	// repopulating the registry after a restart.
	ListOnline(ctx context.Context) ([]uuid.UUID, error)
	SevenDayPerformance(ctx context.Context, driverID uuid.UUID) (models.PerformanceStats, error)
	TodayStats(ctx context.Context, driverID uuid.UUID) (completed int, earnings float64, err error)
	ActiveDeliveryCount(ctx context.Context, driverID uuid.UUID) (int, error)
	SetStatus(ctx context.Context, driverID uuid.UUID, status types.DriverStatus) error
}

/*=================Location History=======================*/

// HistoryRepo keeps the bounded per-driver location trail.
type HistoryRepo interface {
	Append(ctx context.Context, upd models.LocationUpdate) error
}

/*=================Zone Lookup============================*/

type ZoneLocator interface {
	ZoneContaining(lat, lon float64) (*models.Zone, bool)
}

/*=================Publisher==============================*/

type Publisher interface {
	PublishZoneTransition(ctx context.Context, msg models.ZoneTransitionMessage) error
}

/*=================Connection Groups======================*/

// GroupHub is the slice of the websocket hub the pool needs to keep
// per-zone driver groups current.
type GroupHub interface {
	JoinGroup(group string, entityID uuid.UUID)
	LeaveGroup(group string, entityID uuid.UUID)
}
