package zonemap

import (
	"context"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

/*=================Zone Repository========================*/

type ZoneRepo interface {
	List(ctx context.Context) ([]models.Zone, error)
	Create(ctx context.Context, zone *models.Zone) error
	Update(ctx context.Context, zone *models.Zone) error
	UpdateDemand(ctx context.Context, zoneID uuid.UUID, level types.DemandLevel, surge float64) error
}

/*=================Order Counts===========================*/

// OrderCounter answers per-zone order load from the order store.
type OrderCounter interface {
	CountsByZone(ctx context.Context, zoneID uuid.UUID) (models.OrderCounts, error)
}

/*=================Driver Counts==========================*/

// DriverCounter is the slice of the driver pool zone statistics need.
type DriverCounter interface {
	CountInZone(zoneID uuid.UUID) (active, available int)
}

/*=================Publisher==============================*/

type Publisher interface {
	PublishSurge(ctx context.Context, msg models.SurgeNotification) error
}
