package assignment

import (
	"context"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/internal/service/routeopt"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

// reoptimizeLoop periodically revisits every driver running a multi-stop
// route and pushes a new stop sequence when re-optimization saves enough
// distance to be worth interrupting the driver.
func (e *Engine) reoptimizeLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ReoptimizeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reoptimizeAll(wrap.WithAction(ctx, types.ActionRouteReoptimize))
		}
	}
}

func (e *Engine) reoptimizeAll(ctx context.Context) {
	for _, drv := range e.pool.EnRoute(2) {
		e.reoptimizeDriver(ctx, drv)
	}
}

// RoutePlanFor builds the optimized plan over a driver's active stops,
// for the route query surface. Nothing is persisted or pushed.
func (e *Engine) RoutePlanFor(ctx context.Context, driverID uuid.UUID) (models.RoutePlan, error) {
	drv, ok := e.pool.Get(driverID)
	if !ok {
		return models.RoutePlan{}, wrap.Error(ctx, types.ErrDriverNotFound)
	}

	stops, err := e.activeStops(ctx, driverID)
	if err != nil {
		return models.RoutePlan{}, wrap.Error(ctx, err)
	}

	plan := e.optimizer.Optimize(drv.Location, stops)
	plan.DriverID = driverID
	return plan, nil
}

func (e *Engine) reoptimizeDriver(ctx context.Context, drv models.DriverRecord) {
	ctx = wrap.WithDriverID(ctx, drv.ID.String())

	stops, err := e.activeStops(ctx, drv.ID)
	if err != nil {
		e.l.Warn(ctx, "failed to load route for reoptimization", "error", err)
		return
	}
	if len(stops) < 3 {
		// One remaining order never reorders.
		return
	}

	savings := e.optimizer.SavingsPercent(drv.Location, stops)
	if savings <= routeopt.PushSavingsThreshold {
		return
	}

	plan := e.optimizer.Optimize(drv.Location, stops)
	plan.DriverID = drv.ID

	seq := 0
	seen := make(map[uuid.UUID]bool)
	for _, node := range plan.Stops {
		if node.Kind != types.StopPickup || seen[node.OrderID] {
			continue
		}
		seen[node.OrderID] = true
		seq++
		if err := e.repos.order.SetSequence(ctx, node.OrderID, seq); err != nil {
			e.l.Warn(ctx, "failed to persist route sequence", "order_id", node.OrderID.String(), "error", err)
		}
	}

	update := models.RouteUpdateMessage{
		MsgType:        "route_update",
		DriverID:       drv.ID,
		Stops:          plan.Stops,
		SavingsPercent: savings,
	}
	if err := e.feed.SendTo(drv.ID, update); err != nil {
		e.l.Debug(ctx, "route push skipped", "error", err)
		return
	}

	e.l.Info(ctx, "route reoptimized", "stops", len(plan.Stops), "savings_percent", savings)
}
