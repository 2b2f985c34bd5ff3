package assignment

import (
	"context"
	"errors"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/internal/service/routeopt"
	"github.com/feastlane/dispatch-system/pkg/geo"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

const (
	// Orders whose pickups lie within this distance of a cluster anchor
	// join the cluster.
	clusterRadiusMeters = 2000

	batchFetchLimit = 100
)

// BatchAssign drains unassigned orders, clusters them by pickup proximity
// and hands each cluster to the driver with the most free capacity near the
// cluster centroid, then sequences the cluster through the optimizer.
func (e *Engine) BatchAssign(ctx context.Context) ([]models.AssignmentResult, error) {
	ctx = wrap.WithAction(ctx, types.ActionBatchAssign)

	orders, err := e.repos.order.Unassigned(ctx, batchFetchLimit)
	if err != nil {
		return nil, wrap.Error(ctx, err)
	}
	if len(orders) == 0 {
		return nil, nil
	}

	results := make([]models.AssignmentResult, 0, len(orders))
	for _, cluster := range clusterOrders(orders) {
		results = append(results, e.assignCluster(ctx, cluster)...)
	}
	return results, nil
}

// clusterOrders is a greedy single pass: each unclaimed order anchors a
// cluster and pulls in every other unclaimed order whose pickup lies
// within the cluster radius.
func clusterOrders(orders []models.Order) [][]models.Order {
	claimed := make([]bool, len(orders))
	clusters := make([][]models.Order, 0)

	for i := range orders {
		if claimed[i] {
			continue
		}
		claimed[i] = true
		cluster := []models.Order{orders[i]}

		for j := i + 1; j < len(orders); j++ {
			if claimed[j] {
				continue
			}
			d := geo.HaversineMeters(
				orders[i].Pickup.Latitude, orders[i].Pickup.Longitude,
				orders[j].Pickup.Latitude, orders[j].Pickup.Longitude,
			)
			if d <= clusterRadiusMeters {
				claimed[j] = true
				cluster = append(cluster, orders[j])
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

func clusterCentroid(cluster []models.Order) models.Location {
	var lat, lon float64
	for _, o := range cluster {
		lat += o.Pickup.Latitude
		lon += o.Pickup.Longitude
	}
	n := float64(len(cluster))
	return models.Location{Latitude: lat / n, Longitude: lon / n}
}

func (e *Engine) assignCluster(ctx context.Context, cluster []models.Order) []models.AssignmentResult {
	center := clusterCentroid(cluster)

	online := types.DriverOnline
	nearby := e.pool.NearbyDrivers(center, e.cfg.SearchRadiusKm*1000, models.NearbyFilter{Status: &online})

	// Most spare capacity wins; NearbyDrivers already sorted ascending by
	// distance, which settles ties.
	var driver *models.DriverWithDistance
	for _, cand := range nearby {
		free := cand.Driver.Capacity - cand.Driver.ActiveDeliveries
		if free <= 0 {
			continue
		}
		if driver == nil || free > driver.Driver.Capacity-driver.Driver.ActiveDeliveries {
			c := cand
			driver = &c
		}
	}

	results := make([]models.AssignmentResult, 0, len(cluster))
	if driver == nil {
		for _, o := range cluster {
			e.waiting.push(o.ID)
			results = append(results, models.AssignmentResult{
				OrderID:  o.ID,
				Success:  false,
				Reason:   types.ErrNoAvailableDrivers.Error(),
				Strategy: types.StrategyBatched.String(),
			})
		}
		return results
	}

	assigned := make([]models.Order, 0, len(cluster))
	for _, o := range cluster {
		free := driver.Driver.Capacity - driver.Driver.ActiveDeliveries - len(assigned)
		if free <= 0 {
			e.waiting.push(o.ID)
			results = append(results, models.AssignmentResult{
				OrderID:  o.ID,
				Success:  false,
				Reason:   types.ErrNoAvailableDrivers.Error(),
				Strategy: types.StrategyBatched.String(),
			})
			continue
		}

		d := geo.HaversineMeters(driver.Driver.Location.Latitude, driver.Driver.Location.Longitude, o.Pickup.Latitude, o.Pickup.Longitude)
		res := e.commit(ctx, &o, &models.DriverWithDistance{Driver: driver.Driver, DistanceMeters: d}, types.StrategyBatched)
		results = append(results, res)
		if res.Success {
			assigned = append(assigned, o)
		}
	}

	if len(assigned) > 0 {
		e.sequenceCluster(ctx, driver.Driver, assigned)
	}
	return results
}

// sequenceCluster runs the optimizer over the driver's full active route
// (existing orders plus the fresh cluster) and persists per-order sequence
// numbers in pickup order.
func (e *Engine) sequenceCluster(ctx context.Context, driver models.DriverRecord, assigned []models.Order) {
	stops, err := e.activeStops(ctx, driver.ID)
	if err != nil {
		e.l.Warn(ctx, "failed to load route for sequencing", "driver_id", driver.ID.String(), "error", err)
		stops = nil
	}

	// The fresh cluster may not be visible through the store yet.
	present := make(map[uuid.UUID]bool, len(stops))
	for _, node := range stops {
		present[node.OrderID] = true
	}
	for _, o := range assigned {
		if !present[o.ID] {
			stops = append(stops, routeopt.OrderNodes(o)...)
		}
	}

	plan := e.optimizer.Optimize(driver.Location, stops)
	plan.DriverID = driver.ID

	seq := 0
	seen := make(map[uuid.UUID]bool)
	for _, node := range plan.Stops {
		if node.Kind != types.StopPickup || seen[node.OrderID] {
			continue
		}
		seen[node.OrderID] = true
		seq++
		if err := e.repos.order.SetSequence(ctx, node.OrderID, seq); err != nil && !errors.Is(err, types.ErrOrderNotFound) {
			e.l.Warn(ctx, "failed to persist route sequence", "order_id", node.OrderID.String(), "error", err)
		}
	}

	update := models.RouteUpdateMessage{
		MsgType:  "route_update",
		DriverID: driver.ID,
		Stops:    plan.Stops,
	}
	if err := e.feed.SendTo(driver.ID, update); err != nil {
		e.l.Debug(ctx, "route push skipped", "driver_id", driver.ID.String(), "error", err)
	}
}
