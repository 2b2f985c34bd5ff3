package assignment

import (
	"context"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/internal/service/routeopt"
	"github.com/feastlane/dispatch-system/pkg/geo"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

// maxCandidateDeliveries keeps near-capacity drivers out of the candidate
// pool: a third concurrent delivery only ever arrives via batching.
const maxCandidateDeliveries = 2

// selectDriver dispatches on the strategy. The switch is exhaustive over
// the closed Strategy set; every branch falls back to proximity when its
// own precondition fails.
func (e *Engine) selectDriver(ctx context.Context, order *models.Order, strategy types.Strategy, exclude uuid.UUID) *models.DriverWithDistance {
	switch strategy {
	case types.StrategyProximity:
		return e.byProximity(order, exclude)
	case types.StrategyZoneBalanced:
		return e.byZoneBalance(ctx, order, exclude)
	case types.StrategyPerformance:
		return e.byPerformance(order, exclude)
	case types.StrategyBatched:
		return e.byBatching(ctx, order, exclude)
	}
	return e.byProximity(order, exclude)
}

func (e *Engine) candidates(order *models.Order, maxActive int) []models.DriverWithDistance {
	online := types.DriverOnline
	limit := maxActive
	return e.pool.NearbyDrivers(order.Pickup, e.cfg.SearchRadiusKm*1000, models.NearbyFilter{
		Status:              &online,
		MaxActiveDeliveries: &limit,
	})
}

// byProximity scores nearby online drivers by distance, load, rating and
// vehicle fit.
func (e *Engine) byProximity(order *models.Order, exclude uuid.UUID) *models.DriverWithDistance {
	var best *models.DriverWithDistance
	var bestScore float64

	for _, cand := range e.candidates(order, maxCandidateDeliveries) {
		if cand.Driver.ID == exclude {
			continue
		}
		score := proximityScore(cand, order)
		if best == nil || score > bestScore {
			c := cand
			best = &c
			bestScore = score
		}
	}
	return best
}

func proximityScore(cand models.DriverWithDistance, order *models.Order) float64 {
	score := 1000 -
		0.5*cand.DistanceMeters -
		100*float64(cand.Driver.ActiveDeliveries) +
		20*cand.Driver.Performance.Rating
	if order.RequiredVehicle != nil && cand.Driver.VehicleType == *order.RequiredVehicle {
		score += 50
	}
	return score
}

// byZoneBalance pulls a driver from an underloaded neighboring zone when
// the pickup zone is starved (ratio > 2 here, < 1 there). Anything short
// of that falls back to proximity.
func (e *Engine) byZoneBalance(ctx context.Context, order *models.Order, exclude uuid.UUID) *models.DriverWithDistance {
	zone, inside := e.zones.ZoneContaining(order.Pickup.Latitude, order.Pickup.Longitude)
	if !inside {
		return e.byProximity(order, exclude)
	}

	stats, err := e.zones.StatisticsOf(ctx, zone.ID)
	if err != nil || stats.DemandSupplyRatio <= 2 {
		return e.byProximity(order, exclude)
	}

	neighbors, err := e.zones.NeighborsOf(zone.ID)
	if err != nil {
		return e.byProximity(order, exclude)
	}

	online := types.DriverOnline
	var best *models.DriverWithDistance

	for _, neighbor := range neighbors {
		nstats, err := e.zones.StatisticsOf(ctx, neighbor.ID)
		if err != nil || nstats.DemandSupplyRatio >= 1 {
			continue
		}

		for _, drv := range e.pool.DriversInZone(neighbor.ID, &online) {
			if drv.ID == exclude {
				continue
			}
			d := geo.HaversineMeters(order.Pickup.Latitude, order.Pickup.Longitude, drv.Location.Latitude, drv.Location.Longitude)
			if best == nil || d < best.DistanceMeters {
				best = &models.DriverWithDistance{Driver: drv, DistanceMeters: d}
			}
		}
	}

	if best == nil {
		return e.byProximity(order, exclude)
	}
	return best
}

// byPerformance re-scores the proximity candidate pool on each driver's
// 7-day record.
func (e *Engine) byPerformance(order *models.Order, exclude uuid.UUID) *models.DriverWithDistance {
	var best *models.DriverWithDistance
	var bestScore float64

	for _, cand := range e.candidates(order, maxCandidateDeliveries) {
		if cand.Driver.ID == exclude {
			continue
		}
		score := performanceScore(cand)
		if best == nil || score > bestScore {
			c := cand
			best = &c
			bestScore = score
		}
	}
	return best
}

func performanceScore(cand models.DriverWithDistance) float64 {
	p := cand.Driver.Performance
	return p.Rating*50 +
		p.OnTimeRate*2 +
		p.AcceptanceRate*1 -
		p.AvgDeliveryTimeMin*0.5 -
		cand.DistanceMeters*0.3 -
		float64(cand.Driver.ActiveDeliveries)*80
}

// byBatching prefers a driver already en route with exactly one delivery
// whose route can absorb the order within the growth and window limits.
func (e *Engine) byBatching(ctx context.Context, order *models.Order, exclude uuid.UUID) *models.DriverWithDistance {
	online := types.DriverOnline
	one := 1
	nearby := e.pool.NearbyDrivers(order.Pickup, e.cfg.SearchRadiusKm*1000, models.NearbyFilter{
		Status:              &online,
		MaxActiveDeliveries: &one,
	})

	newStops := routeopt.OrderNodes(*order)

	for _, cand := range nearby {
		if cand.Driver.ID == exclude || cand.Driver.ActiveDeliveries == 0 {
			continue
		}

		current, err := e.activeStops(ctx, cand.Driver.ID)
		if err != nil {
			e.l.Warn(ctx, "failed to load driver route", "driver_id", cand.Driver.ID.String(), "error", err)
			continue
		}
		if len(current) == 0 {
			continue
		}

		if e.optimizer.CanAppend(cand.Driver.Location, cand.Driver.LastUpdate, current, newStops) {
			c := cand
			return &c
		}
	}

	return e.byProximity(order, exclude)
}

// activeStops rebuilds the driver's remaining route nodes from their
// active orders. Stops already served are excluded by delivery status.
func (e *Engine) activeStops(ctx context.Context, driverID uuid.UUID) ([]models.RouteNode, error) {
	orders, err := e.repos.order.ActiveByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}

	stops := make([]models.RouteNode, 0, 2*len(orders))
	for _, o := range orders {
		switch o.Status {
		case types.DeliveryAssigned, types.DeliveryAtPickup:
			stops = append(stops, routeopt.OrderNodes(o)...)
		case types.DeliveryInTransit, types.DeliveryAtDropoff:
			stops = append(stops, routeopt.NewNode(o.ID, types.StopDelivery, o.Dropoff, o.DeliveryWindow))
		}
	}
	return stops, nil
}
