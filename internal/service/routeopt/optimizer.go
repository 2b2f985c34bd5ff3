package routeopt

import (
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/geo"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

const (
	// Fixed dwell time per stop kind.
	PickupServiceTime   = 300 * time.Second
	DeliveryServiceTime = 180 * time.Second

	// A new order may be appended to an active route only while total
	// distance grows by less than this fraction.
	AppendGrowthLimit = 0.20

	// Routes already in progress are only replaced when the optimized
	// variant saves more than this percentage of distance.
	PushSavingsThreshold = 10.0
)

// Optimizer sequences pickup/delivery stops for a single driver.
// All methods are pure: no state is kept between calls.
type Optimizer struct{}

func New() *Optimizer {
	return &Optimizer{}
}

// NewNode builds a route node for an order stop with the fixed service time
// for its kind.
func NewNode(orderID uuid.UUID, kind types.StopKind, loc models.Location, window *models.TimeWindow) models.RouteNode {
	service := DeliveryServiceTime
	if kind == types.StopPickup {
		service = PickupServiceTime
	}
	return models.RouteNode{
		OrderID:     orderID,
		Kind:        kind,
		Location:    loc,
		Window:      window,
		ServiceTime: service,
	}
}

// OrderNodes expands an order into its pickup and delivery nodes.
func OrderNodes(o models.Order) []models.RouteNode {
	return []models.RouteNode{
		NewNode(o.ID, types.StopPickup, o.Pickup, o.PickupWindow),
		NewNode(o.ID, types.StopDelivery, o.Dropoff, o.DeliveryWindow),
	}
}

// Optimize orders the stops by repeatedly taking the nearest eligible node.
// A delivery becomes eligible only after its matching pickup was visited;
// ties go to the first node found. When no node is eligible the plan is
// returned truncated, which callers detect by comparing lengths.
func (op *Optimizer) Optimize(start models.Location, stops []models.RouteNode) models.RoutePlan {
	remaining := make([]models.RouteNode, len(stops))
	copy(remaining, stops)

	pickedUp := make(map[uuid.UUID]bool, len(stops))
	ordered := make([]models.RouteNode, 0, len(stops))
	current := start

	for len(remaining) > 0 {
		bestIdx := -1
		bestDist := 0.0

		for i, node := range remaining {
			if node.Kind == types.StopDelivery && !pickedUp[node.OrderID] {
				continue
			}
			d := distanceMeters(current, node.Location)
			if bestIdx == -1 || d < bestDist {
				bestIdx = i
				bestDist = d
			}
		}

		if bestIdx == -1 {
			// No eligible node left: deliveries without pickups in the
			// input. Return what was built so far.
			break
		}

		chosen := remaining[bestIdx]
		if chosen.Kind == types.StopPickup {
			pickedUp[chosen.OrderID] = true
		}
		ordered = append(ordered, chosen)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		current = chosen.Location
	}

	return models.RoutePlan{
		Stops:     ordered,
		Metrics:   op.Metrics(start, ordered),
		Truncated: len(ordered) < len(stops),
	}
}

// Metrics sums consecutive great-circle legs and adds per-node service time.
// Travel time assumes the constant 30 km/h model.
func (op *Optimizer) Metrics(start models.Location, stops []models.RouteNode) models.RouteMetrics {
	var distance float64
	var duration time.Duration

	current := start
	for _, node := range stops {
		leg := distanceMeters(current, node.Location)
		distance += leg
		duration += time.Duration(geo.TravelSeconds(leg) * float64(time.Second))
		duration += node.ServiceTime
		current = node.Location
	}

	return models.RouteMetrics{
		DistanceMeters: distance,
		Duration:       duration,
	}
}

// FeasibleWithinTimeWindows walks the route from departAt, accumulating
// travel and service time, and fails when the projected arrival at any
// node falls past that node's window end.
func (op *Optimizer) FeasibleWithinTimeWindows(start models.Location, departAt time.Time, stops []models.RouteNode) bool {
	at := departAt
	current := start

	for _, node := range stops {
		leg := distanceMeters(current, node.Location)
		at = at.Add(time.Duration(geo.TravelSeconds(leg) * float64(time.Second)))

		if node.Window != nil && !node.Window.End.IsZero() && at.After(node.Window.End) {
			return false
		}

		at = at.Add(node.ServiceTime)
		current = node.Location
	}

	return true
}

// CanAppend reports whether newStops can join the current route: the
// re-optimized combined route must stay within the distance growth limit
// and keep every time window feasible.
func (op *Optimizer) CanAppend(start models.Location, departAt time.Time, currentStops, newStops []models.RouteNode) bool {
	if len(currentStops) == 0 {
		return true
	}

	baseline := op.Optimize(start, currentStops)

	combined := make([]models.RouteNode, 0, len(currentStops)+len(newStops))
	combined = append(combined, currentStops...)
	combined = append(combined, newStops...)

	plan := op.Optimize(start, combined)
	if plan.Truncated {
		return false
	}

	if baseline.Metrics.DistanceMeters > 0 {
		growth := (plan.Metrics.DistanceMeters - baseline.Metrics.DistanceMeters) / baseline.Metrics.DistanceMeters
		if growth >= AppendGrowthLimit {
			return false
		}
	}

	return op.FeasibleWithinTimeWindows(start, departAt, plan.Stops)
}

// SavingsPercent compares the combined optimized route against serving each
// order on its own round trip from start. Positive values mean the combined
// route is shorter.
func (op *Optimizer) SavingsPercent(start models.Location, stops []models.RouteNode) float64 {
	byOrder := make(map[uuid.UUID][]models.RouteNode)
	orderIDs := make([]uuid.UUID, 0)
	for _, node := range stops {
		if _, ok := byOrder[node.OrderID]; !ok {
			orderIDs = append(orderIDs, node.OrderID)
		}
		byOrder[node.OrderID] = append(byOrder[node.OrderID], node)
	}

	var individual float64
	for _, id := range orderIDs {
		plan := op.Optimize(start, byOrder[id])
		individual += plan.Metrics.DistanceMeters
	}
	if individual == 0 {
		return 0
	}

	combined := op.Optimize(start, stops)
	return (individual - combined.Metrics.DistanceMeters) / individual * 100
}

func distanceMeters(a, b models.Location) float64 {
	return geo.HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}
