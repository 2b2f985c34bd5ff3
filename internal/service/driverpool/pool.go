package driverpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/geo"
	"github.com/feastlane/dispatch-system/pkg/logger"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

// DefaultCapacity is how many concurrent deliveries one driver may carry.
const DefaultCapacity = 3

/*
Pool is the in-memory registry of connected drivers. It is the only writer
of driver records; readers get copies. Lookups by proximity go through a
geohash cell index so a nearby query does not scan the whole city.
*/
type Pool struct {
	mu      sync.RWMutex
	drivers map[uuid.UUID]*models.DriverRecord
	cells   *cellIndex

	repo      DriverRepo
	history   HistoryRepo
	zones     ZoneLocator
	publisher Publisher
	hub       GroupHub
	l         logger.Logger
}

func New(repo DriverRepo, history HistoryRepo, zones ZoneLocator, publisher Publisher, hub GroupHub, l logger.Logger) *Pool {
	return &Pool{
		drivers:   make(map[uuid.UUID]*models.DriverRecord),
		cells:     newCellIndex(),
		repo:      repo,
		history:   history,
		zones:     zones,
		publisher: publisher,
		hub:       hub,
		l:         l,
	}
}

// Connect registers a driver in the pool. The persisted profile, 7-day
// performance figures and the live delivery count are loaded so a driver
// reconnecting mid-route comes back busy, not idle.
func (p *Pool) Connect(ctx context.Context, driverID uuid.UUID) error {
	profile, err := p.repo.Profile(ctx, driverID)
	if err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to load driver profile: %w", err))
	}

	perf, err := p.repo.SevenDayPerformance(ctx, driverID)
	if err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to load driver performance: %w", err))
	}

	completed, earnings, err := p.repo.TodayStats(ctx, driverID)
	if err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to load today stats: %w", err))
	}
	perf.CompletedToday = completed
	perf.EarningsToday = earnings

	active, err := p.repo.ActiveDeliveryCount(ctx, driverID)
	if err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to load active delivery count: %w", err))
	}
	if active > DefaultCapacity {
		active = DefaultCapacity
	}

	rec := &models.DriverRecord{
		ID:               driverID,
		Name:             profile.Name,
		Status:           types.DriverOnline,
		VehicleType:      profile.VehicleType,
		LastUpdate:       time.Now(),
		ActiveDeliveries: active,
		Capacity:         DefaultCapacity,
		Performance:      perf,
	}
	if active >= rec.Capacity {
		rec.Status = types.DriverBusy
	}

	if err := p.repo.SetStatus(ctx, driverID, rec.Status); err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to persist driver status: %w", err))
	}

	p.mu.Lock()
	p.drivers[driverID] = rec
	p.mu.Unlock()

	p.l.Info(ctx, "driver connected", "driver_id", driverID.String(), "active_deliveries", active)
	return nil
}

// WarmStart repopulates the registry from drivers persisted as working, so
// a process restart does not hide every connected driver from assignment
// until they reconnect. Each driver goes through the same load path as
// Connect; one bad record is logged and skipped, not fatal.
func (p *Pool) WarmStart(ctx context.Context) error {
	ids, err := p.repo.ListOnline(ctx)
	if err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to list online drivers: %w", err))
	}

	loaded := 0
	for _, id := range ids {
		if err := p.Connect(ctx, id); err != nil {
			p.l.Warn(ctx, "failed to warm-start driver", "driver_id", id.String(), "error", err)
			continue
		}
		loaded++
	}

	p.l.Info(ctx, "driver pool warm start complete", "persisted", len(ids), "loaded", loaded)
	return nil
}

// Disconnect removes the driver from the registry. Unknown drivers are a
// no-op. Active deliveries are not touched: they live in the order store
// and survive the socket.
func (p *Pool) Disconnect(ctx context.Context, driverID uuid.UUID) error {
	p.mu.Lock()
	rec, ok := p.drivers[driverID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	zoneID := rec.ZoneID
	p.cells.remove(driverID, rec.Location)
	delete(p.drivers, driverID)
	p.mu.Unlock()

	if !zoneID.IsZero() {
		p.hub.LeaveGroup(zoneGroup(zoneID), driverID)
	}

	if err := p.repo.SetStatus(ctx, driverID, types.DriverOffline); err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to persist driver status: %w", err))
	}

	p.l.Info(ctx, "driver disconnected", "driver_id", driverID.String())
	return nil
}

// UpdateLocation moves a driver on the map: reindexes the geohash cell,
// resolves zone membership and records the point in the location trail.
// Updates for unknown drivers are dropped silently, matching at-most-once
// feed semantics.
func (p *Pool) UpdateLocation(ctx context.Context, upd models.LocationUpdate) {
	loc := upd.Location()

	p.mu.Lock()
	rec, ok := p.drivers[upd.DriverID]
	if !ok {
		p.mu.Unlock()
		return
	}

	oldLoc := rec.Location
	oldZone := rec.ZoneID

	rec.Location = loc
	rec.HeadingDegrees = upd.HeadingDegrees
	rec.SpeedKmh = upd.SpeedKmh
	if upd.Timestamp.IsZero() {
		rec.LastUpdate = time.Now()
	} else {
		rec.LastUpdate = upd.Timestamp
	}

	p.cells.move(upd.DriverID, oldLoc, loc)

	var newZone uuid.UUID
	if zone, inside := p.zones.ZoneContaining(loc.Latitude, loc.Longitude); inside {
		newZone = zone.ID
	}
	rec.ZoneID = newZone
	p.mu.Unlock()

	if newZone != oldZone {
		p.onZoneChange(ctx, upd.DriverID, oldZone, newZone)
	}

	if err := p.history.Append(ctx, upd); err != nil {
		p.l.Warn(ctx, "failed to append location history", "driver_id", upd.DriverID.String(), "error", err)
	}
}

func (p *Pool) onZoneChange(ctx context.Context, driverID, oldZone, newZone uuid.UUID) {
	msg := models.ZoneTransitionMessage{
		DriverID:  driverID,
		Timestamp: time.Now(),
	}
	if !oldZone.IsZero() {
		from := oldZone
		msg.FromZoneID = &from
		p.hub.LeaveGroup(zoneGroup(oldZone), driverID)
	}
	if !newZone.IsZero() {
		to := newZone
		msg.ToZoneID = &to
		p.hub.JoinGroup(zoneGroup(newZone), driverID)
	}

	if err := p.publisher.PublishZoneTransition(ctx, msg); err != nil {
		p.l.Warn(ctx, "failed to publish zone transition", "driver_id", driverID.String(), "error", err)
	}
}

// SetStatus switches a connected driver between online and break.
// Busy is derived from the delivery count and cannot be set directly.
func (p *Pool) SetStatus(ctx context.Context, driverID uuid.UUID, status types.DriverStatus) error {
	if status != types.DriverOnline && status != types.DriverBreak {
		return wrap.Error(ctx, fmt.Errorf("status %q cannot be set directly", status))
	}

	p.mu.Lock()
	rec, ok := p.drivers[driverID]
	if !ok {
		p.mu.Unlock()
		return wrap.Error(ctx, types.ErrDriverNotFound)
	}
	if status == types.DriverOnline && rec.ActiveDeliveries >= rec.Capacity {
		status = types.DriverBusy
	}
	rec.Status = status
	p.mu.Unlock()

	if err := p.repo.SetStatus(ctx, driverID, status); err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to persist driver status: %w", err))
	}
	return nil
}

// IncrementActive bumps the driver's delivery count after an assignment
// commits. The count never exceeds capacity and the driver flips to busy
// exactly when it reaches capacity.
func (p *Pool) IncrementActive(driverID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.drivers[driverID]
	if !ok {
		return
	}
	if rec.ActiveDeliveries < rec.Capacity {
		rec.ActiveDeliveries++
	}
	if rec.ActiveDeliveries >= rec.Capacity && rec.Status == types.DriverOnline {
		rec.Status = types.DriverBusy
	}
}

// DecrementActive releases one delivery slot on completion or reassignment.
// Decrementing at zero is a no-op, so duplicate completion events are safe.
// A completed delivery also refreshes today's counters from the store.
func (p *Pool) DecrementActive(ctx context.Context, driverID uuid.UUID, completed bool) {
	p.mu.Lock()
	rec, ok := p.drivers[driverID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if rec.ActiveDeliveries > 0 {
		rec.ActiveDeliveries--
	}
	if rec.ActiveDeliveries < rec.Capacity && rec.Status == types.DriverBusy {
		rec.Status = types.DriverOnline
	}
	p.mu.Unlock()

	if !completed {
		return
	}

	done, earnings, err := p.repo.TodayStats(ctx, driverID)
	if err != nil {
		p.l.Warn(ctx, "failed to refresh today stats", "driver_id", driverID.String(), "error", err)
		return
	}

	p.mu.Lock()
	if rec, ok := p.drivers[driverID]; ok {
		rec.Performance.CompletedToday = done
		rec.Performance.EarningsToday = earnings
	}
	p.mu.Unlock()
}

// Get returns a copy of the driver record.
func (p *Pool) Get(driverID uuid.UUID) (models.DriverRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.drivers[driverID]
	if !ok {
		return models.DriverRecord{}, false
	}
	return *rec, true
}

// NearbyDrivers returns drivers within radiusMeters of center matching the
// filter, closest first. Candidates come from the center's geohash cell and
// its neighbors; wider radii fall back to a full scan.
func (p *Pool) NearbyDrivers(center models.Location, radiusMeters float64, filter models.NearbyFilter) []models.DriverWithDistance {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var candidates []uuid.UUID
	if radiusMeters <= maxCellRadiusMeters {
		candidates = p.cells.near(center)
	} else {
		candidates = make([]uuid.UUID, 0, len(p.drivers))
		for id := range p.drivers {
			candidates = append(candidates, id)
		}
	}

	found := make([]models.DriverWithDistance, 0, len(candidates))
	for _, id := range candidates {
		rec, ok := p.drivers[id]
		if !ok || !matches(rec, filter) {
			continue
		}
		d := geo.HaversineMeters(center.Latitude, center.Longitude, rec.Location.Latitude, rec.Location.Longitude)
		if d > radiusMeters {
			continue
		}
		found = append(found, models.DriverWithDistance{Driver: *rec, DistanceMeters: d})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].DistanceMeters < found[j].DistanceMeters
	})
	return found
}

// DriversInZone lists connected drivers currently inside the zone,
// optionally narrowed by status.
func (p *Pool) DriversInZone(zoneID uuid.UUID, status *types.DriverStatus) []models.DriverRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.DriverRecord, 0)
	for _, rec := range p.drivers {
		if rec.ZoneID != zoneID {
			continue
		}
		if status != nil && rec.Status != *status {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// CountInZone reports how many drivers work a zone: active covers online
// and busy, available only those with a free delivery slot.
func (p *Pool) CountInZone(zoneID uuid.UUID) (active, available int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, rec := range p.drivers {
		if rec.ZoneID != zoneID {
			continue
		}
		switch rec.Status {
		case types.DriverOnline:
			active++
			available++
		case types.DriverBusy:
			active++
		}
	}
	return active, available
}

// EnRoute lists connected drivers carrying at least minActive deliveries,
// used by the route reoptimization sweep.
func (p *Pool) EnRoute(minActive int) []models.DriverRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.DriverRecord, 0)
	for _, rec := range p.drivers {
		if rec.ActiveDeliveries >= minActive && rec.Status != types.DriverOffline {
			out = append(out, *rec)
		}
	}
	return out
}

// OnlineCount counts connected drivers that are not offline, for the gauge.
func (p *Pool) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, rec := range p.drivers {
		if rec.Status != types.DriverOffline {
			n++
		}
	}
	return n
}

func matches(rec *models.DriverRecord, f models.NearbyFilter) bool {
	if f.Status != nil && rec.Status != *f.Status {
		return false
	}
	if f.VehicleType != nil && rec.VehicleType != *f.VehicleType {
		return false
	}
	if f.MaxActiveDeliveries != nil && rec.ActiveDeliveries > *f.MaxActiveDeliveries {
		return false
	}
	return true
}

func zoneGroup(zoneID uuid.UUID) string {
	return "zone:" + zoneID.String()
}
