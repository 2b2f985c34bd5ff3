package assignment

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/internal/service/routeopt"
	"github.com/feastlane/dispatch-system/pkg/geo"
	"github.com/feastlane/dispatch-system/pkg/logger"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

/*=================fakes=================*/

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	seqs   map[uuid.UUID]int
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[uuid.UUID]*models.Order), seqs: make(map[uuid.UUID]int)}
}

func (f *fakeOrderRepo) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, types.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderRepo) SetAssigned(ctx context.Context, orderID uuid.UUID) error {
	return f.SetStatus(ctx, orderID, types.DeliveryAssigned)
}

func (f *fakeOrderRepo) SetUnassigned(ctx context.Context, orderID uuid.UUID) error {
	return f.SetStatus(ctx, orderID, types.DeliveryUnassigned)
}

func (f *fakeOrderRepo) SetStatus(ctx context.Context, orderID uuid.UUID, status types.DeliveryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return types.ErrOrderNotFound
	}
	o.Status = status
	return nil
}

func (f *fakeOrderRepo) SetSequence(ctx context.Context, orderID uuid.UUID, seq int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seqs[orderID] = seq
	return nil
}

func (f *fakeOrderRepo) ActiveByDriver(ctx context.Context, driverID uuid.UUID) ([]models.Order, error) {
	return nil, nil
}

func (f *fakeOrderRepo) Unassigned(ctx context.Context, limit int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Order, 0)
	for _, o := range f.orders {
		if o.Status == types.DeliveryUnassigned {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// routedOrderRepo overrides ActiveByDriver for batching tests.
type routedOrderRepo struct {
	*fakeOrderRepo
	routes map[uuid.UUID][]models.Order
}

func (f *routedOrderRepo) ActiveByDriver(ctx context.Context, driverID uuid.UUID) ([]models.Order, error) {
	return f.routes[driverID], nil
}

type fakeAssignmentRepo struct {
	mu     sync.Mutex
	active map[uuid.UUID]*models.Assignment // by order
}

func newFakeAssignmentRepo() *fakeAssignmentRepo {
	return &fakeAssignmentRepo{active: make(map[uuid.UUID]*models.Assignment)}
}

func (f *fakeAssignmentRepo) Create(ctx context.Context, a *models.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.active[a.OrderID]; exists {
		return types.ErrOrderAlreadyAssigned
	}
	cp := *a
	f.active[a.OrderID] = &cp
	return nil
}

func (f *fakeAssignmentRepo) ActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.active[orderID]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAssignmentRepo) Cancel(ctx context.Context, assignmentID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for orderID, a := range f.active {
		if a.ID == assignmentID {
			a.Status = types.AssignmentCancelled
			a.CancelReason = reason
			delete(f.active, orderID)
			return nil
		}
	}
	return types.ErrNotFound
}

func (f *fakeAssignmentRepo) Accept(ctx context.Context, assignmentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.active {
		if a.ID == assignmentID {
			a.Status = types.AssignmentAccepted
			return nil
		}
	}
	return types.ErrNotFound
}

type fakeMetricsRepo struct {
	mu      sync.Mutex
	total   int
	success int
}

func (f *fakeMetricsRepo) Record(ctx context.Context, day time.Time, success bool, latency time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total++
	if success {
		f.success++
	}
	return nil
}

func (f *fakeMetricsRepo) Get(ctx context.Context, day time.Time) (models.AssignmentMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.AssignmentMetrics{Day: day, TotalAssignments: f.total, SuccessfulAssignments: f.success}, nil
}

type fakePool struct {
	mu          sync.Mutex
	drivers     []models.DriverRecord
	byZone      map[uuid.UUID][]models.DriverRecord
	incremented []uuid.UUID
	decremented []uuid.UUID
}

func newFakePool() *fakePool {
	return &fakePool{byZone: make(map[uuid.UUID][]models.DriverRecord)}
}

func (f *fakePool) Get(driverID uuid.UUID) (models.DriverRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.drivers {
		if d.ID == driverID {
			return d, true
		}
	}
	return models.DriverRecord{}, false
}

func (f *fakePool) NearbyDrivers(center models.Location, radiusMeters float64, filter models.NearbyFilter) []models.DriverWithDistance {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.DriverWithDistance, 0)
	for _, d := range f.drivers {
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		if filter.VehicleType != nil && d.VehicleType != *filter.VehicleType {
			continue
		}
		if filter.MaxActiveDeliveries != nil && d.ActiveDeliveries > *filter.MaxActiveDeliveries {
			continue
		}
		dist := geo.HaversineMeters(center.Latitude, center.Longitude, d.Location.Latitude, d.Location.Longitude)
		if dist > radiusMeters {
			continue
		}
		out = append(out, models.DriverWithDistance{Driver: d, DistanceMeters: dist})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out
}

func (f *fakePool) DriversInZone(zoneID uuid.UUID, status *types.DriverStatus) []models.DriverRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.DriverRecord, 0)
	for _, d := range f.byZone[zoneID] {
		if status != nil && d.Status != *status {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (f *fakePool) EnRoute(minActive int) []models.DriverRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.DriverRecord, 0)
	for _, d := range f.drivers {
		if d.ActiveDeliveries >= minActive {
			out = append(out, d)
		}
	}
	return out
}

func (f *fakePool) IncrementActive(driverID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incremented = append(f.incremented, driverID)
	for i := range f.drivers {
		if f.drivers[i].ID == driverID {
			f.drivers[i].ActiveDeliveries++
		}
	}
}

func (f *fakePool) DecrementActive(ctx context.Context, driverID uuid.UUID, completed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decremented = append(f.decremented, driverID)
}

type fakeZoneMap struct {
	containing *models.Zone
	stats      map[uuid.UUID]models.ZoneStatistics
	neighbors  map[uuid.UUID][]models.Zone
}

func (f *fakeZoneMap) ZoneContaining(lat, lon float64) (*models.Zone, bool) {
	if f.containing == nil {
		return nil, false
	}
	return f.containing, true
}

func (f *fakeZoneMap) NeighborsOf(zoneID uuid.UUID) ([]models.Zone, error) {
	return f.neighbors[zoneID], nil
}

func (f *fakeZoneMap) StatisticsOf(ctx context.Context, zoneID uuid.UUID) (models.ZoneStatistics, error) {
	return f.stats[zoneID], nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []models.NotificationMessage
}

func (f *fakeNotifier) PublishNotification(ctx context.Context, msg models.NotificationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

type fakeFeed struct {
	mu   sync.Mutex
	sent map[uuid.UUID][]any
}

func newFakeFeed() *fakeFeed { return &fakeFeed{sent: make(map[uuid.UUID][]any)} }

func (f *fakeFeed) SendTo(id uuid.UUID, msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[id] = append(f.sent[id], msg)
	return nil
}

type fakeTx struct{}

func (fakeTx) Do(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

/*=================fixture=================*/

type engineFixture struct {
	engine      *Engine
	orders      *fakeOrderRepo
	assignments *fakeAssignmentRepo
	metrics     *fakeMetricsRepo
	pool        *fakePool
	zones       *fakeZoneMap
	notifier    *fakeNotifier
	feed        *fakeFeed
	cancel      context.CancelFunc
}

func testConfig() Config {
	return Config{
		Workers:         2,
		QueueSize:       8,
		AssignTimeout:   2 * time.Second,
		WaitingOrderTTL: time.Hour,
		SearchRadiusKm:  5,
		ReoptimizeEvery: time.Hour,
	}
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()

	f := &engineFixture{
		orders:      newFakeOrderRepo(),
		assignments: newFakeAssignmentRepo(),
		metrics:     &fakeMetricsRepo{},
		pool:        newFakePool(),
		zones:       &fakeZoneMap{stats: make(map[uuid.UUID]models.ZoneStatistics), neighbors: make(map[uuid.UUID][]models.Zone)},
		notifier:    &fakeNotifier{},
		feed:        newFakeFeed(),
	}

	f.engine = New(
		cfg,
		f.orders, f.assignments, f.metrics,
		f.pool, f.zones, routeopt.New(),
		f.notifier, f.feed, fakeTx{},
		logger.InitLogger("engine-test", logger.LevelError),
	)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.engine.Start(ctx)
	t.Cleanup(cancel)
	return f
}

func (f *engineFixture) addOrder(t *testing.T, pickupLon, dropoffLon float64) *models.Order {
	t.Helper()
	o := &models.Order{
		ID:      uuid.MustNew(),
		Number:  uuid.MustNew().String(),
		Status:  types.DeliveryUnassigned,
		Pickup:  models.Location{Latitude: 0, Longitude: pickupLon},
		Dropoff: models.Location{Latitude: 0, Longitude: dropoffLon},
	}
	o.CustomerID = uuid.MustNew()
	o.MerchantID = uuid.MustNew()
	f.orders.mu.Lock()
	f.orders.orders[o.ID] = o
	f.orders.mu.Unlock()
	return o
}

func driverAt(lon float64, status types.DriverStatus, active int) models.DriverRecord {
	return models.DriverRecord{
		ID:               uuid.MustNew(),
		Status:           status,
		VehicleType:      types.VehicleCar,
		Location:         models.Location{Latitude: 0, Longitude: lon},
		ActiveDeliveries: active,
		Capacity:         3,
		Performance:      models.PerformanceStats{Rating: 4.5},
	}
}

/*=================assign=================*/

func TestAssign_ProximityHappyPath(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	drv := driverAt(0, types.DriverOnline, 0)
	f.pool.drivers = []models.DriverRecord{drv}

	// Pickup roughly 1.1 km east of the driver.
	order := f.addOrder(t, 0.01, 0.02)

	start := time.Now()
	res, err := f.engine.Assign(context.Background(), order.ID, types.StrategyProximity)
	require.NoError(t, err)
	require.True(t, res.Success, "reason: %s", res.Reason)
	require.NotNil(t, res.DriverID)
	assert.Equal(t, drv.ID, *res.DriverID)

	// ETA: travel at 8.33 m/s plus the fixed 5 minute pickup overhead.
	pickupDist := geo.HaversineMeters(0, 0, 0, 0.01)
	wantSeconds := pickupDist/geo.DefaultSpeedMps + 300
	require.NotNil(t, res.EstimatedPickupAt)
	assert.InDelta(t, wantSeconds, res.EstimatedPickupAt.Sub(start).Seconds(), 2)

	deliveryDist := geo.HaversineMeters(0, 0.01, 0, 0.02)
	wantDelivery := wantSeconds + deliveryDist/geo.DefaultSpeedMps + 180
	require.NotNil(t, res.EstimatedDeliveryAt)
	assert.InDelta(t, wantDelivery, res.EstimatedDeliveryAt.Sub(start).Seconds(), 2)

	// Side effects: order assigned, count bumped, driver notified.
	got, err := f.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryAssigned, got.Status)
	assert.Equal(t, []uuid.UUID{drv.ID}, f.pool.incremented)

	f.notifier.mu.Lock()
	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, types.ChannelDriver, f.notifier.msgs[0].Channel)
	assert.Equal(t, drv.ID, f.notifier.msgs[0].RecipientID)
	f.notifier.mu.Unlock()
}

func TestAssign_ProximitySkipsBusyDriver(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	busy := driverAt(0.001, types.DriverBusy, 3)
	online := driverAt(-0.001, types.DriverOnline, 0) // same distance, other side
	f.pool.drivers = []models.DriverRecord{busy, online}

	order := f.addOrder(t, 0, 0.02)

	res, err := f.engine.Assign(context.Background(), order.ID, types.StrategyProximity)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, online.ID, *res.DriverID)
}

func TestAssign_NoDriversQueuesOrder(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	order := f.addOrder(t, 0.01, 0.02)

	res, err := f.engine.Assign(context.Background(), order.ID, types.StrategyProximity)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "No available drivers", res.Reason)
	assert.Contains(t, f.engine.WaitingOrders(), order.ID)

	// A successful retry clears the waiting entry.
	f.pool.mu.Lock()
	f.pool.drivers = []models.DriverRecord{driverAt(0, types.DriverOnline, 0)}
	f.pool.mu.Unlock()

	res, err = f.engine.Assign(context.Background(), order.ID, types.StrategyProximity)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.NotContains(t, f.engine.WaitingOrders(), order.ID)
}

func TestAssign_UnknownOrder(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	res, err := f.engine.Assign(context.Background(), uuid.MustNew(), types.StrategyProximity)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrOrderNotFound.Error(), res.Reason)
}

func TestAssign_AlreadyAssignedOrder(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	f.pool.drivers = []models.DriverRecord{driverAt(0, types.DriverOnline, 0)}
	order := f.addOrder(t, 0.01, 0.02)

	res, err := f.engine.Assign(context.Background(), order.ID, types.StrategyProximity)
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.engine.Assign(context.Background(), order.ID, types.StrategyProximity)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrOrderAlreadyAssigned.Error(), res.Reason)
}

func TestAssign_TimesOutWithoutWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.AssignTimeout = 50 * time.Millisecond

	f := &engineFixture{
		orders:      newFakeOrderRepo(),
		assignments: newFakeAssignmentRepo(),
		metrics:     &fakeMetricsRepo{},
		pool:        newFakePool(),
		zones:       &fakeZoneMap{},
		notifier:    &fakeNotifier{},
		feed:        newFakeFeed(),
	}
	// Never started: no workers drain the queue.
	engine := New(cfg, f.orders, f.assignments, f.metrics, f.pool, f.zones, routeopt.New(), f.notifier, f.feed, fakeTx{}, logger.InitLogger("engine-test", logger.LevelError))

	_, err := engine.Assign(context.Background(), uuid.MustNew(), types.StrategyProximity)
	assert.ErrorIs(t, err, types.ErrAssignmentTimeout)
}

func TestAssign_VehicleMatchBonusBreaksTie(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	car := driverAt(0.002, types.DriverOnline, 0)
	bike := driverAt(0.002, types.DriverOnline, 0)
	bike.VehicleType = types.VehicleBicycle
	bike.Location.Longitude = -0.002
	f.pool.drivers = []models.DriverRecord{car, bike}

	order := f.addOrder(t, 0, 0.02)
	wantVehicle := types.VehicleBicycle
	f.orders.mu.Lock()
	f.orders.orders[order.ID].RequiredVehicle = &wantVehicle
	f.orders.mu.Unlock()

	res, err := f.engine.Assign(context.Background(), order.ID, types.StrategyProximity)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, bike.ID, *res.DriverID)
}

/*=================zone balanced=================*/

func TestAssign_ZoneBalancedPullsFromQuietNeighbor(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	zoneA := models.Zone{ID: uuid.MustNew(), Name: "A", Active: true}
	zoneB := models.Zone{ID: uuid.MustNew(), Name: "B", Active: true}

	f.zones.containing = &zoneA
	f.zones.neighbors[zoneA.ID] = []models.Zone{zoneB}
	f.zones.stats[zoneA.ID] = models.ZoneStatistics{ZoneID: zoneA.ID, DemandSupplyRatio: 4}
	f.zones.stats[zoneB.ID] = models.ZoneStatistics{ZoneID: zoneB.ID, DemandSupplyRatio: 0.5}

	// In-zone driver is much closer, but zone A is starved.
	inZone := driverAt(0.001, types.DriverOnline, 0)
	crossZone := driverAt(0.03, types.DriverOnline, 0)
	f.pool.drivers = []models.DriverRecord{inZone, crossZone}
	f.pool.byZone[zoneB.ID] = []models.DriverRecord{crossZone}

	order := f.addOrder(t, 0, 0.02)

	res, err := f.engine.Assign(context.Background(), order.ID, types.StrategyZoneBalanced)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, crossZone.ID, *res.DriverID)
}

func TestAssign_ZoneBalancedFallsBackWhenCalm(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	zoneA := models.Zone{ID: uuid.MustNew(), Name: "A", Active: true}
	f.zones.containing = &zoneA
	f.zones.stats[zoneA.ID] = models.ZoneStatistics{ZoneID: zoneA.ID, DemandSupplyRatio: 1.2}

	drv := driverAt(0.001, types.DriverOnline, 0)
	f.pool.drivers = []models.DriverRecord{drv}

	order := f.addOrder(t, 0, 0.02)

	res, err := f.engine.Assign(context.Background(), order.ID, types.StrategyZoneBalanced)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, drv.ID, *res.DriverID)
}

/*=================performance=================*/

func TestAssign_PerformancePrefersTrackRecord(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	// Slightly closer but mediocre.
	mediocre := driverAt(0.001, types.DriverOnline, 0)
	mediocre.Performance = models.PerformanceStats{Rating: 3.0, OnTimeRate: 60, AcceptanceRate: 50, AvgDeliveryTimeMin: 40}

	// A little farther with a strong 7-day record.
	strong := driverAt(0.002, types.DriverOnline, 0)
	strong.Performance = models.PerformanceStats{Rating: 4.9, OnTimeRate: 98, AcceptanceRate: 95, AvgDeliveryTimeMin: 22}

	f.pool.drivers = []models.DriverRecord{mediocre, strong}

	order := f.addOrder(t, 0, 0.02)

	res, err := f.engine.Assign(context.Background(), order.ID, types.StrategyPerformance)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, strong.ID, *res.DriverID)
}

/*=================batched=================*/

func TestAssign_BatchedAppendsToEnRouteDriver(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	// The idle driver is closer, but the en-route driver can absorb the
	// order with a tiny detour.
	enRoute := driverAt(0.009, types.DriverOnline, 1)
	idle := driverAt(0.008, types.DriverOnline, 0)

	current := models.Order{
		ID:      uuid.MustNew(),
		Status:  types.DeliveryAssigned,
		Pickup:  models.Location{Latitude: 0, Longitude: 0.01},
		Dropoff: models.Location{Latitude: 0, Longitude: 0.02},
	}

	orders := &routedOrderRepo{fakeOrderRepo: newFakeOrderRepo(), routes: map[uuid.UUID][]models.Order{enRoute.ID: {current}}}
	f.orders = orders.fakeOrderRepo

	engine := New(testConfig(), orders, f.assignments, f.metrics, f.pool, f.zones, routeopt.New(), f.notifier, f.feed, fakeTx{}, logger.InitLogger("engine-test", logger.LevelError))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	engine.Start(ctx)

	f.pool.drivers = []models.DriverRecord{enRoute, idle}

	newOrder := &models.Order{
		ID:      uuid.MustNew(),
		Status:  types.DeliveryUnassigned,
		Pickup:  models.Location{Latitude: 0, Longitude: 0.011},
		Dropoff: models.Location{Latitude: 0, Longitude: 0.021},
	}
	orders.mu.Lock()
	orders.orders[newOrder.ID] = newOrder
	orders.mu.Unlock()

	res, err := engine.Assign(context.Background(), newOrder.ID, types.StrategyBatched)
	require.NoError(t, err)
	require.True(t, res.Success, "reason: %s", res.Reason)
	assert.Equal(t, enRoute.ID, *res.DriverID)
}

func TestAssign_BatchedFallsBackWhenDetourTooBig(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	enRoute := driverAt(0.009, types.DriverOnline, 1)
	idle := driverAt(0.02, types.DriverOnline, 0)

	current := models.Order{
		ID:      uuid.MustNew(),
		Status:  types.DeliveryAssigned,
		Pickup:  models.Location{Latitude: 0, Longitude: 0.01},
		Dropoff: models.Location{Latitude: 0, Longitude: 0.011},
	}

	orders := &routedOrderRepo{fakeOrderRepo: newFakeOrderRepo(), routes: map[uuid.UUID][]models.Order{enRoute.ID: {current}}}

	engine := New(testConfig(), orders, f.assignments, f.metrics, f.pool, f.zones, routeopt.New(), f.notifier, f.feed, fakeTx{}, logger.InitLogger("engine-test", logger.LevelError))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	engine.Start(ctx)

	f.pool.drivers = []models.DriverRecord{enRoute, idle}

	// Dropoff far off the current route: way past the 20% growth limit.
	newOrder := &models.Order{
		ID:      uuid.MustNew(),
		Status:  types.DeliveryUnassigned,
		Pickup:  models.Location{Latitude: 0, Longitude: 0.012},
		Dropoff: models.Location{Latitude: 0.05, Longitude: 0.05},
	}
	orders.mu.Lock()
	orders.orders[newOrder.ID] = newOrder
	orders.mu.Unlock()

	res, err := engine.Assign(context.Background(), newOrder.ID, types.StrategyBatched)
	require.NoError(t, err)
	require.True(t, res.Success)
	// Fallback to proximity: the en-route driver is still the nearest
	// online candidate, but now chosen by score, not by route fit.
	require.NotNil(t, res.DriverID)
}

/*=================reassign=================*/

func TestReassign_ExcludesPreviousDriver(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	first := driverAt(0.001, types.DriverOnline, 0)
	second := driverAt(0.005, types.DriverOnline, 0)
	f.pool.drivers = []models.DriverRecord{first, second}

	order := f.addOrder(t, 0, 0.02)

	res, err := f.engine.Assign(context.Background(), order.ID, types.StrategyProximity)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, first.ID, *res.DriverID)

	res, err = f.engine.Reassign(context.Background(), order.ID, "driver unresponsive")
	require.NoError(t, err)
	require.True(t, res.Success, "reason: %s", res.Reason)
	assert.Equal(t, second.ID, *res.DriverID)
	assert.Contains(t, f.pool.decremented, first.ID)
}

func TestReassign_NoActiveAssignment(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	order := f.addOrder(t, 0, 0.02)

	_, err := f.engine.Reassign(context.Background(), order.ID, "nope")
	assert.ErrorIs(t, err, types.ErrOrderNotAssigned)
}

/*=================lifecycle=================*/

func TestAcceptAndComplete(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	drv := driverAt(0.001, types.DriverOnline, 0)
	f.pool.drivers = []models.DriverRecord{drv}
	order := f.addOrder(t, 0, 0.02)

	res, err := f.engine.Assign(context.Background(), order.ID, types.StrategyProximity)
	require.NoError(t, err)
	require.True(t, res.Success)

	require.NoError(t, f.engine.Accept(context.Background(), order.ID))
	require.NoError(t, f.engine.PickedUp(context.Background(), order.ID))

	got, err := f.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryInTransit, got.Status)

	require.NoError(t, f.engine.Complete(context.Background(), order.ID))

	got, err = f.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryCompleted, got.Status)
	assert.Equal(t, []uuid.UUID{drv.ID}, f.pool.decremented)
}

/*=================batch assignment=================*/

func TestBatchAssign_ClustersAndSequences(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	drv := driverAt(0, types.DriverOnline, 0)
	f.pool.drivers = []models.DriverRecord{drv}

	// Two pickups ~1.1 km apart: one cluster.
	a := f.addOrder(t, 0.01, 0.03)
	b := f.addOrder(t, 0.02, 0.04)

	results, err := f.engine.BatchAssign(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success, "order %s: %s", r.OrderID, r.Reason)
		assert.Equal(t, drv.ID, *r.DriverID)
	}

	f.orders.mu.Lock()
	defer f.orders.mu.Unlock()
	assert.Len(t, f.orders.seqs, 2)
	assert.NotEqual(t, f.orders.seqs[a.ID], f.orders.seqs[b.ID])
}

func TestBatchAssign_RespectsDriverCapacity(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	drv := driverAt(0, types.DriverOnline, 2) // one free slot
	f.pool.drivers = []models.DriverRecord{drv}

	f.addOrder(t, 0.01, 0.03)
	f.addOrder(t, 0.011, 0.04)

	results, err := f.engine.BatchAssign(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	var ok, failed int
	for _, r := range results {
		if r.Success {
			ok++
		} else {
			failed++
			assert.Equal(t, "No available drivers", r.Reason)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)
}

func TestClusterOrders(t *testing.T) {
	mk := func(lon float64) models.Order {
		return models.Order{ID: uuid.MustNew(), Pickup: models.Location{Latitude: 0, Longitude: lon}}
	}

	// 0.01 and 0.011 are ~110 m apart, 0.1 is ~10 km away.
	orders := []models.Order{mk(0.01), mk(0.011), mk(0.1)}
	clusters := clusterOrders(orders)

	require.Len(t, clusters, 2)
	assert.Len(t, clusters[0], 2)
	assert.Len(t, clusters[1], 1)
}

/*=================waiting queue=================*/

func TestWaitingQueue_SweepExpires(t *testing.T) {
	q := newWaitingQueue(time.Hour)
	id := uuid.MustNew()
	q.push(id)

	assert.Equal(t, 1, q.sweep(time.Now()))
	assert.Equal(t, 0, q.sweep(time.Now().Add(2*time.Hour)))
	assert.Empty(t, q.snapshot())
}

/*=================daily metrics=================*/

func TestMetricsFor_CountsOutcomes(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	f.pool.drivers = []models.DriverRecord{driverAt(0, types.DriverOnline, 0)}

	ok := f.addOrder(t, 0.01, 0.02)
	res, err := f.engine.Assign(context.Background(), ok.ID, types.StrategyProximity)
	require.NoError(t, err)
	require.True(t, res.Success)

	_, err = f.engine.Assign(context.Background(), uuid.MustNew(), types.StrategyProximity)
	require.NoError(t, err)

	m, err := f.engine.MetricsFor(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalAssignments)
	assert.Equal(t, 1, m.SuccessfulAssignments)
}
