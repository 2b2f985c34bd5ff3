package driverpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/logger"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

/*=================fakes=================*/

type fakeDriverRepo struct {
	profiles map[uuid.UUID]models.DriverProfile
	active   map[uuid.UUID]int
	statuses map[uuid.UUID]types.DriverStatus
	today    map[uuid.UUID]int
	online   []uuid.UUID
}

func newFakeDriverRepo() *fakeDriverRepo {
	return &fakeDriverRepo{
		profiles: make(map[uuid.UUID]models.DriverProfile),
		active:   make(map[uuid.UUID]int),
		statuses: make(map[uuid.UUID]types.DriverStatus),
		today:    make(map[uuid.UUID]int),
	}
}

func (f *fakeDriverRepo) Profile(ctx context.Context, driverID uuid.UUID) (*models.DriverProfile, error) {
	p, ok := f.profiles[driverID]
	if !ok {
		return nil, types.ErrDriverNotFound
	}
	return &p, nil
}

func (f *fakeDriverRepo) ListOnline(ctx context.Context) ([]uuid.UUID, error) {
	return f.online, nil
}

func (f *fakeDriverRepo) SevenDayPerformance(ctx context.Context, driverID uuid.UUID) (models.PerformanceStats, error) {
	return models.PerformanceStats{Rating: f.profiles[driverID].Rating}, nil
}

func (f *fakeDriverRepo) TodayStats(ctx context.Context, driverID uuid.UUID) (int, float64, error) {
	return f.today[driverID], float64(f.today[driverID]) * 10, nil
}

func (f *fakeDriverRepo) ActiveDeliveryCount(ctx context.Context, driverID uuid.UUID) (int, error) {
	return f.active[driverID], nil
}

func (f *fakeDriverRepo) SetStatus(ctx context.Context, driverID uuid.UUID, status types.DriverStatus) error {
	f.statuses[driverID] = status
	return nil
}

type fakeHistory struct {
	appended []models.LocationUpdate
}

func (f *fakeHistory) Append(ctx context.Context, upd models.LocationUpdate) error {
	f.appended = append(f.appended, upd)
	return nil
}

// fakeZones puts every point with latitude >= 1 into one fixed zone.
type fakeZones struct {
	zoneID uuid.UUID
}

func (f *fakeZones) ZoneContaining(lat, lon float64) (*models.Zone, bool) {
	if lat >= 1 {
		return &models.Zone{ID: f.zoneID, Active: true}, true
	}
	return nil, false
}

type fakeTransitions struct {
	msgs []models.ZoneTransitionMessage
}

func (f *fakeTransitions) PublishZoneTransition(ctx context.Context, msg models.ZoneTransitionMessage) error {
	f.msgs = append(f.msgs, msg)
	return nil
}

type fakeHub struct {
	joined map[string][]uuid.UUID
	left   map[string][]uuid.UUID
}

func newFakeHub() *fakeHub {
	return &fakeHub{joined: make(map[string][]uuid.UUID), left: make(map[string][]uuid.UUID)}
}

func (f *fakeHub) JoinGroup(group string, id uuid.UUID)  { f.joined[group] = append(f.joined[group], id) }
func (f *fakeHub) LeaveGroup(group string, id uuid.UUID) { f.left[group] = append(f.left[group], id) }

type poolFixture struct {
	pool        *Pool
	repo        *fakeDriverRepo
	history     *fakeHistory
	zones       *fakeZones
	transitions *fakeTransitions
	hub         *fakeHub
}

func newFixture(t *testing.T) *poolFixture {
	t.Helper()
	f := &poolFixture{
		repo:        newFakeDriverRepo(),
		history:     &fakeHistory{},
		zones:       &fakeZones{zoneID: uuid.MustNew()},
		transitions: &fakeTransitions{},
		hub:         newFakeHub(),
	}
	f.pool = New(f.repo, f.history, f.zones, f.transitions, f.hub, logger.InitLogger("pool-test", logger.LevelError))
	return f
}

func (f *poolFixture) connect(t *testing.T, vehicle types.VehicleType, rating float64) uuid.UUID {
	t.Helper()
	id := uuid.MustNew()
	f.repo.profiles[id] = models.DriverProfile{ID: id, Name: "driver", VehicleType: vehicle, Rating: rating}
	require.NoError(t, f.pool.Connect(context.Background(), id))
	return id
}

func locate(lat, lon float64) models.Location {
	return models.Location{Latitude: lat, Longitude: lon}
}

/*=================lifecycle=================*/

func TestConnect_LoadsProfileAndGoesOnline(t *testing.T) {
	f := newFixture(t)
	id := f.connect(t, types.VehicleCar, 4.5)

	rec, ok := f.pool.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.DriverOnline, rec.Status)
	assert.Equal(t, DefaultCapacity, rec.Capacity)
	assert.Equal(t, 4.5, rec.Performance.Rating)
	assert.Equal(t, types.DriverOnline, f.repo.statuses[id])
}

func TestConnect_ReconnectAtCapacityIsBusy(t *testing.T) {
	f := newFixture(t)
	id := uuid.MustNew()
	f.repo.profiles[id] = models.DriverProfile{ID: id, VehicleType: types.VehicleCar}
	f.repo.active[id] = 3

	require.NoError(t, f.pool.Connect(context.Background(), id))

	rec, _ := f.pool.Get(id)
	assert.Equal(t, types.DriverBusy, rec.Status)
	assert.Equal(t, 3, rec.ActiveDeliveries)
}

func TestConnect_UnknownDriverFails(t *testing.T) {
	f := newFixture(t)
	err := f.pool.Connect(context.Background(), uuid.MustNew())
	assert.ErrorIs(t, err, types.ErrDriverNotFound)
}

func TestDisconnect_RemovesAndPersistsOffline(t *testing.T) {
	f := newFixture(t)
	id := f.connect(t, types.VehicleCar, 4)

	require.NoError(t, f.pool.Disconnect(context.Background(), id))

	_, ok := f.pool.Get(id)
	assert.False(t, ok)
	assert.Equal(t, types.DriverOffline, f.repo.statuses[id])

	// Disconnecting again is a no-op.
	require.NoError(t, f.pool.Disconnect(context.Background(), id))
}

func TestWarmStart_LoadsPersistedOnlineDrivers(t *testing.T) {
	f := newFixture(t)

	idle := uuid.MustNew()
	loaded := uuid.MustNew()
	f.repo.profiles[idle] = models.DriverProfile{ID: idle, VehicleType: types.VehicleCar, Rating: 4.2}
	f.repo.profiles[loaded] = models.DriverProfile{ID: loaded, VehicleType: types.VehicleCar}
	f.repo.active[loaded] = DefaultCapacity
	f.repo.online = []uuid.UUID{idle, loaded}

	require.NoError(t, f.pool.WarmStart(context.Background()))

	rec, ok := f.pool.Get(idle)
	require.True(t, ok)
	assert.Equal(t, types.DriverOnline, rec.Status)
	assert.Equal(t, 4.2, rec.Performance.Rating)

	rec, ok = f.pool.Get(loaded)
	require.True(t, ok, "mid-route driver comes back")
	assert.Equal(t, types.DriverBusy, rec.Status)
	assert.Equal(t, DefaultCapacity, rec.ActiveDeliveries)

	assert.Equal(t, 2, f.pool.OnlineCount())
}

func TestWarmStart_SkipsBrokenRecords(t *testing.T) {
	f := newFixture(t)

	good := uuid.MustNew()
	f.repo.profiles[good] = models.DriverProfile{ID: good, VehicleType: types.VehicleCar}
	// The second id has no profile row; it must not abort the warm start.
	f.repo.online = []uuid.UUID{uuid.MustNew(), good}

	require.NoError(t, f.pool.WarmStart(context.Background()))

	_, ok := f.pool.Get(good)
	assert.True(t, ok)
	assert.Equal(t, 1, f.pool.OnlineCount())
}

/*=================location & zones=================*/

func TestUpdateLocation_UnknownDriverIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.pool.UpdateLocation(context.Background(), models.LocationUpdate{DriverID: uuid.MustNew(), Latitude: 1, Longitude: 1})
	assert.Empty(t, f.history.appended)
}

func TestUpdateLocation_MovesDriverAndAppendsHistory(t *testing.T) {
	f := newFixture(t)
	id := f.connect(t, types.VehicleCar, 4)

	f.pool.UpdateLocation(context.Background(), models.LocationUpdate{DriverID: id, Latitude: 0.5, Longitude: 0.5, SpeedKmh: 25})

	rec, _ := f.pool.Get(id)
	assert.Equal(t, 0.5, rec.Location.Latitude)
	assert.Equal(t, 25.0, rec.SpeedKmh)
	require.Len(t, f.history.appended, 1)
}

func TestUpdateLocation_ZoneTransitions(t *testing.T) {
	f := newFixture(t)
	id := f.connect(t, types.VehicleCar, 4)
	group := zoneGroup(f.zones.zoneID)

	// Entering the zone.
	f.pool.UpdateLocation(context.Background(), models.LocationUpdate{DriverID: id, Latitude: 1.5, Longitude: 0})
	require.Len(t, f.transitions.msgs, 1)
	assert.Nil(t, f.transitions.msgs[0].FromZoneID)
	require.NotNil(t, f.transitions.msgs[0].ToZoneID)
	assert.Equal(t, f.zones.zoneID, *f.transitions.msgs[0].ToZoneID)
	assert.Equal(t, []uuid.UUID{id}, f.hub.joined[group])

	// Moving within the zone emits nothing new.
	f.pool.UpdateLocation(context.Background(), models.LocationUpdate{DriverID: id, Latitude: 1.6, Longitude: 0})
	assert.Len(t, f.transitions.msgs, 1)

	// Leaving the zone.
	f.pool.UpdateLocation(context.Background(), models.LocationUpdate{DriverID: id, Latitude: 0.5, Longitude: 0})
	require.Len(t, f.transitions.msgs, 2)
	require.NotNil(t, f.transitions.msgs[1].FromZoneID)
	assert.Nil(t, f.transitions.msgs[1].ToZoneID)
	assert.Equal(t, []uuid.UUID{id}, f.hub.left[group])
}

/*=================capacity invariants=================*/

func TestIncrementActive_BusyExactlyAtCap(t *testing.T) {
	f := newFixture(t)
	id := f.connect(t, types.VehicleCar, 4)

	for i := 1; i <= DefaultCapacity+2; i++ {
		f.pool.IncrementActive(id)
		rec, _ := f.pool.Get(id)

		assert.LessOrEqual(t, rec.ActiveDeliveries, DefaultCapacity)
		if rec.ActiveDeliveries >= DefaultCapacity {
			assert.Equal(t, types.DriverBusy, rec.Status)
		} else {
			assert.Equal(t, types.DriverOnline, rec.Status)
		}
	}

	rec, _ := f.pool.Get(id)
	assert.Equal(t, DefaultCapacity, rec.ActiveDeliveries, "count clamps at capacity")
}

func TestDecrementActive_ReleasesBusyAndIsIdempotentAtZero(t *testing.T) {
	f := newFixture(t)
	id := f.connect(t, types.VehicleCar, 4)

	for i := 0; i < DefaultCapacity; i++ {
		f.pool.IncrementActive(id)
	}

	f.pool.DecrementActive(context.Background(), id, false)
	rec, _ := f.pool.Get(id)
	assert.Equal(t, DefaultCapacity-1, rec.ActiveDeliveries)
	assert.Equal(t, types.DriverOnline, rec.Status, "dropping below capacity releases busy")

	// Drain to zero, then keep decrementing.
	for i := 0; i < DefaultCapacity+3; i++ {
		f.pool.DecrementActive(context.Background(), id, false)
	}
	rec, _ = f.pool.Get(id)
	assert.Equal(t, 0, rec.ActiveDeliveries, "never goes negative")
	assert.Equal(t, types.DriverOnline, rec.Status)
}

func TestDecrementActive_CompletionRefreshesTodayStats(t *testing.T) {
	f := newFixture(t)
	id := f.connect(t, types.VehicleCar, 4)
	f.pool.IncrementActive(id)

	f.repo.today[id] = 7
	f.pool.DecrementActive(context.Background(), id, true)

	rec, _ := f.pool.Get(id)
	assert.Equal(t, 7, rec.Performance.CompletedToday)
	assert.Equal(t, 70.0, rec.Performance.EarningsToday)
}

func TestDecrementActive_UnknownDriverIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.pool.DecrementActive(context.Background(), uuid.MustNew(), true)
}

/*=================queries=================*/

func TestNearbyDrivers_SortedAndFiltered(t *testing.T) {
	f := newFixture(t)

	near := f.connect(t, types.VehicleCar, 4)
	far := f.connect(t, types.VehicleBicycle, 4)
	busy := f.connect(t, types.VehicleCar, 4)

	f.pool.UpdateLocation(context.Background(), models.LocationUpdate{DriverID: near, Latitude: 0, Longitude: 0.001})
	f.pool.UpdateLocation(context.Background(), models.LocationUpdate{DriverID: far, Latitude: 0, Longitude: 0.02})
	f.pool.UpdateLocation(context.Background(), models.LocationUpdate{DriverID: busy, Latitude: 0, Longitude: 0.002})
	for i := 0; i < DefaultCapacity; i++ {
		f.pool.IncrementActive(busy)
	}

	online := types.DriverOnline
	got := f.pool.NearbyDrivers(locate(0, 0), 5000, models.NearbyFilter{Status: &online})

	require.Len(t, got, 2, "busy driver filtered out")
	assert.Equal(t, near, got[0].Driver.ID)
	assert.Equal(t, far, got[1].Driver.ID)
	assert.Less(t, got[0].DistanceMeters, got[1].DistanceMeters)

	bike := types.VehicleBicycle
	got = f.pool.NearbyDrivers(locate(0, 0), 5000, models.NearbyFilter{VehicleType: &bike})
	require.Len(t, got, 1)
	assert.Equal(t, far, got[0].Driver.ID)

	got = f.pool.NearbyDrivers(locate(0, 0), 50, models.NearbyFilter{})
	assert.Empty(t, got, "radius excludes everyone")
}

func TestNearbyDrivers_MaxActiveDeliveriesFilter(t *testing.T) {
	f := newFixture(t)
	id := f.connect(t, types.VehicleCar, 4)
	f.pool.UpdateLocation(context.Background(), models.LocationUpdate{DriverID: id, Latitude: 0, Longitude: 0.001})
	f.pool.IncrementActive(id)
	f.pool.IncrementActive(id)

	limit := 1
	got := f.pool.NearbyDrivers(locate(0, 0), 5000, models.NearbyFilter{MaxActiveDeliveries: &limit})
	assert.Empty(t, got)

	limit = 2
	got = f.pool.NearbyDrivers(locate(0, 0), 5000, models.NearbyFilter{MaxActiveDeliveries: &limit})
	assert.Len(t, got, 1)
}

func TestDriversInZoneAndCounts(t *testing.T) {
	f := newFixture(t)

	inZone := f.connect(t, types.VehicleCar, 4)
	outside := f.connect(t, types.VehicleCar, 4)

	f.pool.UpdateLocation(context.Background(), models.LocationUpdate{DriverID: inZone, Latitude: 1.5, Longitude: 0})
	f.pool.UpdateLocation(context.Background(), models.LocationUpdate{DriverID: outside, Latitude: 0.5, Longitude: 0})

	drivers := f.pool.DriversInZone(f.zones.zoneID, nil)
	require.Len(t, drivers, 1)
	assert.Equal(t, inZone, drivers[0].ID)

	active, available := f.pool.CountInZone(f.zones.zoneID)
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, available)

	// Fill the in-zone driver: still active, no longer available.
	for i := 0; i < DefaultCapacity; i++ {
		f.pool.IncrementActive(inZone)
	}
	active, available = f.pool.CountInZone(f.zones.zoneID)
	assert.Equal(t, 1, active)
	assert.Equal(t, 0, available)
}

func TestSetStatus_BreakAndBack(t *testing.T) {
	f := newFixture(t)
	id := f.connect(t, types.VehicleCar, 4)

	require.NoError(t, f.pool.SetStatus(context.Background(), id, types.DriverBreak))
	rec, _ := f.pool.Get(id)
	assert.Equal(t, types.DriverBreak, rec.Status)

	require.NoError(t, f.pool.SetStatus(context.Background(), id, types.DriverOnline))
	rec, _ = f.pool.Get(id)
	assert.Equal(t, types.DriverOnline, rec.Status)

	err := f.pool.SetStatus(context.Background(), id, types.DriverBusy)
	assert.Error(t, err, "busy is derived, not settable")
}

func TestEnRouteAndOnlineCount(t *testing.T) {
	f := newFixture(t)
	idle := f.connect(t, types.VehicleCar, 4)
	loaded := f.connect(t, types.VehicleCar, 4)
	f.pool.IncrementActive(loaded)
	f.pool.IncrementActive(loaded)

	assert.Equal(t, 2, f.pool.OnlineCount())

	enRoute := f.pool.EnRoute(2)
	require.Len(t, enRoute, 1)
	assert.Equal(t, loaded, enRoute[0].ID)
	assert.NotEqual(t, idle, enRoute[0].ID)
}
