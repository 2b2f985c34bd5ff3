package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/geo"
	"github.com/feastlane/dispatch-system/pkg/logger"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

/*=================fakes=================*/

type fakePool struct {
	mu      sync.Mutex
	records map[uuid.UUID]models.DriverRecord
	updates []models.LocationUpdate
}

func newFakePool() *fakePool {
	return &fakePool{records: make(map[uuid.UUID]models.DriverRecord)}
}

func (f *fakePool) UpdateLocation(ctx context.Context, upd models.LocationUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, upd)
	if rec, ok := f.records[upd.DriverID]; ok {
		rec.Location = upd.Location()
		rec.SpeedKmh = upd.SpeedKmh
		rec.LastUpdate = upd.Timestamp
		f.records[upd.DriverID] = rec
	}
}

func (f *fakePool) Get(driverID uuid.UUID) (models.DriverRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[driverID]
	return rec, ok
}

type fakeOrders struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	active map[uuid.UUID][]uuid.UUID // driver -> order ids
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[uuid.UUID]*models.Order), active: make(map[uuid.UUID][]uuid.UUID)}
}

func (f *fakeOrders) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, types.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) ActiveByDriver(ctx context.Context, driverID uuid.UUID) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Order, 0)
	for _, id := range f.active[driverID] {
		out = append(out, *f.orders[id])
	}
	return out, nil
}

func (f *fakeOrders) SetStatus(ctx context.Context, orderID uuid.UUID, status types.DeliveryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return types.ErrOrderNotFound
	}
	o.Status = status
	return nil
}

type fakeAssignments struct {
	byOrder map[uuid.UUID]*models.Assignment
}

func (f *fakeAssignments) ActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.Assignment, error) {
	a, ok := f.byOrder[orderID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return a, nil
}

type fakeCoordinates struct {
	mu      sync.Mutex
	batches [][]models.LocationUpdate
}

func (f *fakeCoordinates) BatchInsert(ctx context.Context, updates []models.LocationUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, updates)
	return nil
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

func (f *fakeNotifier) channels() []types.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Channel, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.Channel)
	}
	return out
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

/*=================fixture=================*/

type trackingFixture struct {
	svc         *Service
	pool        *fakePool
	orders      *fakeOrders
	assignments *fakeAssignments
	coords      *fakeCoordinates
	notifier    *fakeNotifier
	feed        *fakeFeed
}

func newTrackingFixture(t *testing.T) *trackingFixture {
	t.Helper()
	f := &trackingFixture{
		pool:        newFakePool(),
		orders:      newFakeOrders(),
		assignments: &fakeAssignments{byOrder: make(map[uuid.UUID]*models.Assignment)},
		coords:      &fakeCoordinates{},
		notifier:    &fakeNotifier{},
		feed:        newFakeFeed(),
	}
	cfg := Config{FlushEvery: time.Hour, GeofenceRadiusM: 100}
	f.svc = New(cfg, f.pool, f.orders, f.assignments, f.coords, f.notifier, f.feed, logger.InitLogger("tracking-test", logger.LevelError))
	return f
}

// addDelivery wires a driver with one active order in the given status.
func (f *trackingFixture) addDelivery(t *testing.T, status types.DeliveryStatus) (driverID uuid.UUID, order *models.Order) {
	t.Helper()
	driverID = uuid.MustNew()
	f.pool.records[driverID] = models.DriverRecord{ID: driverID, Status: types.DriverOnline}

	order = &models.Order{
		ID:         uuid.MustNew(),
		CustomerID: uuid.MustNew(),
		MerchantID: uuid.MustNew(),
		Status:     status,
		Pickup:     models.Location{Latitude: 0, Longitude: 0},
		Dropoff:    models.Location{Latitude: 0, Longitude: 0.05},
	}
	f.orders.orders[order.ID] = order
	f.orders.active[driverID] = []uuid.UUID{order.ID}

	aid := uuid.MustNew()
	f.assignments.byOrder[order.ID] = &models.Assignment{ID: aid, OrderID: order.ID, DriverID: driverID, Status: types.AssignmentAccepted}
	return driverID, order
}

func frame(driverID uuid.UUID, lat, lon float64) models.LocationUpdate {
	return models.LocationUpdate{DriverID: driverID, Latitude: lat, Longitude: lon, Timestamp: time.Now()}
}

/*=================geofence=================*/

func TestIngest_PickupGeofenceTransition(t *testing.T) {
	f := newTrackingFixture(t)
	driverID, order := f.addDelivery(t, types.DeliveryAssigned)

	// ~55 m from the pickup: inside the 100 m fence.
	f.svc.Ingest(context.Background(), frame(driverID, 0, 0.0005))

	got, _ := f.orders.Get(context.Background(), order.ID)
	assert.Equal(t, types.DeliveryAtPickup, got.Status)
	assert.ElementsMatch(t, []types.Channel{types.ChannelCustomer, types.ChannelMerchant}, f.notifier.channels())
}

func TestIngest_OutsideFenceNoTransition(t *testing.T) {
	f := newTrackingFixture(t)
	driverID, order := f.addDelivery(t, types.DeliveryAssigned)

	// ~220 m away: outside the fence.
	f.svc.Ingest(context.Background(), frame(driverID, 0, 0.002))

	got, _ := f.orders.Get(context.Background(), order.ID)
	assert.Equal(t, types.DeliveryAssigned, got.Status)
	assert.Empty(t, f.notifier.msgs)
}

func TestIngest_DeliveryGeofenceNotifiesCustomerOnly(t *testing.T) {
	f := newTrackingFixture(t)
	driverID, order := f.addDelivery(t, types.DeliveryInTransit)

	f.svc.Ingest(context.Background(), frame(driverID, 0, 0.0496))

	got, _ := f.orders.Get(context.Background(), order.ID)
	assert.Equal(t, types.DeliveryAtDropoff, got.Status)
	assert.Equal(t, []types.Channel{types.ChannelCustomer}, f.notifier.channels())
}

func TestIngest_TransitionIsOneWay(t *testing.T) {
	f := newTrackingFixture(t)
	driverID, order := f.addDelivery(t, types.DeliveryAssigned)

	f.svc.Ingest(context.Background(), frame(driverID, 0, 0.0005))
	got, _ := f.orders.Get(context.Background(), order.ID)
	require.Equal(t, types.DeliveryAtPickup, got.Status)
	before := len(f.notifier.msgs)

	// Driving away and coming back does not re-fire the transition.
	f.svc.Ingest(context.Background(), frame(driverID, 0, 0.01))
	f.svc.Ingest(context.Background(), frame(driverID, 0, 0.0005))

	got, _ = f.orders.Get(context.Background(), order.ID)
	assert.Equal(t, types.DeliveryAtPickup, got.Status)
	assert.Len(t, f.notifier.msgs, before)
}

/*=================subscriptions=================*/

func TestSubscribe_CustomerGetsInitialSnapshot(t *testing.T) {
	f := newTrackingFixture(t)
	driverID, order := f.addDelivery(t, types.DeliveryAssigned)
	f.svc.Ingest(context.Background(), frame(driverID, 0, 0.01))

	require.NoError(t, f.svc.Subscribe(context.Background(), order.CustomerID, order.ID))

	msgs := f.feed.sent[order.CustomerID]
	require.Len(t, msgs, 1)
	snap, ok := msgs[0].(models.TrackingSnapshot)
	require.True(t, ok)
	assert.Equal(t, driverID, snap.DriverID)
	assert.Equal(t, order.ID, snap.OrderID)
	assert.Equal(t, 0.01, snap.Location.Longitude)
}

func TestSubscribe_StrangerForbidden(t *testing.T) {
	f := newTrackingFixture(t)
	_, order := f.addDelivery(t, types.DeliveryAssigned)

	err := f.svc.Subscribe(context.Background(), uuid.MustNew(), order.ID)
	assert.ErrorIs(t, err, types.ErrSubscriptionForbidden)
}

func TestSubscribe_UnassignedOrder(t *testing.T) {
	f := newTrackingFixture(t)
	_, order := f.addDelivery(t, types.DeliveryAssigned)
	delete(f.assignments.byOrder, order.ID)

	err := f.svc.Subscribe(context.Background(), order.CustomerID, order.ID)
	assert.ErrorIs(t, err, types.ErrOrderNotAssigned)
}

func TestIngest_FansOutToSubscribers(t *testing.T) {
	f := newTrackingFixture(t)
	driverID, order := f.addDelivery(t, types.DeliveryAssigned)
	f.svc.Ingest(context.Background(), frame(driverID, 0, 0.02))

	require.NoError(t, f.svc.Subscribe(context.Background(), order.CustomerID, order.ID))
	require.NoError(t, f.svc.Subscribe(context.Background(), order.MerchantID, order.ID))

	f.svc.Ingest(context.Background(), frame(driverID, 0, 0.021))

	assert.Len(t, f.feed.sent[order.CustomerID], 2, "initial snapshot plus live update")
	assert.Len(t, f.feed.sent[order.MerchantID], 2)

	f.svc.Unsubscribe(order.CustomerID)
	f.svc.Ingest(context.Background(), frame(driverID, 0, 0.022))

	assert.Len(t, f.feed.sent[order.CustomerID], 2, "no updates after unsubscribe")
	assert.Len(t, f.feed.sent[order.MerchantID], 3)
}

/*=================eta=================*/

func TestEtaSeconds_UsesReportedSpeed(t *testing.T) {
	order := &models.Order{Status: types.DeliveryAssigned, Pickup: models.Location{Latitude: 0, Longitude: 0.01}}
	drv := models.DriverRecord{Location: models.Location{}, SpeedKmh: 36} // 10 m/s

	dist := geo.HaversineMeters(0, 0, 0, 0.01)
	assert.InDelta(t, dist/10, EtaSeconds(drv, order), 0.1)
}

func TestEtaSeconds_FallsBackWhenStationary(t *testing.T) {
	order := &models.Order{Status: types.DeliveryInTransit, Dropoff: models.Location{Latitude: 0, Longitude: 0.01}}
	drv := models.DriverRecord{Location: models.Location{}, SpeedKmh: 0}

	dist := geo.HaversineMeters(0, 0, 0, 0.01)
	assert.InDelta(t, dist/geo.DefaultSpeedMps, EtaSeconds(drv, order), 0.1)
}

func TestEtaSeconds_TerminalStatusIsZero(t *testing.T) {
	order := &models.Order{Status: types.DeliveryCompleted}
	assert.Zero(t, EtaSeconds(models.DriverRecord{}, order))
}

/*=================buffer=================*/

func TestFlush_PersistsBatchAndComputesWindow(t *testing.T) {
	f := newTrackingFixture(t)
	driverID, _ := f.addDelivery(t, types.DeliveryInTransit)

	u1 := frame(driverID, 0, 0.02)
	u1.SpeedKmh = 20
	u2 := frame(driverID, 0, 0.021)
	u2.SpeedKmh = 40
	f.svc.Ingest(context.Background(), u1)
	f.svc.Ingest(context.Background(), u2)

	f.svc.Flush(context.Background())

	require.Len(t, f.coords.batches, 1)
	assert.Len(t, f.coords.batches[0], 2)

	w, ok := f.svc.WindowFor(driverID)
	require.True(t, ok)
	assert.Equal(t, 2, w.Samples)
	assert.Equal(t, 30.0, w.AvgSpeedKmh)
	assert.InDelta(t, geo.HaversineMeters(0, 0.02, 0, 0.021), w.DistanceMeters, 0.1)

	// Flushing an empty buffer writes nothing.
	f.svc.Flush(context.Background())
	assert.Len(t, f.coords.batches, 1)
}
