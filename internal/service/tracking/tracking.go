package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/geo"
	"github.com/feastlane/dispatch-system/pkg/logger"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

// Config tunes buffering and geofence behavior.
type Config struct {
	FlushEvery      time.Duration
	GeofenceRadiusM float64
}

// WindowMetrics summarizes a driver's movement over the last flushed buffer.
type WindowMetrics struct {
	AvgSpeedKmh    float64
	DistanceMeters float64
	Samples        int
}

/*
Service is the live-location fan-in: every driver frame updates the pool,
lands in a write-behind buffer, runs geofence checks against the driver's
active deliveries and is fanned out to order subscribers.
*/
type Service struct {
	pool      DriverPool
	repos     repos
	publisher Publisher
	feed      SnapshotSender
	cfg       Config
	l         logger.Logger

	bufMu   sync.Mutex
	buffer  map[uuid.UUID][]models.LocationUpdate
	windows map[uuid.UUID]WindowMetrics

	subMu sync.Mutex
	// subscriber -> watched order; driver -> set of subscribers.
	watched map[uuid.UUID]uuid.UUID
	subs    map[uuid.UUID]map[uuid.UUID]struct{}
}

type repos struct {
	order      OrderRepo
	assignment AssignmentRepo
	coordinate CoordinateRepo
}

func New(cfg Config, pool DriverPool, orderRepo OrderRepo, assignmentRepo AssignmentRepo, coordinateRepo CoordinateRepo, publisher Publisher, feed SnapshotSender, l logger.Logger) *Service {
	return &Service{
		pool: pool,
		repos: repos{
			order:      orderRepo,
			assignment: assignmentRepo,
			coordinate: coordinateRepo,
		},
		publisher: publisher,
		feed:      feed,
		cfg:       cfg,
		l:         l,
		buffer:    make(map[uuid.UUID][]models.LocationUpdate),
		windows:   make(map[uuid.UUID]WindowMetrics),
		watched:   make(map[uuid.UUID]uuid.UUID),
		subs:      make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Ingest processes one frame from the driver feed. Unknown drivers are
// dropped by the pool; everything downstream still runs off the frame
// itself, so ordering mistakes in the feed stay harmless.
func (s *Service) Ingest(ctx context.Context, upd models.LocationUpdate) {
	if upd.Timestamp.IsZero() {
		upd.Timestamp = time.Now()
	}

	s.pool.UpdateLocation(ctx, upd)

	s.bufMu.Lock()
	s.buffer[upd.DriverID] = append(s.buffer[upd.DriverID], upd)
	s.bufMu.Unlock()

	s.checkGeofences(ctx, upd)
	s.fanOut(ctx, upd)
}

// Subscribe registers userID for live updates on the order and immediately
// emits the driver's last known position. Only the order's customer or
// merchant may watch it.
func (s *Service) Subscribe(ctx context.Context, userID, orderID uuid.UUID) error {
	order, err := s.repos.order.Get(ctx, orderID)
	if err != nil {
		return wrap.Error(ctx, err)
	}
	if userID != order.CustomerID && userID != order.MerchantID {
		return wrap.Error(ctx, types.ErrSubscriptionForbidden)
	}

	a, err := s.repos.assignment.ActiveByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return wrap.Error(ctx, types.ErrOrderNotAssigned)
		}
		return wrap.Error(ctx, fmt.Errorf("failed to resolve assigned driver: %w", err))
	}

	s.subMu.Lock()
	s.watched[userID] = orderID
	if s.subs[a.DriverID] == nil {
		s.subs[a.DriverID] = make(map[uuid.UUID]struct{})
	}
	s.subs[a.DriverID][userID] = struct{}{}
	s.subMu.Unlock()

	if drv, ok := s.pool.Get(a.DriverID); ok {
		snap := s.snapshot(ctx, drv, orderID)
		if err := s.feed.SendTo(userID, snap); err != nil {
			s.l.Debug(ctx, "initial snapshot push skipped", "error", err)
		}
	}
	return nil
}

// Unsubscribe drops the user's subscription, typically on socket close.
func (s *Service) Unsubscribe(userID uuid.UUID) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	delete(s.watched, userID)
	for driverID, set := range s.subs {
		delete(set, userID)
		if len(set) == 0 {
			delete(s.subs, driverID)
		}
	}
}

func (s *Service) fanOut(ctx context.Context, upd models.LocationUpdate) {
	s.subMu.Lock()
	watchers := make(map[uuid.UUID]uuid.UUID)
	for userID := range s.subs[upd.DriverID] {
		watchers[userID] = s.watched[userID]
	}
	s.subMu.Unlock()

	if len(watchers) == 0 {
		return
	}

	drv, ok := s.pool.Get(upd.DriverID)
	if !ok {
		return
	}

	for userID, orderID := range watchers {
		snap := s.snapshot(ctx, drv, orderID)
		if err := s.feed.SendTo(userID, snap); err != nil {
			s.l.Debug(ctx, "snapshot push skipped", "error", err)
		}
	}
}

func (s *Service) snapshot(ctx context.Context, drv models.DriverRecord, orderID uuid.UUID) models.TrackingSnapshot {
	snap := models.TrackingSnapshot{
		MsgType:   "tracking",
		OrderID:   orderID,
		DriverID:  drv.ID,
		Location:  drv.Location,
		SpeedKmh:  drv.SpeedKmh,
		Timestamp: drv.LastUpdate,
	}

	if order, err := s.repos.order.Get(ctx, orderID); err == nil {
		snap.EtaSeconds = EtaSeconds(drv, order)
	}
	return snap
}

// EtaSeconds estimates arrival at the order's next relevant stop from the
// driver's reported speed, falling back to the constant travel model when
// the driver is stationary or not reporting speed.
func EtaSeconds(drv models.DriverRecord, order *models.Order) float64 {
	var next models.Location
	switch order.Status {
	case types.DeliveryAssigned, types.DeliveryAtPickup:
		next = order.Pickup
	case types.DeliveryInTransit, types.DeliveryAtDropoff:
		next = order.Dropoff
	default:
		return 0
	}

	dist := geo.HaversineMeters(drv.Location.Latitude, drv.Location.Longitude, next.Latitude, next.Longitude)

	speed := drv.SpeedKmh * 1000 / 3600
	if speed <= 0 {
		speed = geo.DefaultSpeedMps
	}
	return dist / speed
}

// WindowFor reports the driver's movement metrics over the last flushed
// window.
func (s *Service) WindowFor(driverID uuid.UUID) (WindowMetrics, bool) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	w, ok := s.windows[driverID]
	return w, ok
}

// Run flushes the location buffer on a fixed cadence until ctx is done.
// The final flush on shutdown is best effort.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush swaps the buffer out, persists the batch and recomputes per-driver
// window metrics.
func (s *Service) Flush(ctx context.Context) {
	ctx = wrap.WithAction(ctx, types.ActionTrackingFlush)

	s.bufMu.Lock()
	batch := s.buffer
	s.buffer = make(map[uuid.UUID][]models.LocationUpdate)
	s.bufMu.Unlock()

	if len(batch) == 0 {
		return
	}

	flat := make([]models.LocationUpdate, 0)
	windows := make(map[uuid.UUID]WindowMetrics, len(batch))

	for driverID, updates := range batch {
		flat = append(flat, updates...)
		windows[driverID] = windowMetrics(updates)
	}

	if err := s.repos.coordinate.BatchInsert(ctx, flat); err != nil {
		s.l.Error(ctx, "failed to persist location batch", err, "updates", len(flat))
	}

	s.bufMu.Lock()
	for driverID, w := range windows {
		s.windows[driverID] = w
	}
	s.bufMu.Unlock()
}

func windowMetrics(updates []models.LocationUpdate) WindowMetrics {
	w := WindowMetrics{Samples: len(updates)}

	var speedSum float64
	for i, u := range updates {
		speedSum += u.SpeedKmh
		if i > 0 {
			prev := updates[i-1]
			w.DistanceMeters += geo.HaversineMeters(prev.Latitude, prev.Longitude, u.Latitude, u.Longitude)
		}
	}
	if len(updates) > 0 {
		w.AvgSpeedKmh = speedSum / float64(len(updates))
	}
	return w
}
