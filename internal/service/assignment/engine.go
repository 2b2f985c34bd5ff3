package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/geo"
	"github.com/feastlane/dispatch-system/pkg/logger"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/metrics"
	"github.com/feastlane/dispatch-system/pkg/trm"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

const (
	// Fixed ETA overheads on top of travel time.
	pickupOverhead   = 5 * time.Minute
	deliveryOverhead = 3 * time.Minute

	waitingSweepEvery = time.Minute
)

// Config tunes the engine's worker pool and search behavior.
type Config struct {
	Workers         int
	QueueSize       int
	AssignTimeout   time.Duration
	WaitingOrderTTL time.Duration
	SearchRadiusKm  float64
	ReoptimizeEvery time.Duration
}

/*
Engine matches orders to drivers. Callers block on Assign while a bounded
worker pool does the actual matching, so bursts queue up instead of
spawning unbounded goroutines. One background loop expires the waiting
queue, another re-optimizes multi-stop routes.
*/
type Engine struct {
	repos     repos
	pool      DriverPool
	zones     ZoneMap
	optimizer Optimizer
	publisher Publisher
	feed      OfferSender
	trm       trm.TxManager
	l         logger.Logger

	cfg     Config
	jobs    chan job
	waiting *waitingQueue
}

type repos struct {
	order      OrderRepo
	assignment AssignmentRepo
	metrics    MetricsRepo
}

type job struct {
	ctx      context.Context
	orderID  uuid.UUID
	strategy types.Strategy
	exclude  uuid.UUID
	result   chan models.AssignmentResult
}

func New(
	cfg Config,
	orderRepo OrderRepo,
	assignmentRepo AssignmentRepo,
	metricsRepo MetricsRepo,
	pool DriverPool,
	zones ZoneMap,
	optimizer Optimizer,
	publisher Publisher,
	feed OfferSender,
	trm trm.TxManager,
	l logger.Logger,
) *Engine {
	return &Engine{
		repos: repos{
			order:      orderRepo,
			assignment: assignmentRepo,
			metrics:    metricsRepo,
		},
		pool:      pool,
		zones:     zones,
		optimizer: optimizer,
		publisher: publisher,
		feed:      feed,
		trm:       trm,
		l:         l,
		cfg:       cfg,
		jobs:      make(chan job, cfg.QueueSize),
		waiting:   newWaitingQueue(cfg.WaitingOrderTTL),
	}
}

// Start launches the worker pool and background loops. They all stop when
// ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.cfg.Workers; i++ {
		go e.worker(ctx)
	}
	go e.sweepLoop(ctx)
	go e.reoptimizeLoop(ctx)
}

// Assign submits an assignment job and blocks until a worker finishes it.
// The timeout covers both queueing and processing, so a stuck worker fails
// the caller instead of hanging it.
func (e *Engine) Assign(ctx context.Context, orderID uuid.UUID, strategy types.Strategy) (models.AssignmentResult, error) {
	return e.submit(ctx, orderID, strategy, uuid.Nil)
}

func (e *Engine) submit(ctx context.Context, orderID uuid.UUID, strategy types.Strategy, exclude uuid.UUID) (models.AssignmentResult, error) {
	ctx = wrap.WithOrderID(wrap.WithAction(ctx, types.ActionAssignOrder), orderID.String())

	j := job{
		ctx:      ctx,
		orderID:  orderID,
		strategy: strategy,
		exclude:  exclude,
		result:   make(chan models.AssignmentResult, 1),
	}

	timer := time.NewTimer(e.cfg.AssignTimeout)
	defer timer.Stop()

	select {
	case e.jobs <- j:
	case <-timer.C:
		return models.AssignmentResult{}, wrap.Error(ctx, types.ErrAssignmentTimeout)
	case <-ctx.Done():
		return models.AssignmentResult{}, wrap.Error(ctx, ctx.Err())
	}

	select {
	case res := <-j.result:
		return res, nil
	case <-timer.C:
		return models.AssignmentResult{}, wrap.Error(ctx, types.ErrAssignmentTimeout)
	case <-ctx.Done():
		return models.AssignmentResult{}, wrap.Error(ctx, ctx.Err())
	}
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.jobs:
			e.process(j)
		}
	}
}

func (e *Engine) process(j job) {
	start := time.Now()
	res := e.tryAssign(j.ctx, j.orderID, j.strategy, j.exclude)
	latency := time.Since(start)

	metrics.RecordAssignment(string(types.DispatchService), j.strategy.String(), res.Success, latency)
	if err := e.repos.metrics.Record(j.ctx, start, res.Success, latency); err != nil {
		e.l.Warn(j.ctx, "failed to record assignment metrics", "error", err)
	}

	j.result <- res
}

func (e *Engine) tryAssign(ctx context.Context, orderID uuid.UUID, strategy types.Strategy, exclude uuid.UUID) models.AssignmentResult {
	fail := func(reason string) models.AssignmentResult {
		return models.AssignmentResult{OrderID: orderID, Success: false, Reason: reason, Strategy: strategy.String()}
	}

	order, err := e.repos.order.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, types.ErrOrderNotFound) {
			return fail(types.ErrOrderNotFound.Error())
		}
		e.l.Error(ctx, "failed to load order", err)
		return fail("order lookup failed")
	}
	if order.Status != types.DeliveryUnassigned {
		return fail(types.ErrOrderAlreadyAssigned.Error())
	}

	candidate := e.selectDriver(ctx, order, strategy, exclude)
	if candidate == nil {
		e.waiting.push(orderID)
		metrics.WaitingOrdersGauge.WithLabelValues(string(types.DispatchService)).Set(float64(e.waiting.len()))
		e.l.Info(ctx, "no eligible driver, order queued", "strategy", strategy.String())
		return fail(types.ErrNoAvailableDrivers.Error())
	}

	return e.commit(ctx, order, candidate, strategy)
}

// commit claims the order for the driver. The assignment insert and the
// order status flip run in one transaction; the store's active-assignment
// uniqueness turns a concurrent double-assign into a clean failure.
func (e *Engine) commit(ctx context.Context, order *models.Order, cand *models.DriverWithDistance, strategy types.Strategy) models.AssignmentResult {
	ctx = wrap.WithDriverID(ctx, cand.Driver.ID.String())

	id, err := uuid.New()
	if err != nil {
		e.l.Error(ctx, "failed to generate assignment id", err)
		return models.AssignmentResult{OrderID: order.ID, Success: false, Reason: "internal error", Strategy: strategy.String()}
	}

	now := time.Now()
	pickupTravel := time.Duration(geo.TravelSeconds(cand.DistanceMeters) * float64(time.Second))
	deliveryLeg := geo.HaversineMeters(order.Pickup.Latitude, order.Pickup.Longitude, order.Dropoff.Latitude, order.Dropoff.Longitude)
	deliveryTravel := time.Duration(geo.TravelSeconds(deliveryLeg) * float64(time.Second))

	a := &models.Assignment{
		ID:                  id,
		OrderID:             order.ID,
		DriverID:            cand.Driver.ID,
		Status:              types.AssignmentPending,
		EstimatedPickupAt:   now.Add(pickupTravel + pickupOverhead),
		EstimatedDeliveryAt: now.Add(pickupTravel + pickupOverhead + deliveryTravel + deliveryOverhead),
		Priority:            order.Priority,
		CreatedAt:           now,
	}

	err = e.trm.Do(ctx, func(ctx context.Context) error {
		if err := e.repos.assignment.Create(ctx, a); err != nil {
			return err
		}
		return e.repos.order.SetAssigned(ctx, order.ID)
	})
	if err != nil {
		if errors.Is(err, types.ErrOrderAlreadyAssigned) {
			return models.AssignmentResult{OrderID: order.ID, Success: false, Reason: types.ErrOrderAlreadyAssigned.Error(), Strategy: strategy.String()}
		}
		e.l.Error(ctx, "failed to commit assignment", err)
		return models.AssignmentResult{OrderID: order.ID, Success: false, Reason: "assignment commit failed", Strategy: strategy.String()}
	}

	e.pool.IncrementActive(cand.Driver.ID)
	e.waiting.remove(order.ID)

	offer := models.AssignmentOffer{
		MsgType:             "assignment",
		AssignmentID:        a.ID,
		OrderID:             order.ID,
		Pickup:              order.Pickup,
		Dropoff:             order.Dropoff,
		EstimatedPickupAt:   a.EstimatedPickupAt,
		EstimatedDeliveryAt: a.EstimatedDeliveryAt,
		Priority:            order.Priority,
	}
	e.notifyDriver(ctx, cand.Driver.ID, offer)

	e.l.Info(ctx, "order assigned",
		"assignment_id", a.ID.String(),
		"strategy", strategy.String(),
		"distance_m", cand.DistanceMeters,
	)

	return models.AssignmentResult{
		OrderID:             order.ID,
		Success:             true,
		Strategy:            strategy.String(),
		AssignmentID:        &a.ID,
		DriverID:            &cand.Driver.ID,
		EstimatedPickupAt:   &a.EstimatedPickupAt,
		EstimatedDeliveryAt: &a.EstimatedDeliveryAt,
	}
}

func (e *Engine) notifyDriver(ctx context.Context, driverID uuid.UUID, offer models.AssignmentOffer) {
	msg := models.NotificationMessage{
		Channel:     types.ChannelDriver,
		RecipientID: driverID,
		Kind:        "assignment_offer",
		Payload:     offer,
		Timestamp:   time.Now(),
	}
	if err := e.publisher.PublishNotification(ctx, msg); err != nil {
		e.l.Warn(ctx, "failed to publish assignment notification", "error", err)
	}

	// The socket push duplicates the notification for connected drivers.
	if err := e.feed.SendTo(driverID, offer); err != nil {
		e.l.Debug(ctx, "driver socket push skipped", "error", err)
	}
}

// Reassign cancels the order's active assignment and re-runs the match
// with the previous driver excluded.
func (e *Engine) Reassign(ctx context.Context, orderID uuid.UUID, reason string) (models.AssignmentResult, error) {
	ctx = wrap.WithOrderID(wrap.WithAction(ctx, types.ActionReassignOrder), orderID.String())

	current, err := e.repos.assignment.ActiveByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return models.AssignmentResult{}, wrap.Error(ctx, types.ErrOrderNotAssigned)
		}
		return models.AssignmentResult{}, wrap.Error(ctx, fmt.Errorf("failed to load active assignment: %w", err))
	}

	err = e.trm.Do(ctx, func(ctx context.Context) error {
		if err := e.repos.assignment.Cancel(ctx, current.ID, reason); err != nil {
			return err
		}
		return e.repos.order.SetUnassigned(ctx, orderID)
	})
	if err != nil {
		return models.AssignmentResult{}, wrap.Error(ctx, fmt.Errorf("failed to cancel assignment: %w", err))
	}

	e.pool.DecrementActive(ctx, current.DriverID, false)
	e.l.Info(ctx, "assignment cancelled for reassignment", "driver_id", current.DriverID.String(), "reason", reason)

	return e.submit(ctx, orderID, types.StrategyProximity, current.DriverID)
}

// Accept marks the order's pending assignment as accepted by the driver.
func (e *Engine) Accept(ctx context.Context, orderID uuid.UUID) error {
	current, err := e.repos.assignment.ActiveByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return wrap.Error(ctx, types.ErrOrderNotAssigned)
		}
		return wrap.Error(ctx, fmt.Errorf("failed to load active assignment: %w", err))
	}
	if err := e.repos.assignment.Accept(ctx, current.ID); err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to accept assignment: %w", err))
	}
	return nil
}

// PickedUp records that the driver collected the order and is moving
// toward the dropoff.
func (e *Engine) PickedUp(ctx context.Context, orderID uuid.UUID) error {
	if _, err := e.repos.assignment.ActiveByOrder(ctx, orderID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return wrap.Error(ctx, types.ErrOrderNotAssigned)
		}
		return wrap.Error(ctx, fmt.Errorf("failed to load active assignment: %w", err))
	}
	if err := e.repos.order.SetStatus(ctx, orderID, types.DeliveryInTransit); err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to update order status: %w", err))
	}
	return nil
}

// Complete finishes a delivery: the order reaches its terminal status and
// the driver gets a slot back, with today's counters refreshed.
func (e *Engine) Complete(ctx context.Context, orderID uuid.UUID) error {
	current, err := e.repos.assignment.ActiveByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return wrap.Error(ctx, types.ErrOrderNotAssigned)
		}
		return wrap.Error(ctx, fmt.Errorf("failed to load active assignment: %w", err))
	}

	err = e.trm.Do(ctx, func(ctx context.Context) error {
		if err := e.repos.assignment.Accept(ctx, current.ID); err != nil {
			return err
		}
		return e.repos.order.SetStatus(ctx, orderID, types.DeliveryCompleted)
	})
	if err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to complete order: %w", err))
	}

	e.pool.DecrementActive(ctx, current.DriverID, true)
	return nil
}

// MetricsFor returns the aggregated assignment counters for a day.
func (e *Engine) MetricsFor(ctx context.Context, day time.Time) (models.AssignmentMetrics, error) {
	m, err := e.repos.metrics.Get(ctx, day)
	if err != nil {
		return models.AssignmentMetrics{}, wrap.Error(ctx, fmt.Errorf("failed to load assignment metrics: %w", err))
	}
	return m, nil
}

// WaitingOrders exposes the retry backlog to the query surface.
func (e *Engine) WaitingOrders() []uuid.UUID {
	return e.waiting.snapshot()
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(waitingSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining := e.waiting.sweep(time.Now())
			metrics.WaitingOrdersGauge.WithLabelValues(string(types.DispatchService)).Set(float64(remaining))
		}
	}
}
