package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feastlane/dispatch-system/config"
	"github.com/feastlane/dispatch-system/internal/adapter/http/handler"
	"github.com/feastlane/dispatch-system/internal/adapter/http/server"
	repo "github.com/feastlane/dispatch-system/internal/adapter/postgres"
	"github.com/feastlane/dispatch-system/internal/adapter/rabbit"
	redisrepo "github.com/feastlane/dispatch-system/internal/adapter/redis"
	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/internal/service/assignment"
	"github.com/feastlane/dispatch-system/internal/service/driverpool"
	"github.com/feastlane/dispatch-system/internal/service/routeopt"
	"github.com/feastlane/dispatch-system/internal/service/tracking"
	"github.com/feastlane/dispatch-system/internal/service/zonemap"
	"github.com/feastlane/dispatch-system/pkg/logger"
	"github.com/feastlane/dispatch-system/pkg/postgres"
	rabbitmq "github.com/feastlane/dispatch-system/pkg/rabbit"
	"github.com/feastlane/dispatch-system/pkg/redis"
	"github.com/feastlane/dispatch-system/pkg/trm"
	"github.com/feastlane/dispatch-system/pkg/uuid"
	ws "github.com/feastlane/dispatch-system/pkg/wsHub"
)

// App owns every long-lived piece of the dispatch service and wires them
// together: storage, broker, the in-memory services and the HTTP surface.
type App struct {
	postgresDB *postgres.PostgreDB
	redisDB    *redis.Client
	rabbitMQ   *rabbitmq.RabbitMQ

	hub      *ws.ConnectionHub
	engine   *assignment.Engine
	pool     *driverpool.Pool
	zones    *zonemap.Service
	tracking *tracking.Service
	consumer *rabbit.OrderConsumer

	httpServer *server.API

	cfg config.Config
	log logger.Logger
}

// driverCounts lets the zone map see pool occupancy without a construction
// cycle: the pool needs the zone map for geofencing, the zone map needs the
// pool for statistics. The pointer is bound right after both exist, before
// anything calls CountInZone.
type driverCounts struct {
	pool *driverpool.Pool
}

func (d *driverCounts) CountInZone(zoneID uuid.UUID) (active, available int) {
	if d.pool == nil {
		return 0, 0
	}
	return d.pool.CountInZone(zoneID)
}

func NewApplication(ctx context.Context, cfg config.Config, log logger.Logger) (*App, error) {
	postgresDB, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		log.Error(ctx, "failed to setup database", err)
		return nil, err
	}

	redisDB, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error(ctx, "failed to setup redis", err)
		return nil, err
	}

	rabbitMQ, err := rabbitmq.New(ctx, cfg.RabbitMQ.GetDSN(), log)
	if err != nil {
		log.Error(ctx, "failed to setup rabbitmq", err)
		return nil, err
	}

	// Repositories
	orderRepo := repo.NewOrderRepo(postgresDB.Pool)
	assignmentRepo := repo.NewAssignmentRepo(postgresDB.Pool)
	zoneRepo := repo.NewZoneRepo(postgresDB.Pool)
	driverRepo := repo.NewDriverRepo(postgresDB.Pool)
	coordinateRepo := repo.NewCoordinateRepo(postgresDB.Pool)
	metricsRepo := repo.NewMetricsRepo(postgresDB.Pool)
	historyRepo := redisrepo.NewHistoryRepo(redisDB.RDB(), cfg.Tracking.HistoryLimit, cfg.Tracking.HistoryTTL)

	txManager := trm.New(postgresDB.Pool)

	// Messaging
	producer := rabbit.NewDispatchProducer(rabbitMQ, log)
	consumer := rabbit.NewOrderConsumer(rabbitMQ, log)

	hub := ws.NewConnHub(log)

	// Services
	counts := &driverCounts{}
	zones := zonemap.New(zoneRepo, orderRepo, counts, producer, log)
	pool := driverpool.New(driverRepo, historyRepo, zones, producer, hub, log)
	counts.pool = pool

	optimizer := routeopt.New()

	engine := assignment.New(
		assignment.Config{
			Workers:         cfg.Dispatch.Workers,
			QueueSize:       cfg.Dispatch.QueueSize,
			AssignTimeout:   cfg.Dispatch.AssignTimeout,
			WaitingOrderTTL: cfg.Dispatch.WaitingOrderTTL,
			SearchRadiusKm:  cfg.Dispatch.SearchRadiusKm,
			ReoptimizeEvery: cfg.Dispatch.ReoptimizeEvery,
		},
		orderRepo,
		assignmentRepo,
		metricsRepo,
		pool,
		zones,
		optimizer,
		producer,
		hub,
		txManager,
		log,
	)

	trackingSvc := tracking.New(
		tracking.Config{
			FlushEvery:      cfg.Tracking.FlushEvery,
			GeofenceRadiusM: cfg.Tracking.GeofenceRadiusM,
		},
		pool,
		orderRepo,
		assignmentRepo,
		coordinateRepo,
		producer,
		hub,
		log,
	)

	// HTTP surface
	dispatchHandler := handler.NewDispatch(engine, log)
	zoneHandler := handler.NewZone(zones, log)
	driverHandler := handler.NewDriver(pool, historyRepo, coordinateRepo, log)
	wsHandler := handler.NewWS(hub, pool, trackingSvc, log)

	httpServer := server.New(cfg, dispatchHandler, zoneHandler, driverHandler, wsHandler, log)

	return &App{
		postgresDB: postgresDB,
		redisDB:    redisDB,
		rabbitMQ:   rabbitMQ,
		hub:        hub,
		engine:     engine,
		pool:       pool,
		zones:      zones,
		tracking:   trackingSvc,
		consumer:   consumer,
		httpServer: httpServer,
		cfg:        cfg,
		log:        log,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	if err := a.zones.Reload(ctx); err != nil {
		a.log.Error(ctx, "failed to load zones", err)
		return err
	}

	if err := a.pool.WarmStart(ctx); err != nil {
		a.log.Error(ctx, "failed to warm-start driver pool", err)
		return err
	}

	a.engine.Start(ctx)
	go a.zones.Run(ctx, a.cfg.Dispatch.ZoneStatsEvery)
	go a.tracking.Run(ctx)

	go func() {
		if err := a.consumer.ConsumeOrderCreated(ctx, a.onOrderCreated); err != nil {
			errCh <- err
		}
	}()

	a.httpServer.Run(ctx, errCh)
	defer func() {
		a.close(ctx)
		a.log.Info(ctx, "dispatch service closed")
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	a.log.Info(ctx, "dispatch service started")

	select {
	case errRun := <-errCh:
		return errRun
	case sig := <-shutdownCh:
		a.log.Info(ctx, "shutting down application", "signal", sig.String())
		return nil
	}
}

// onOrderCreated matches a freshly created order. The broker message may name
// a strategy; anything absent or unknown falls back to proximity.
func (a *App) onOrderCreated(ctx context.Context, msg models.OrderCreatedMessage) error {
	strategy, err := types.ParseStrategy(msg.Strategy)
	if err != nil {
		strategy = types.StrategyProximity
	}

	result, err := a.engine.Assign(ctx, msg.OrderID, strategy)
	if err != nil {
		return err
	}
	if !result.Success {
		a.log.Info(ctx, "order parked for retry", "reason", result.Reason)
	}

	return nil
}

func (a *App) close(ctx context.Context) {
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Warn(ctx, "failed to gracefully close http server", "error", err.Error())
		}
	}

	if a.tracking != nil {
		// One last drain so buffered pings reach the location log.
		a.tracking.Flush(ctx)
	}

	if a.hub != nil {
		a.hub.Close()
	}

	if a.rabbitMQ != nil {
		if err := a.rabbitMQ.Close(ctx); err != nil {
			a.log.Warn(ctx, "failed to close rabbitmq connection", "error", err.Error())
		}
	}

	if a.redisDB != nil {
		if err := a.redisDB.Close(); err != nil {
			a.log.Warn(ctx, "failed to close redis client", "error", err.Error())
		}
	}

	if a.postgresDB != nil && a.postgresDB.Pool != nil {
		a.postgresDB.Pool.Close()
	}
}
