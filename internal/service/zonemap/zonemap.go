package zonemap

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
	"github.com/feastlane/dispatch-system/pkg/metrics"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

// statsTTL bounds how stale cached zone statistics may get.
const statsTTL = 60 * time.Second

/*
Service keeps the zone partition in memory and derives per-zone
supply/demand statistics from the driver pool and the order store.
Zones change rarely (administrative API), statistics constantly, so the
zone list is a read-mostly snapshot and statistics are cached per zone.
*/
type Service struct {
	repos     repos
	drivers   DriverCounter
	publisher Publisher
	l         logger.Logger

	mu sync.RWMutex
	// zones is sorted by priority descending, then age: the containment
	// scan returns the first hit, which resolves polygon overlap.
	zones []models.Zone

	statsMu sync.Mutex
	stats   map[uuid.UUID]models.ZoneStatistics
}

type repos struct {
	zone  ZoneRepo
	order OrderCounter
}

func New(zoneRepo ZoneRepo, orderRepo OrderCounter, drivers DriverCounter, publisher Publisher, l logger.Logger) *Service {
	return &Service{
		repos:     repos{zone: zoneRepo, order: orderRepo},
		drivers:   drivers,
		publisher: publisher,
		l:         l,
		stats:     make(map[uuid.UUID]models.ZoneStatistics),
	}
}

// Reload replaces the in-memory snapshot from the store. Called on startup
// and after every administrative change.
func (s *Service) Reload(ctx context.Context) error {
	zones, err := s.repos.zone.List(ctx)
	if err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to list zones: %w", err))
	}

	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].Priority != zones[j].Priority {
			return zones[i].Priority > zones[j].Priority
		}
		return zones[i].CreatedAt.Before(zones[j].CreatedAt)
	})

	s.mu.Lock()
	s.zones = zones
	s.mu.Unlock()

	s.l.Info(ctx, "zone map reloaded", "zones", len(zones))
	return nil
}

// Create validates the polygon and persists a new zone.
func (s *Service) Create(ctx context.Context, zone *models.Zone) error {
	if !validatePolygon(zone.Polygon) {
		return wrap.Error(ctx, types.ErrInvalidZonePolygon)
	}

	id, err := uuid.New()
	if err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to generate zone id: %w", err))
	}
	zone.ID = id

	if zone.SurgeMultiplier < SurgeMin {
		zone.SurgeMultiplier = SurgeMin
	}
	if zone.DemandLevel == "" {
		zone.DemandLevel = types.DemandLow
	}
	now := time.Now()
	zone.CreatedAt = now
	zone.UpdatedAt = now

	if err := s.repos.zone.Create(ctx, zone); err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to create zone: %w", err))
	}
	return s.Reload(ctx)
}

// Update replaces a zone's mutable fields. The polygon is revalidated.
func (s *Service) Update(ctx context.Context, zone *models.Zone) error {
	if !validatePolygon(zone.Polygon) {
		return wrap.Error(ctx, types.ErrInvalidZonePolygon)
	}
	zone.UpdatedAt = time.Now()

	if err := s.repos.zone.Update(ctx, zone); err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to update zone: %w", err))
	}
	return s.Reload(ctx)
}

// List returns the current snapshot.
func (s *Service) List() []models.Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Zone, len(s.zones))
	copy(out, s.zones)
	return out
}

// Get returns the zone by id.
func (s *Service) Get(zoneID uuid.UUID) (*models.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.zones {
		if s.zones[i].ID == zoneID {
			z := s.zones[i]
			return &z, nil
		}
	}
	return nil, types.ErrZoneNotFound
}

// ZoneContaining finds the active zone covering the point. Overlaps resolve
// to the highest-priority zone, then the oldest, by snapshot order.
func (s *Service) ZoneContaining(lat, lon float64) (*models.Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.zones {
		if !s.zones[i].Active {
			continue
		}
		if pointInPolygon(lat, lon, s.zones[i].Polygon) {
			z := s.zones[i]
			return &z, true
		}
	}
	return nil, false
}

// NeighborsOf lists active zones whose polygon overlaps or touches the
// given zone's polygon.
func (s *Service) NeighborsOf(zoneID uuid.UUID) ([]models.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var base *models.Zone
	for i := range s.zones {
		if s.zones[i].ID == zoneID {
			base = &s.zones[i]
			break
		}
	}
	if base == nil {
		return nil, types.ErrZoneNotFound
	}

	neighbors := make([]models.Zone, 0)
	for i := range s.zones {
		if s.zones[i].ID == zoneID || !s.zones[i].Active {
			continue
		}
		if polygonsTouch(base.Polygon, s.zones[i].Polygon) {
			neighbors = append(neighbors, s.zones[i])
		}
	}
	return neighbors, nil
}

// StatisticsOf returns the zone's derived statistics, recomputing when the
// cached copy is older than a minute.
func (s *Service) StatisticsOf(ctx context.Context, zoneID uuid.UUID) (models.ZoneStatistics, error) {
	s.statsMu.Lock()
	cached, ok := s.stats[zoneID]
	s.statsMu.Unlock()

	if ok && time.Since(cached.ComputedAt) < statsTTL {
		return cached, nil
	}
	return s.recomputeStatistics(ctx, zoneID)
}

func (s *Service) recomputeStatistics(ctx context.Context, zoneID uuid.UUID) (models.ZoneStatistics, error) {
	if _, err := s.Get(zoneID); err != nil {
		return models.ZoneStatistics{}, wrap.Error(ctx, err)
	}

	counts, err := s.repos.order.CountsByZone(ctx, zoneID)
	if err != nil {
		return models.ZoneStatistics{}, wrap.Error(ctx, fmt.Errorf("failed to count zone orders: %w", err))
	}

	active, available := s.drivers.CountInZone(zoneID)

	stats := models.ZoneStatistics{
		ZoneID:            zoneID,
		ActiveDrivers:     active,
		AvailableDrivers:  available,
		ActiveOrders:      counts.Active,
		PendingOrders:     counts.Pending,
		AvgWaitTimeMin:    counts.AvgWaitMinutes,
		DemandSupplyRatio: DemandSupplyRatio(counts.Active+counts.Pending, available),
		ComputedAt:        time.Now(),
	}

	s.statsMu.Lock()
	s.stats[zoneID] = stats
	s.statsMu.Unlock()

	return stats, nil
}

// FindOptimalZone suggests where an idle driver should head: the
// highest-scoring active zone whose centroid is within maxDistanceMeters.
func (s *Service) FindOptimalZone(ctx context.Context, driverLoc models.Location, maxDistanceMeters float64) (*models.Zone, bool) {
	var (
		best      *models.Zone
		bestScore float64
	)

	for _, zone := range s.List() {
		if !zone.Active || len(zone.Polygon) == 0 {
			continue
		}

		c := centroid(zone.Polygon)
		distMeters := geo.HaversineMeters(driverLoc.Latitude, driverLoc.Longitude, c.Latitude, c.Longitude)
		if distMeters > maxDistanceMeters {
			continue
		}

		stats, err := s.StatisticsOf(ctx, zone.ID)
		if err != nil {
			s.l.Warn(ctx, "failed to compute zone statistics", "zone_id", zone.ID.String(), "error", err)
			continue
		}

		score := 2*stats.DemandSupplyRatio +
			1.5*float64(zone.TargetDriverCount-stats.ActiveDrivers) +
			zone.SurgeMultiplier -
			distMeters/1000

		if best == nil || score > bestScore {
			z := zone
			best = &z
			bestScore = score
		}
	}

	return best, best != nil
}

// Run recomputes every active zone on a fixed cadence: refresh statistics,
// reclassify demand, persist the surge multiplier and notify drivers when
// the suggestion crosses the threshold. Blocks until ctx is done.
func (s *Service) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recomputeAll(wrap.WithAction(ctx, types.ActionZoneRecompute))
		}
	}
}

func (s *Service) recomputeAll(ctx context.Context) {
	for _, zone := range s.List() {
		if !zone.Active {
			continue
		}

		stats, err := s.recomputeStatistics(ctx, zone.ID)
		if err != nil {
			s.l.Error(ctx, "zone statistics recompute failed", err, "zone_id", zone.ID.String())
			continue
		}

		level := ClassifyDemand(stats.DemandSupplyRatio)
		surge := SuggestedSurge(stats.DemandSupplyRatio, stats.AvgWaitTimeMin, level)

		if err := s.repos.zone.UpdateDemand(ctx, zone.ID, level, surge); err != nil {
			s.l.Error(ctx, "failed to persist zone demand", err, "zone_id", zone.ID.String())
			continue
		}

		s.mu.Lock()
		for i := range s.zones {
			if s.zones[i].ID == zone.ID {
				s.zones[i].DemandLevel = level
				s.zones[i].SurgeMultiplier = surge
				break
			}
		}
		s.mu.Unlock()

		metrics.ZoneSurgeGauge.WithLabelValues(string(types.DispatchService), zone.Name).Set(surge)

		if surge > surgeNotifyThreshold {
			msg := models.SurgeNotification{
				ZoneID:       zone.ID,
				ZoneName:     zone.Name,
				Multiplier:   surge,
				DemandLevel:  level,
				DemandSupply: stats.DemandSupplyRatio,
				Timestamp:    time.Now(),
			}
			if err := s.publisher.PublishSurge(ctx, msg); err != nil {
				s.l.Warn(ctx, "failed to publish surge notification", "zone_id", zone.ID.String(), "error", err)
			}
		}
	}
}
