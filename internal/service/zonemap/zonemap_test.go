package zonemap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/logger"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

func square(minLat, minLon, maxLat, maxLon float64) []models.Location {
	return []models.Location{
		{Latitude: minLat, Longitude: minLon},
		{Latitude: minLat, Longitude: maxLon},
		{Latitude: maxLat, Longitude: maxLon},
		{Latitude: maxLat, Longitude: minLon},
	}
}

/*=================fakes=================*/

type fakeZoneRepo struct {
	zones []models.Zone
}

func (f *fakeZoneRepo) List(ctx context.Context) ([]models.Zone, error) {
	return append([]models.Zone(nil), f.zones...), nil
}

func (f *fakeZoneRepo) Create(ctx context.Context, zone *models.Zone) error {
	f.zones = append(f.zones, *zone)
	return nil
}

func (f *fakeZoneRepo) Update(ctx context.Context, zone *models.Zone) error {
	for i := range f.zones {
		if f.zones[i].ID == zone.ID {
			f.zones[i] = *zone
			return nil
		}
	}
	return types.ErrZoneNotFound
}

func (f *fakeZoneRepo) UpdateDemand(ctx context.Context, zoneID uuid.UUID, level types.DemandLevel, surge float64) error {
	for i := range f.zones {
		if f.zones[i].ID == zoneID {
			f.zones[i].DemandLevel = level
			f.zones[i].SurgeMultiplier = surge
			return nil
		}
	}
	return types.ErrZoneNotFound
}

type fakeOrderCounter struct {
	counts models.OrderCounts
	calls  int
}

func (f *fakeOrderCounter) CountsByZone(ctx context.Context, zoneID uuid.UUID) (models.OrderCounts, error) {
	f.calls++
	return f.counts, nil
}

type fakeDriverCounter struct {
	active, available int
}

func (f *fakeDriverCounter) CountInZone(zoneID uuid.UUID) (int, int) {
	return f.active, f.available
}

type fakePublisher struct {
	surges []models.SurgeNotification
}

func (f *fakePublisher) PublishSurge(ctx context.Context, msg models.SurgeNotification) error {
	f.surges = append(f.surges, msg)
	return nil
}

func newTestService(t *testing.T, zones ...models.Zone) (*Service, *fakeZoneRepo, *fakeOrderCounter, *fakePublisher) {
	t.Helper()
	repo := &fakeZoneRepo{zones: zones}
	orders := &fakeOrderCounter{}
	pub := &fakePublisher{}
	svc := New(repo, orders, &fakeDriverCounter{available: 1}, pub, logger.InitLogger("zonemap-test", logger.LevelError))
	require.NoError(t, svc.Reload(context.Background()))
	return svc, repo, orders, pub
}

func zone(t *testing.T, name string, priority int, createdAt time.Time, ring []models.Location) models.Zone {
	t.Helper()
	id, err := uuid.New()
	require.NoError(t, err)
	return models.Zone{
		ID:              id,
		Name:            name,
		Polygon:         ring,
		Active:          true,
		Priority:        priority,
		SurgeMultiplier: 1.0,
		CreatedAt:       createdAt,
	}
}

/*=================geometry=================*/

func TestPointInPolygon(t *testing.T) {
	ring := square(0, 0, 1, 1)
	assert.True(t, pointInPolygon(0.5, 0.5, ring))
	assert.False(t, pointInPolygon(1.5, 0.5, ring))
	assert.False(t, pointInPolygon(-0.1, -0.1, ring))
}

func TestValidatePolygon(t *testing.T) {
	assert.True(t, validatePolygon(square(0, 0, 1, 1)))
	assert.False(t, validatePolygon(square(0, 0, 1, 1)[:2]), "two vertices are not a polygon")

	bowtie := []models.Location{
		{Latitude: 0, Longitude: 0},
		{Latitude: 1, Longitude: 1},
		{Latitude: 1, Longitude: 0},
		{Latitude: 0, Longitude: 1},
	}
	assert.False(t, validatePolygon(bowtie), "self-intersecting ring must be rejected")

	assert.False(t, validatePolygon([]models.Location{
		{Latitude: 91, Longitude: 0}, {Latitude: 0, Longitude: 1}, {Latitude: 1, Longitude: 0},
	}), "out-of-range latitude")
}

/*=================containment & neighbors=================*/

func TestZoneContaining_PriorityBreaksOverlap(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	low := zone(t, "low", 1, old, square(0, 0, 2, 2))
	high := zone(t, "high", 5, time.Now(), square(0, 0, 2, 2))

	svc, _, _, _ := newTestService(t, low, high)

	got, ok := svc.ZoneContaining(1, 1)
	require.True(t, ok)
	assert.Equal(t, high.ID, got.ID)
}

func TestZoneContaining_EqualPriorityOldestWins(t *testing.T) {
	older := zone(t, "older", 1, time.Now().Add(-time.Hour), square(0, 0, 2, 2))
	newer := zone(t, "newer", 1, time.Now(), square(0, 0, 2, 2))

	svc, _, _, _ := newTestService(t, newer, older)

	got, ok := svc.ZoneContaining(1, 1)
	require.True(t, ok)
	assert.Equal(t, older.ID, got.ID)
}

func TestZoneContaining_SkipsInactive(t *testing.T) {
	z := zone(t, "off", 1, time.Now(), square(0, 0, 1, 1))
	z.Active = false

	svc, _, _, _ := newTestService(t, z)

	_, ok := svc.ZoneContaining(0.5, 0.5)
	assert.False(t, ok)
}

func TestNeighborsOf(t *testing.T) {
	a := zone(t, "a", 1, time.Now(), square(0, 0, 1, 1))
	b := zone(t, "b", 1, time.Now(), square(0, 1, 1, 2))      // shares an edge with a
	c := zone(t, "c", 1, time.Now(), square(10, 10, 11, 11)) // far away

	svc, _, _, _ := newTestService(t, a, b, c)

	neighbors, err := svc.NeighborsOf(a.ID)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, b.ID, neighbors[0].ID)

	_, err = svc.NeighborsOf(uuid.MustNew())
	assert.ErrorIs(t, err, types.ErrZoneNotFound)
}

/*=================zone administration=================*/

func TestCreate_RejectsInvalidPolygon(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	err := svc.Create(context.Background(), &models.Zone{Name: "bad", Polygon: square(0, 0, 1, 1)[:2]})
	assert.ErrorIs(t, err, types.ErrInvalidZonePolygon)
	assert.Empty(t, repo.zones)
}

func TestCreate_AssignsIDAndDefaults(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	z := &models.Zone{Name: "center", Polygon: square(0, 0, 1, 1), Active: true}
	require.NoError(t, svc.Create(context.Background(), z))

	require.Len(t, repo.zones, 1)
	assert.False(t, z.ID.IsZero())
	assert.Equal(t, 1.0, z.SurgeMultiplier)

	// The snapshot picked up the new zone.
	_, ok := svc.ZoneContaining(0.5, 0.5)
	assert.True(t, ok)
}

/*=================statistics=================*/

func TestStatisticsOf_ComputesAndCaches(t *testing.T) {
	z := zone(t, "z", 1, time.Now(), square(0, 0, 1, 1))
	svc, _, orders, _ := newTestService(t, z)
	orders.counts = models.OrderCounts{Active: 3, Pending: 2, AvgWaitMinutes: 4}

	stats, err := svc.StatisticsOf(context.Background(), z.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, stats.DemandSupplyRatio) // (3+2)/1 available
	assert.Equal(t, 1, orders.calls)

	// Second hit within the TTL comes from cache.
	_, err = svc.StatisticsOf(context.Background(), z.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, orders.calls)
}

func TestStatisticsOf_UnknownZone(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.StatisticsOf(context.Background(), uuid.MustNew())
	assert.ErrorIs(t, err, types.ErrZoneNotFound)
}

func TestRecomputeAll_PersistsSurgeAndNotifies(t *testing.T) {
	z := zone(t, "hot", 1, time.Now(), square(0, 0, 1, 1))
	svc, repo, orders, pub := newTestService(t, z)
	// ratio = (6+2)/1 = 8 -> very high demand, surge well above 1.2
	orders.counts = models.OrderCounts{Active: 6, Pending: 2, AvgWaitMinutes: 20}

	svc.recomputeAll(context.Background())

	require.Len(t, repo.zones, 1)
	assert.Equal(t, types.DemandVeryHigh, repo.zones[0].DemandLevel)
	assert.Greater(t, repo.zones[0].SurgeMultiplier, 1.2)

	require.Len(t, pub.surges, 1)
	assert.Equal(t, z.ID, pub.surges[0].ZoneID)
}

/*=================optimal zone=================*/

func TestFindOptimalZone_PrefersStarvedZone(t *testing.T) {
	quiet := zone(t, "quiet", 1, time.Now(), square(0, 0, 0.1, 0.1))
	quiet.TargetDriverCount = 1

	starved := zone(t, "starved", 1, time.Now(), square(0, 0.1, 0.1, 0.2))
	starved.TargetDriverCount = 20
	starved.SurgeMultiplier = 2.0

	svc, _, orders, _ := newTestService(t, quiet, starved)
	orders.counts = models.OrderCounts{Active: 4, Pending: 4}

	got, ok := svc.FindOptimalZone(context.Background(), models.Location{Latitude: 0.05, Longitude: 0.05}, 100_000)
	require.True(t, ok)
	assert.Equal(t, starved.ID, got.ID)
}

func TestFindOptimalZone_NoneInRange(t *testing.T) {
	far := zone(t, "far", 1, time.Now(), square(50, 50, 51, 51))
	svc, _, _, _ := newTestService(t, far)

	_, ok := svc.FindOptimalZone(context.Background(), models.Location{}, 1000)
	assert.False(t, ok)
}
