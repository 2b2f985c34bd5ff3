package driverpool

import (
	"github.com/mmcloughlin/geohash"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

// cellPrecision of 5 characters gives cells about 4.9 km tall. Cell width
// matches that near the equator but shrinks with the cosine of latitude.
const cellPrecision = 5

// maxCellRadiusMeters is the largest radius one cell plus its eight
// neighbors can answer without missing drivers at low-to-mid latitudes;
// wider queries (including the default 5 km search) scan the whole
// registry, so high-latitude cities lose speed, not correctness.
const maxCellRadiusMeters = 4900

// cellIndex buckets driver IDs by geohash cell. Not safe for concurrent
// use on its own: the pool's mutex guards it.
type cellIndex struct {
	cells map[string]map[uuid.UUID]struct{}
}

func newCellIndex() *cellIndex {
	return &cellIndex{cells: make(map[string]map[uuid.UUID]struct{})}
}

func cellOf(loc models.Location) string {
	return geohash.EncodeWithPrecision(loc.Latitude, loc.Longitude, cellPrecision)
}

func (x *cellIndex) add(id uuid.UUID, loc models.Location) {
	cell := cellOf(loc)
	bucket, ok := x.cells[cell]
	if !ok {
		bucket = make(map[uuid.UUID]struct{})
		x.cells[cell] = bucket
	}
	bucket[id] = struct{}{}
}

func (x *cellIndex) remove(id uuid.UUID, loc models.Location) {
	cell := cellOf(loc)
	if bucket, ok := x.cells[cell]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(x.cells, cell)
		}
	}
}

func (x *cellIndex) move(id uuid.UUID, from, to models.Location) {
	oldCell, newCell := cellOf(from), cellOf(to)
	if oldCell == newCell {
		// Still have to add: the first update after connect lands here
		// with the zero location.
		if bucket, ok := x.cells[newCell]; ok {
			bucket[id] = struct{}{}
			return
		}
	}
	x.remove(id, from)
	x.add(id, to)
}

// near returns every driver in the center's cell and the eight surrounding
// cells.
func (x *cellIndex) near(center models.Location) []uuid.UUID {
	cell := cellOf(center)
	out := make([]uuid.UUID, 0)

	for _, c := range append(geohash.Neighbors(cell), cell) {
		for id := range x.cells[c] {
			out = append(out, id)
		}
	}
	return out
}
