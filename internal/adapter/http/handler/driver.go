package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/logger"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/uuid"
	"github.com/feastlane/dispatch-system/pkg/validator"
)

/*=================Driver Pool============================*/

type DriverPoolService interface {
	Get(driverID uuid.UUID) (models.DriverRecord, bool)
	NearbyDrivers(center models.Location, radiusMeters float64, filter models.NearbyFilter) []models.DriverWithDistance
	DriversInZone(zoneID uuid.UUID, status *types.DriverStatus) []models.DriverRecord
	OnlineCount() int
}

/*=================Location History=======================*/

type HistoryReader interface {
	Recent(ctx context.Context, driverID uuid.UUID, n int64) ([]models.LocationUpdate, error)
}

// LocationLog serves last-known positions for drivers not currently
// connected to the pool.
type LocationLog interface {
	LastKnown(ctx context.Context, driverID uuid.UUID) (models.Location, error)
}

type Driver struct {
	pool    DriverPoolService
	history HistoryReader
	logbook LocationLog
	log     logger.Logger
}

func NewDriver(pool DriverPoolService, history HistoryReader, logbook LocationLog, log logger.Logger) *Driver {
	return &Driver{
		pool:    pool,
		history: history,
		logbook: logbook,
		log:     log,
	}
}

// Get returns the pool's live view of one connected driver.
func (h *Driver) Get(w http.ResponseWriter, r *http.Request) {
	driverID, err := uuid.Parse(r.PathValue("driver_id"))
	if err != nil {
		badRequestResponse(w, "invalid driver_id")
		return
	}

	record, ok := h.pool.Get(driverID)
	if !ok {
		errorResponse(w, http.StatusNotFound, types.ErrDriverNotFound.Error())
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"driver": record}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// Nearby lists connected drivers around ?lat=&lon= within ?radius_m=
// (default 5000), optionally filtered by ?status= and ?vehicle=.
func (h *Driver) Nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || !validator.ValidLatitude(lat) || !validator.ValidLongitude(lon) {
		badRequestResponse(w, "lat and lon query parameters are required")
		return
	}

	radius := 5000.0
	if raw := q.Get("radius_m"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			badRequestResponse(w, "radius_m must be a positive number")
			return
		}
		radius = parsed
	}

	var filter models.NearbyFilter
	if raw := q.Get("status"); raw != "" {
		status := types.DriverStatus(raw)
		filter.Status = &status
	}
	if raw := q.Get("vehicle"); raw != "" {
		vehicle := types.VehicleType(raw)
		filter.VehicleType = &vehicle
	}

	drivers := h.pool.NearbyDrivers(models.Location{Latitude: lat, Longitude: lon}, radius, filter)

	if err := writeJSON(w, http.StatusOK, envelope{"drivers": drivers, "count": len(drivers)}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// InZone lists connected drivers inside one zone, optionally by ?status=.
func (h *Driver) InZone(w http.ResponseWriter, r *http.Request) {
	zoneID, err := uuid.Parse(r.PathValue("zone_id"))
	if err != nil {
		badRequestResponse(w, "invalid zone_id")
		return
	}

	var status *types.DriverStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := types.DriverStatus(raw)
		status = &s
	}

	drivers := h.pool.DriversInZone(zoneID, status)

	if err := writeJSON(w, http.StatusOK, envelope{"drivers": drivers, "count": len(drivers)}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// Location returns a driver's position: live from the pool when connected,
// otherwise the newest entry in the location log.
func (h *Driver) Location(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "http_driver_location")

	driverID, err := uuid.Parse(r.PathValue("driver_id"))
	if err != nil {
		badRequestResponse(w, "invalid driver_id")
		return
	}

	if record, ok := h.pool.Get(driverID); ok {
		response := envelope{"location": record.Location, "live": true, "updated_at": record.LastUpdate}
		if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
			internalErrorResponse(w, "the server encountered a problem")
		}
		return
	}

	loc, err := h.logbook.LastKnown(ctx, driverID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			errorResponse(w, http.StatusNotFound, "no known location for driver")
			return
		}
		h.log.Error(ctx, "last known location lookup failed", err)
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"location": loc, "live": false}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// History returns the driver's recent location trail, newest first.
// ?limit= caps the number of points.
func (h *Driver) History(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "http_driver_history")

	driverID, err := uuid.Parse(r.PathValue("driver_id"))
	if err != nil {
		badRequestResponse(w, "invalid driver_id")
		return
	}

	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			badRequestResponse(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	trail, err := h.history.Recent(ctx, driverID, limit)
	if err != nil {
		h.log.Error(ctx, "history lookup failed", err)
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"trail": trail, "count": len(trail)}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// Online reports the current connected-driver headcount.
func (h *Driver) Online(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusOK, envelope{"online": h.pool.OnlineCount()}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}
