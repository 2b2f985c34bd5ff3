package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/pkg/logger"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/uuid"
	"github.com/feastlane/dispatch-system/pkg/validator"
)

/*=================Zone Service===========================*/

type ZoneService interface {
	Create(ctx context.Context, zone *models.Zone) error
	Update(ctx context.Context, zone *models.Zone) error
	List() []models.Zone
	Get(zoneID uuid.UUID) (*models.Zone, error)
	NeighborsOf(zoneID uuid.UUID) ([]models.Zone, error)
	StatisticsOf(ctx context.Context, zoneID uuid.UUID) (models.ZoneStatistics, error)
	FindOptimalZone(ctx context.Context, driverLoc models.Location, maxDistanceMeters float64) (*models.Zone, bool)
}

type Zone struct {
	service ZoneService
	log     logger.Logger
}

func NewZone(service ZoneService, log logger.Logger) *Zone {
	return &Zone{
		service: service,
		log:     log,
	}
}

type zoneRequest struct {
	Name              string            `json:"name"`
	Polygon           []models.Location `json:"polygon"`
	Active            *bool             `json:"active,omitempty"`
	Priority          int               `json:"priority,omitempty"`
	TargetDriverCount int               `json:"target_driver_count,omitempty"`
}

func (req *zoneRequest) validate() map[string]string {
	v := validator.New()
	v.Check(req.Name != "", "name", "must be provided")
	v.Check(len(req.Polygon) >= 3, "polygon", "must have at least 3 vertices")
	for _, p := range req.Polygon {
		v.Check(validator.ValidLatitude(p.Latitude), "polygon", "latitude out of range")
		v.Check(validator.ValidLongitude(p.Longitude), "polygon", "longitude out of range")
	}
	v.Check(req.TargetDriverCount >= 0, "target_driver_count", "must not be negative")
	if v.Valid() {
		return nil
	}
	return v.Errors
}

// Create registers a new delivery zone.
func (h *Zone) Create(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "http_zone_create")

	var req zoneRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, err.Error())
		return
	}
	if errs := req.validate(); errs != nil {
		failedValidationResponse(w, errs)
		return
	}

	zone := &models.Zone{
		Name:              req.Name,
		Polygon:           req.Polygon,
		Active:            true,
		Priority:          req.Priority,
		TargetDriverCount: req.TargetDriverCount,
	}
	if req.Active != nil {
		zone.Active = *req.Active
	}

	if err := h.service.Create(ctx, zone); err != nil {
		h.log.Error(ctx, "zone create failed", err)
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	if err := writeJSON(w, http.StatusCreated, envelope{"zone": zone}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// Update modifies a zone's geometry or targets.
func (h *Zone) Update(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "http_zone_update")

	zoneID, err := uuid.Parse(r.PathValue("zone_id"))
	if err != nil {
		badRequestResponse(w, "invalid zone_id")
		return
	}
	ctx = wrap.WithZoneID(ctx, zoneID.String())

	var req zoneRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, err.Error())
		return
	}
	if errs := req.validate(); errs != nil {
		failedValidationResponse(w, errs)
		return
	}

	current, err := h.service.Get(zoneID)
	if err != nil {
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	zone := *current
	zone.Name = req.Name
	zone.Polygon = req.Polygon
	zone.Priority = req.Priority
	zone.TargetDriverCount = req.TargetDriverCount
	if req.Active != nil {
		zone.Active = *req.Active
	}

	if err := h.service.Update(ctx, &zone); err != nil {
		h.log.Error(ctx, "zone update failed", err)
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"zone": zone}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// List returns every zone, active and inactive.
func (h *Zone) List(w http.ResponseWriter, r *http.Request) {
	zones := h.service.List()

	if err := writeJSON(w, http.StatusOK, envelope{"zones": zones, "count": len(zones)}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// Get returns one zone by id.
func (h *Zone) Get(w http.ResponseWriter, r *http.Request) {
	zoneID, err := uuid.Parse(r.PathValue("zone_id"))
	if err != nil {
		badRequestResponse(w, "invalid zone_id")
		return
	}

	zone, err := h.service.Get(zoneID)
	if err != nil {
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"zone": zone}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// Neighbors returns the zones whose polygons touch the given zone.
func (h *Zone) Neighbors(w http.ResponseWriter, r *http.Request) {
	zoneID, err := uuid.Parse(r.PathValue("zone_id"))
	if err != nil {
		badRequestResponse(w, "invalid zone_id")
		return
	}

	neighbors, err := h.service.NeighborsOf(zoneID)
	if err != nil {
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"zones": neighbors, "count": len(neighbors)}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// Statistics returns the zone's cached demand/supply snapshot.
func (h *Zone) Statistics(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "http_zone_statistics")

	zoneID, err := uuid.Parse(r.PathValue("zone_id"))
	if err != nil {
		badRequestResponse(w, "invalid zone_id")
		return
	}

	stats, err := h.service.StatisticsOf(ctx, zoneID)
	if err != nil {
		h.log.Error(ctx, "zone statistics failed", err)
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"statistics": stats}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// Optimal recommends the best zone for an idle driver at ?lat=&lon=,
// searching within ?max_km= (default 10).
func (h *Zone) Optimal(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "http_zone_optimal")

	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || !validator.ValidLatitude(lat) || !validator.ValidLongitude(lon) {
		badRequestResponse(w, "lat and lon query parameters are required")
		return
	}

	maxKm := 10.0
	if raw := q.Get("max_km"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			badRequestResponse(w, "max_km must be a positive number")
			return
		}
		maxKm = parsed
	}

	zone, ok := h.service.FindOptimalZone(ctx, models.Location{Latitude: lat, Longitude: lon}, maxKm*1000)
	if !ok {
		if err := writeJSON(w, http.StatusOK, envelope{"zone": nil}, nil); err != nil {
			internalErrorResponse(w, "the server encountered a problem")
		}
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"zone": zone}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}
