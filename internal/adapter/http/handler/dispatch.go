package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/logger"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

/*=================Dispatch Service=======================*/

type DispatchService interface {
	Assign(ctx context.Context, orderID uuid.UUID, strategy types.Strategy) (models.AssignmentResult, error)
	Reassign(ctx context.Context, orderID uuid.UUID, reason string) (models.AssignmentResult, error)
	BatchAssign(ctx context.Context) ([]models.AssignmentResult, error)
	Accept(ctx context.Context, orderID uuid.UUID) error
	PickedUp(ctx context.Context, orderID uuid.UUID) error
	Complete(ctx context.Context, orderID uuid.UUID) error
	RoutePlanFor(ctx context.Context, driverID uuid.UUID) (models.RoutePlan, error)
	MetricsFor(ctx context.Context, day time.Time) (models.AssignmentMetrics, error)
	WaitingOrders() []uuid.UUID
}

type Dispatch struct {
	service DispatchService
	log     logger.Logger
}

func NewDispatch(service DispatchService, log logger.Logger) *Dispatch {
	return &Dispatch{
		service: service,
		log:     log,
	}
}

type assignRequest struct {
	Strategy string `json:"strategy,omitempty"`
}

type reassignRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Assign matches one order to a driver using the requested strategy.
func (h *Dispatch) Assign(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "http_assign_order")

	orderID, err := uuid.Parse(r.PathValue("order_id"))
	if err != nil {
		badRequestResponse(w, "invalid order_id")
		return
	}

	var req assignRequest
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			badRequestResponse(w, err.Error())
			return
		}
	}

	strategy, err := types.ParseStrategy(req.Strategy)
	if err != nil {
		badRequestResponse(w, err.Error())
		return
	}

	result, err := h.service.Assign(ctx, orderID, strategy)
	if err != nil {
		h.log.Error(ctx, "assign failed", err)
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	status := http.StatusOK
	if !result.Success {
		// The caller gets the structured reason either way.
		status = http.StatusConflict
	}
	if err := writeJSON(w, status, envelope{"result": result}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// Reassign cancels the order's current assignment and retries with the
// previous driver excluded.
func (h *Dispatch) Reassign(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "http_reassign_order")

	orderID, err := uuid.Parse(r.PathValue("order_id"))
	if err != nil {
		badRequestResponse(w, "invalid order_id")
		return
	}

	var req reassignRequest
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			badRequestResponse(w, err.Error())
			return
		}
	}

	result, err := h.service.Reassign(ctx, orderID, req.Reason)
	if err != nil {
		h.log.Error(ctx, "reassign failed", err)
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"result": result}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// BatchAssign drains the unassigned backlog through pickup clustering.
func (h *Dispatch) BatchAssign(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "http_batch_assign")

	results, err := h.service.BatchAssign(ctx)
	if err != nil {
		h.log.Error(ctx, "batch assign failed", err)
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"results": results, "count": len(results)}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// Accept marks the order's pending assignment accepted by the driver.
func (h *Dispatch) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "http_accept_assignment", h.service.Accept)
}

// PickedUp records that the driver collected the order.
func (h *Dispatch) PickedUp(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "http_order_picked_up", h.service.PickedUp)
}

// Complete finishes a delivery.
func (h *Dispatch) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "http_order_complete", h.service.Complete)
}

func (h *Dispatch) transition(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, uuid.UUID) error) {
	ctx := wrap.WithAction(r.Context(), action)

	orderID, err := uuid.Parse(r.PathValue("order_id"))
	if err != nil {
		badRequestResponse(w, "invalid order_id")
		return
	}

	if err := fn(ctx, orderID); err != nil {
		h.log.Error(ctx, "order transition failed", err)
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"order_id": orderID, "ok": true}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// RoutePlan returns the optimized stop sequence for a driver's active orders.
func (h *Dispatch) RoutePlan(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "http_route_plan")

	driverID, err := uuid.Parse(r.PathValue("driver_id"))
	if err != nil {
		badRequestResponse(w, "invalid driver_id")
		return
	}

	plan, err := h.service.RoutePlanFor(ctx, driverID)
	if err != nil {
		h.log.Error(ctx, "route plan failed", err)
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	if err := writeJSON(w, http.StatusOK, envelope{"plan": plan}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// Metrics returns the aggregated assignment counters for one day.
// Defaults to today; override with ?day=2026-08-28.
func (h *Dispatch) Metrics(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "http_assignment_metrics")

	day := time.Now()
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			badRequestResponse(w, "day must be formatted as 2006-01-02")
			return
		}
		day = parsed
	}

	m, err := h.service.MetricsFor(ctx, day)
	if err != nil {
		h.log.Error(ctx, "metrics lookup failed", err)
		errorResponse(w, GetCode(err), err.Error())
		return
	}

	response := envelope{
		"day":                    m.Day.Format("2006-01-02"),
		"total_assignments":      m.TotalAssignments,
		"successful_assignments": m.SuccessfulAssignments,
	}
	if m.TotalAssignments > 0 {
		response["success_rate"] = float64(m.SuccessfulAssignments) / float64(m.TotalAssignments)
		response["avg_latency_ms"] = m.CumulativeLatencyMS / int64(m.TotalAssignments)
	}

	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}

// Waiting lists orders parked in the retry backlog.
func (h *Dispatch) Waiting(w http.ResponseWriter, r *http.Request) {
	waiting := h.service.WaitingOrders()

	if err := writeJSON(w, http.StatusOK, envelope{"orders": waiting, "count": len(waiting)}, nil); err != nil {
		internalErrorResponse(w, "the server encountered a problem")
	}
}
