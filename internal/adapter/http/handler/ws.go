package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/logger"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/metrics"
	"github.com/feastlane/dispatch-system/pkg/uuid"
	ws "github.com/feastlane/dispatch-system/pkg/wsHub"
	"github.com/gorilla/websocket"
)

/*=================Driver Pool============================*/

type DriverSessionService interface {
	Connect(ctx context.Context, driverID uuid.UUID) error
	Disconnect(ctx context.Context, driverID uuid.UUID) error
	SetStatus(ctx context.Context, driverID uuid.UUID, status types.DriverStatus) error
}

/*=================Tracking===============================*/

type TrackingService interface {
	Ingest(ctx context.Context, upd models.LocationUpdate)
	Subscribe(ctx context.Context, userID, orderID uuid.UUID) error
	Unsubscribe(userID uuid.UUID)
}

// WS owns both realtime surfaces: the driver state feed and the order
// subscriber feed. Outbound pushes go through the shared connection hub.
type WS struct {
	hub      *ws.ConnectionHub
	sessions DriverSessionService
	tracking TrackingService
	log      logger.Logger

	upgrader websocket.Upgrader
}

func NewWS(hub *ws.ConnectionHub, sessions DriverSessionService, tracking TrackingService, log logger.Logger) *WS {
	return &WS{
		hub:      hub,
		sessions: sessions,
		tracking: tracking,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dispatch surface sits behind the gateway, which owns
			// origin checks.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// driverFrame is one inbound message on the driver feed.
type driverFrame struct {
	Type string `json:"type"`

	// type == "location"
	Latitude       float64    `json:"latitude,omitempty"`
	Longitude      float64    `json:"longitude,omitempty"`
	HeadingDegrees float64    `json:"heading_degrees,omitempty"`
	SpeedKmh       float64    `json:"speed_kmh,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`

	// type == "status"
	Status string `json:"status,omitempty"`
}

// DriverFeed is the driver's persistent connection: connecting registers
// the driver in the pool, frames stream location and status changes, and
// closing the socket takes the driver offline.
func (h *WS) DriverFeed(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "ws_driver_feed")

	driverID, err := uuid.Parse(r.PathValue("driver_id"))
	if err != nil {
		badRequestResponse(w, "invalid driver_id")
		return
	}
	ctx = wrap.WithDriverID(ctx, driverID.String())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(ctx, "websocket upgrade failed", err)
		return
	}

	if err := h.sessions.Connect(ctx, driverID); err != nil {
		h.log.Error(ctx, "driver connect rejected", err)
		_ = conn.WriteJSON(envelope{"error": err.Error()})
		_ = conn.Close()
		return
	}

	wsConn := ws.NewConn(ctx, driverID, conn)
	if err := h.hub.Add(wsConn); err != nil {
		h.log.Error(ctx, "failed to register driver connection", err)
		_ = h.sessions.Disconnect(ctx, driverID)
		_ = conn.Close()
		return
	}

	service := string(types.DispatchService)
	metrics.WebSocketConnectionsGauge.WithLabelValues(service).Inc()
	defer func() {
		metrics.WebSocketConnectionsGauge.WithLabelValues(service).Dec()
		_ = h.hub.Delete(driverID)
		if err := h.sessions.Disconnect(ctx, driverID); err != nil {
			h.log.Warn(ctx, "driver disconnect cleanup failed", "error", err)
		}
	}()

	h.log.Info(ctx, "driver connected")

	err = wsConn.Listen(func(msg []byte) error {
		h.handleDriverFrame(ctx, driverID, msg)
		return nil
	})
	if err != nil {
		h.log.Debug(ctx, "driver feed closed", "reason", err.Error())
	}
}

func (h *WS) handleDriverFrame(ctx context.Context, driverID uuid.UUID, msg []byte) {
	var frame driverFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		h.log.Debug(ctx, "dropping malformed driver frame", "error", err)
		return
	}

	switch frame.Type {
	case "location":
		upd := models.LocationUpdate{
			DriverID:       driverID,
			Latitude:       frame.Latitude,
			Longitude:      frame.Longitude,
			HeadingDegrees: frame.HeadingDegrees,
			SpeedKmh:       frame.SpeedKmh,
		}
		if frame.Timestamp != nil {
			upd.Timestamp = *frame.Timestamp
		}
		h.tracking.Ingest(ctx, upd)

	case "status":
		if err := h.sessions.SetStatus(ctx, driverID, types.DriverStatus(frame.Status)); err != nil {
			h.log.Warn(ctx, "status change rejected", "status", frame.Status, "error", err)
		}

	default:
		h.log.Debug(ctx, "dropping unknown driver frame", "type", frame.Type)
	}
}

// OrderFeed streams tracking snapshots for one order to its customer or
// merchant. The subscriber identifies itself with ?user_id=.
func (h *WS) OrderFeed(w http.ResponseWriter, r *http.Request) {
	ctx := wrap.WithAction(r.Context(), "ws_order_feed")

	orderID, err := uuid.Parse(r.PathValue("order_id"))
	if err != nil {
		badRequestResponse(w, "invalid order_id")
		return
	}
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		badRequestResponse(w, "user_id query parameter is required")
		return
	}
	ctx = wrap.WithOrderID(ctx, orderID.String())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(ctx, "websocket upgrade failed", err)
		return
	}

	wsConn := ws.NewConn(ctx, userID, conn)
	if err := h.hub.Add(wsConn); err != nil {
		h.log.Error(ctx, "failed to register subscriber connection", err)
		_ = conn.Close()
		return
	}

	if err := h.tracking.Subscribe(ctx, userID, orderID); err != nil {
		_ = wsConn.Send(envelope{"error": err.Error()})
		_ = h.hub.Delete(userID)
		return
	}

	service := string(types.DispatchService)
	metrics.WebSocketConnectionsGauge.WithLabelValues(service).Inc()
	defer func() {
		metrics.WebSocketConnectionsGauge.WithLabelValues(service).Dec()
		h.tracking.Unsubscribe(userID)
		_ = h.hub.Delete(userID)
	}()

	h.log.Info(ctx, "subscriber connected", "user_id", userID.String())

	// Subscribers only listen; inbound frames are ignored.
	err = wsConn.Listen(func(msg []byte) error { return nil })
	if err != nil {
		h.log.Debug(ctx, "order feed closed", "reason", err.Error())
	}
}
