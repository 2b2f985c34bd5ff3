package tracking

import (
	"context"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/geo"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/metrics"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

// checkGeofences advances deliveries when the driver's live position enters
// the radius around the next stop. Transitions fire on distance alone and
// never roll back when the driver drifts out again: assigned -> at_pickup
// at the pickup point, in_transit -> at_delivery at the dropoff.
func (s *Service) checkGeofences(ctx context.Context, upd models.LocationUpdate) {
	orders, err := s.repos.order.ActiveByDriver(ctx, upd.DriverID)
	if err != nil {
		s.l.Warn(ctx, "failed to load active deliveries for geofence check", "driver_id", upd.DriverID.String(), "error", err)
		return
	}

	for _, order := range orders {
		switch order.Status {
		case types.DeliveryAssigned:
			if s.within(upd, order.Pickup) {
				s.transition(ctx, order, types.DeliveryAtPickup, "arrived_at_pickup",
					types.ChannelCustomer, types.ChannelMerchant)
			}
		case types.DeliveryInTransit:
			if s.within(upd, order.Dropoff) {
				s.transition(ctx, order, types.DeliveryAtDropoff, "arrived_at_delivery",
					types.ChannelCustomer)
			}
		}
	}
}

func (s *Service) within(upd models.LocationUpdate, target models.Location) bool {
	d := geo.HaversineMeters(upd.Latitude, upd.Longitude, target.Latitude, target.Longitude)
	return d <= s.cfg.GeofenceRadiusM
}

func (s *Service) transition(ctx context.Context, order models.Order, to types.DeliveryStatus, kind string, channels ...types.Channel) {
	ctx = wrap.WithOrderID(wrap.WithAction(ctx, types.ActionGeofenceEvent), order.ID.String())

	if err := s.repos.order.SetStatus(ctx, order.ID, to); err != nil {
		s.l.Error(ctx, "failed to apply geofence transition", err, "to", to.String())
		return
	}

	metrics.GeofenceEventsTotal.WithLabelValues(string(types.DispatchService), to.String()).Inc()
	s.l.Info(ctx, "geofence transition", "to", to.String())

	for _, ch := range channels {
		recipient := order.CustomerID
		if ch == types.ChannelMerchant {
			recipient = order.MerchantID
		}
		s.notify(ctx, ch, recipient, kind, order.ID)
	}
}

func (s *Service) notify(ctx context.Context, channel types.Channel, recipient uuid.UUID, kind string, orderID uuid.UUID) {
	msg := models.NotificationMessage{
		Channel:     channel,
		RecipientID: recipient,
		Kind:        kind,
		Payload:     map[string]string{"order_id": orderID.String()},
		Timestamp:   time.Now(),
	}
	if err := s.publisher.PublishNotification(ctx, msg); err != nil {
		s.l.Warn(ctx, "failed to publish arrival notification", "channel", string(channel), "error", err)
	}
}
