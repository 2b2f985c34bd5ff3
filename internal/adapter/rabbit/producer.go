package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/logger"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/metrics"
	"github.com/feastlane/dispatch-system/pkg/rabbit"
	"github.com/rabbitmq/amqp091-go"
)

const (
	DispatchExchange = "dispatch_topic"

	keyNotification   = "dispatch.notification.%s" // per recipient channel
	keyZoneSurge      = "dispatch.zone.surge"
	keyZoneTransition = "dispatch.zone.transition"
)

// DispatchProducer publishes dispatch events for the notification and
// analytics services.
type DispatchProducer struct {
	client   *rabbit.RabbitMQ
	exchange string

	l logger.Logger
}

func NewDispatchProducer(client *rabbit.RabbitMQ, log logger.Logger) *DispatchProducer {
	return &DispatchProducer{
		client:   client,
		exchange: DispatchExchange,

		l: log,
	}
}

// PublishNotification routes a message toward one driver, customer or
// merchant. Routing key carries the channel: dispatch.notification.driver etc.
func (p *DispatchProducer) PublishNotification(ctx context.Context, msg models.NotificationMessage) error {
	ctx = wrap.WithAction(ctx, "rabbitmq_publish_notification")
	key := fmt.Sprintf(keyNotification, msg.Channel)
	return p.publish(ctx, key, msg)
}

// PublishSurge announces a zone whose suggested surge crossed the
// notification threshold.
func (p *DispatchProducer) PublishSurge(ctx context.Context, msg models.SurgeNotification) error {
	ctx = wrap.WithAction(wrap.WithZoneID(ctx, msg.ZoneID.String()), "rabbitmq_publish_surge")
	return p.publish(ctx, keyZoneSurge, msg)
}

// PublishZoneTransition records a driver crossing a zone boundary.
func (p *DispatchProducer) PublishZoneTransition(ctx context.Context, msg models.ZoneTransitionMessage) error {
	ctx = wrap.WithAction(wrap.WithDriverID(ctx, msg.DriverID.String()), "rabbitmq_publish_zone_transition")
	return p.publish(ctx, keyZoneTransition, msg)
}

func (p *DispatchProducer) publish(ctx context.Context, key string, msg any) (err error) {
	defer func() { metrics.RecordRabbitMQPublish(string(types.DispatchService), key, err) }()

	if err = p.client.EnsureConnection(ctx); err != nil {
		p.l.Error(ctx, "ensure connection failed", err)
		return wrap.Error(ctx, err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to marshal message: %w", err))
	}

	if err = retry(5, time.Second, func() error {
		return p.client.Channel.PublishWithContext(
			ctx,
			p.exchange,
			key,
			false, // mandatory
			false, // immediate
			amqp091.Publishing{
				ContentType:   "application/json",
				CorrelationId: wrap.GetRequestID(ctx),
				Body:          body,
				Timestamp:     time.Now(),
			},
		)
	}); err != nil {
		return wrap.Error(ctx, fmt.Errorf("failed to publish with context: %w", err))
	}

	return nil
}
