package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/models"
	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/logger"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/metrics"
	"github.com/feastlane/dispatch-system/pkg/rabbit"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	OrderExchange     = "order_topic"
	QueueOrderCreated = "dispatch_order_created"
	bindOrderCreated  = "order.created"
)

// OrderConsumer feeds freshly created orders into the assignment engine.
type OrderConsumer struct {
	client *rabbit.RabbitMQ
	l      logger.Logger
}

func NewOrderConsumer(client *rabbit.RabbitMQ, l logger.Logger) *OrderConsumer {
	return &OrderConsumer{client: client, l: l}
}

type OrderCreatedHandler func(ctx context.Context, msg models.OrderCreatedMessage) error

func (c *OrderConsumer) declareAndBindQueue(ctx context.Context, queueName, bindingKey, exchangeName string) (amqp.Queue, error) {
	const op = "OrderConsumer.declareAndBindQueue"

	q, err := c.client.Channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return q, wrap.Error(ctx, fmt.Errorf("%s: declare queue failed: %w", op, err))
	}

	if err := c.client.Channel.QueueBind(q.Name, bindingKey, exchangeName, false, nil); err != nil {
		return q, wrap.Error(ctx, fmt.Errorf("%s: bind queue failed: %w", op, err))
	}

	return q, nil
}

func (c *OrderConsumer) handleMessage(ctx context.Context, fn OrderCreatedHandler, msg amqp.Delivery) {
	const op = "OrderConsumer.handleMessage"

	var req models.OrderCreatedMessage
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		c.l.Error(ctx, "decode failed", err, "op", op)
		metrics.RecordRabbitMQConsume(string(types.DispatchService), QueueOrderCreated, err)
		_ = msg.Nack(false, false)
		return
	}

	ctx = wrap.WithRequestID(wrap.WithOrderID(ctx, req.OrderID.String()), msg.CorrelationId)

	err := fn(ctx, req)
	metrics.RecordRabbitMQConsume(string(types.DispatchService), QueueOrderCreated, err)
	if err != nil {
		c.l.Error(ctx, "handler failed", err, "op", op)

		// A stale or double-delivered order is dropped, not retried.
		if errors.Is(err, types.ErrOrderNotFound) || errors.Is(err, types.ErrOrderAlreadyAssigned) {
			c.l.Warn(ctx, "dropping message", "reason", err.Error())
			_ = msg.Reject(false)
			return
		}

		if isRecoverableError(err) {
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Nack(false, false)
		return
	}

	if err := msg.Ack(false); err != nil {
		c.l.Warn(ctx, "ack failed", "error", err, "op", op)
	}
}

// ConsumeOrderCreated listens for order.created events and hands them to fn.
// Blocks until ctx is cancelled; reconnects on broker failures.
func (c *OrderConsumer) ConsumeOrderCreated(ctx context.Context, fn OrderCreatedHandler) error {
	const op = "OrderConsumer.ConsumeOrderCreated"

	for {
		if ctx.Err() != nil {
			c.l.Debug(ctx, "consume order created stopped by context")
			return nil
		}

		if err := c.client.EnsureConnection(ctx); err != nil {
			c.l.Error(ctx, "ensure connection failed", err, "op", op)
			time.Sleep(2 * time.Second)
			continue
		}

		if err := c.client.Channel.ExchangeDeclare(OrderExchange, "topic", true, false, false, false, nil); err != nil {
			c.l.Error(ctx, "declare exchange failed", err, "op", op)
			time.Sleep(3 * time.Second)
			continue
		}

		q, err := c.declareAndBindQueue(ctx, QueueOrderCreated, bindOrderCreated, OrderExchange)
		if err != nil {
			c.l.Error(ctx, "declare queue failed", err, "op", op)
			time.Sleep(2 * time.Second)
			continue
		}

		msgs, err := c.client.Channel.Consume(q.Name, "", false, false, false, false, nil)
		if err != nil {
			c.l.Error(ctx, "consume failed", err, "op", op)
			time.Sleep(2 * time.Second)
			continue
		}

		c.l.Info(ctx, "start consuming created orders", "queue", q.Name)

	consumeLoop:
		for {
			select {
			case <-ctx.Done():
				c.l.Info(ctx, "order created consumer shutting down", "op", op)
				return nil

			case msg, ok := <-msgs:
				if !ok {
					c.l.Warn(ctx, "message channel closed, reconnecting...", "op", op)
					time.Sleep(2 * time.Second)
					continue consumeLoop
				}

				go c.handleMessage(ctx, fn, msg)
			}
		}
	}
}
