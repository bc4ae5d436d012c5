package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	streadway "github.com/streadway/amqp"

	"github.com/liga-sync/internal/config"
	"github.com/liga-sync/internal/domain"
)

const consumerTag = "liga-sync"

// EventHandler applies one decoded match event
type EventHandler interface {
	ApplyEvent(ctx context.Context, ev domain.MatchEvent) (domain.MatchEvent, error)
}

// Consumer reads match event envelopes from a RabbitMQ queue bound to a topic
// exchange and reconnects with exponential backoff when the broker goes away.
type Consumer struct {
	config  *config.AMQPConfig
	handler EventHandler
	logger  *slog.Logger

	mu   sync.Mutex
	conn *streadway.Connection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a consumer; nothing connects until Start
func NewConsumer(cfg *config.AMQPConfig, handler EventHandler, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:  cfg,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start connects and consumes in the background
func (c *Consumer) Start() error {
	c.logger.Info("starting AMQP consumer",
		"exchange", c.config.Exchange,
		"queue", c.config.Queue,
		"routing_key", c.config.RoutingKey,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	return nil
}

// Stop closes the connection and waits for the consume loop to exit
func (c *Consumer) Stop() error {
	c.logger.Info("stopping AMQP consumer")
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
		if errors.Is(err, streadway.ErrClosed) {
			err = nil
		}
	}
	c.wg.Wait()
	return err
}

func (c *Consumer) run() {
	for c.ctx.Err() == nil {
		deliveries, err := c.connectWithRetry()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Error("AMQP consumer giving up", "error", err)
			}
			return
		}

		c.consume(deliveries)
		if c.ctx.Err() == nil {
			c.logger.Warn("AMQP delivery channel closed, reconnecting")
		}
	}
}

func (c *Consumer) connectWithRetry() (<-chan streadway.Delivery, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialDelay
	b.MaxInterval = c.config.MaxDelay

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("AMQP connect failed", "error", err, "retry_in", next)
		}),
	}
	if c.config.MaxRetries > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(c.config.MaxRetries)))
	}

	return backoff.Retry(c.ctx, c.connect, opts...)
}

func (c *Consumer) connect() (<-chan streadway.Delivery, error) {
	conn, err := streadway.Dial(c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}

	deliveries, err := c.setup(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("AMQP consumer connected", "queue", c.config.Queue)
	return deliveries, nil
}

func (c *Consumer) setup(conn *streadway.Connection) (<-chan streadway.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := ch.Qos(c.config.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("setting QoS: %w", err)
	}

	if err := ch.ExchangeDeclare(
		c.config.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}

	queue, err := ch.QueueDeclare(
		c.config.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declaring queue: %w", err)
	}

	if err := ch.QueueBind(queue.Name, c.config.RoutingKey, c.config.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("binding queue: %w", err)
	}

	deliveries, err := ch.Consume(
		queue.Name,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("starting consume: %w", err)
	}
	return deliveries, nil
}

func (c *Consumer) consume(deliveries <-chan streadway.Delivery) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handle(c.ctx, d)
		}
	}
}

// handle applies one delivery. Undecodable or rejected events are dropped;
// anything else is requeued for another attempt.
func (c *Consumer) handle(ctx context.Context, d streadway.Delivery) {
	ev, err := domain.DecodeEnvelope(d.Body)
	if err != nil {
		c.logger.Warn("dropping undecodable event", "error", err, "delivery_tag", d.DeliveryTag)
		c.settle(d.Nack(false, false))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := c.handler.ApplyEvent(ctx, ev); err != nil {
		if domain.IsRejected(err) {
			c.logger.Warn("dropping rejected event",
				"type", ev.Type(),
				"match_id", ev.EventScope().MatchID,
				"error", err,
			)
			c.settle(d.Nack(false, false))
			return
		}
		c.logger.Error("failed to apply event, requeueing",
			"type", ev.Type(),
			"match_id", ev.EventScope().MatchID,
			"error", err,
		)
		c.settle(d.Nack(false, !d.Redelivered))
		return
	}
	c.settle(d.Ack(false))
}

func (c *Consumer) settle(err error) {
	if err != nil {
		c.logger.Warn("failed to settle delivery", "error", err)
	}
}
