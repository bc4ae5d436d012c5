package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v5"

	"github.com/liga-sync/internal/config"
	"github.com/liga-sync/internal/domain"
)

// EventHandler applies one decoded match event
type EventHandler interface {
	ApplyEvent(ctx context.Context, ev domain.MatchEvent) (domain.MatchEvent, error)
}

// Consumer consumes match event envelopes from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       EventHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler EventHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				config:  c.config,
				handler: c.handler,
				logger:  c.logger,
				ready:   c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	config  *config.KafkaConfig
	handler EventHandler
	logger  *slog.Logger
	ready   chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	if h.ready != nil {
		close(h.ready)
	}
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// pending is a consumed message waiting for its batch. ev is nil for messages
// that did not decode.
type pending struct {
	msg *sarama.ConsumerMessage
	ev  domain.MatchEvent
}

// ConsumeClaim applies a partition's events in batches. Messages are keyed by
// match, so a partition carries every event of a match in publish order.
// A message's offset is marked once its event was applied or rejected for
// good. When retries for a transient failure run out the claim ends unmarked
// from that message on, so the group redelivers it.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.config
	batch := make([]pending, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() error {
		for i, p := range batch {
			if p.ev != nil {
				if err := h.apply(session.Context(), p.ev); err != nil {
					h.logger.Error("failed to apply event, leaving offset unmarked",
						"type", p.ev.Type(),
						"match_id", p.ev.EventScope().MatchID,
						"offset", p.msg.Offset,
						"partition", p.msg.Partition,
						"unapplied", len(batch)-i,
						"error", err,
					)
					batch = batch[:0]
					return err
				}
			}
			session.MarkMessage(p.msg, "")
		}
		if len(batch) > 0 {
			h.logger.Debug("applied batch", "batch_size", len(batch))
		}
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-session.Context().Done():
			// Events still batched are redelivered to the next owner
			return nil

		case <-batchTimer.C:
			if err := processBatch(); err != nil {
				return err
			}
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				return processBatch()
			}

			ev, err := domain.DecodeEnvelope(message.Value)
			if err != nil {
				h.logger.Warn("dropping undecodable event",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
			}

			batch = append(batch, pending{msg: message, ev: ev})
			if len(batch) >= cfg.BatchSize {
				if err := processBatch(); err != nil {
					return err
				}
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// apply retries transient failures. Rejected events are logged and count as
// handled.
func (h *consumerGroupHandler) apply(ctx context.Context, ev domain.MatchEvent) error {
	op := func() (struct{}, error) {
		applyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		_, err := h.handler.ApplyEvent(applyCtx, ev)
		if err != nil && domain.IsRejected(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(h.config.RetryDelay)),
		backoff.WithMaxTries(uint(max(h.config.RetryAttempts, 1))),
		backoff.WithNotify(func(err error, next time.Duration) {
			h.logger.Warn("retrying event", "type", ev.Type(), "error", err, "retry_in", next)
		}),
	)
	if err != nil && domain.IsRejected(err) {
		h.logger.Warn("dropping rejected event",
			"type", ev.Type(),
			"match_id", ev.EventScope().MatchID,
			"error", err,
		)
		return nil
	}
	return err
}
