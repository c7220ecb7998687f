package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/puzzle-records/internal/config"
	"github.com/puzzle-records/internal/domain"
	"github.com/puzzle-records/internal/metrics"
)

// Submitter judges record submissions
type Submitter interface {
	Submit(ctx context.Context, sub domain.Submission) (domain.Result, error)
}

// Consumer feeds record submissions from Kafka into the submit pipeline
type Consumer struct {
	config        *config.KafkaConfig
	submitter     Submitter
	metrics       *metrics.Metrics
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	sleep         func(context.Context, time.Duration) error
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, submitter Submitter, m *metrics.Metrics, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	c := newConsumer(cfg, submitter, m, logger)
	c.consumerGroup = consumerGroup
	return c, nil
}

func newConsumer(cfg *config.KafkaConfig, submitter Submitter, m *metrics.Metrics, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:    cfg,
		submitter: submitter,
		metrics:   m,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		sleep:     sleepContext,
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	// Each session closes its own channel; Start waits on the first.
	ready := make(chan bool)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		session := ready
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    session,
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

			session = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

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

func (c *Consumer) count(result string) {
	if c.metrics != nil {
		c.metrics.KafkaMessages.WithLabelValues(result).Inc()
	}
}

// decode parses one message. Malformed messages are counted and dropped.
func (c *Consumer) decode(msg *sarama.ConsumerMessage) (domain.Submission, bool) {
	var sub domain.Submission
	if err := json.Unmarshal(msg.Value, &sub); err != nil {
		c.count(metrics.OutcomeInvalid)
		c.logger.Warn("failed to unmarshal message",
			"error", err,
			"offset", msg.Offset,
			"partition", msg.Partition,
		)
		return sub, false
	}
	return sub, true
}

// processBatch submits every queued submission in order. Store failures are
// retried; client errors and rejections are final.
func (c *Consumer) processBatch(ctx context.Context, batch []domain.Submission) {
	for _, sub := range batch {
		c.processOne(ctx, sub)
	}
	c.logger.Debug("processed batch", "batch_size", len(batch))
}

func (c *Consumer) processOne(ctx context.Context, sub domain.Submission) {
	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var res domain.Result
		res, err = c.submitter.Submit(ctx, sub)
		switch {
		case err == nil && res.IsVerified:
			c.count(metrics.OutcomeVerified)
			return
		case err == nil:
			c.count(metrics.OutcomeRejected)
			return
		case domain.IsClientError(err):
			c.count(metrics.OutcomeInvalid)
			c.logger.Warn("invalid record submission",
				"game", sub.GameName,
				"level", sub.Level,
				"user", sub.UserID,
				"error", err,
			)
			return
		}

		if attempt < attempts {
			if c.sleep(ctx, c.config.RetryDelay) != nil {
				break
			}
		}
	}

	c.count(metrics.OutcomeError)
	c.logger.Error("failed to submit record",
		"game", sub.GameName,
		"level", sub.Level,
		"user", sub.UserID,
		"attempts", attempts,
		"error", err,
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Offsets are marked
// once the batch holding them has been submitted.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]domain.Submission, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		if len(batch) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			h.consumer.processBatch(ctx, batch)
			cancel()
			batch = batch[:0]
		}
		if last != nil {
			session.MarkMessage(last, "")
			last = nil
		}
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}

			last = message
			sub, ok := h.consumer.decode(message)
			if !ok {
				continue
			}
			batch = append(batch, sub)

			if len(batch) >= cfg.BatchSize {
				flush()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
