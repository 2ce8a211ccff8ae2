package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/framix/framix-worker/internal/domain/entity"
	"github.com/framix/framix-worker/internal/domain/port"
)

type MessageHandler func(ctx context.Context, msg entity.JobMessage) error

type Consumer struct {
	channel     *amqp.Channel
	queue       string
	consumerTag string
	workerCount int
	handler     MessageHandler
	dlq         port.DLQPublisher
	onReady     func()
	logger      *zap.Logger
	wg          sync.WaitGroup
}

type ConsumerConfig struct {
	Queue       string
	DLQ         string
	Prefetch    int
	WorkerCount int
	// OnReady fires once the delivery stream is open and workers are
	// about to start, for readiness reporting.
	OnReady func()
}

func NewConsumer(conn *amqp.Connection, cfg ConsumerConfig, handler MessageHandler, dlq port.DLQPublisher, logger *zap.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	for _, q := range []string{cfg.Queue, cfg.DLQ} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("declare queue %s: %w", q, err)
		}
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &Consumer{
		channel:     ch,
		queue:       cfg.Queue,
		consumerTag: "framix-worker-" + uuid.NewString()[:8],
		workerCount: cfg.WorkerCount,
		handler:     handler,
		dlq:         dlq,
		onReady:     cfg.OnReady,
		logger:      logger,
	}, nil
}

// Start consumes until ctx is cancelled. It returns an error if the broker
// closes the delivery stream first, so the caller can decide to restart.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.ConsumeWithContext(
		ctx,
		c.queue,
		c.consumerTag,
		false, // autoAck=false
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info("starting worker pool",
		zap.Int("workers", c.workerCount),
		zap.String("queue", c.queue),
		zap.String("consumer_tag", c.consumerTag),
	)

	if c.onReady != nil {
		c.onReady()
	}

	for i := 0; i < c.workerCount; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, deliveries)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		c.logger.Info("context cancelled, waiting for workers to finish")
		<-done
		return nil
	case <-done:
		if ctx.Err() != nil {
			return nil
		}
		return errors.New("delivery channel closed by broker")
	}
}

func (c *Consumer) worker(ctx context.Context, id int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := c.logger.With(zap.Int("worker_id", id))
	log.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Info("delivery channel closed")
				return
			}
			c.processDelivery(ctx, d, log)
		}
	}
}

// processDelivery acknowledges the message after the pipeline returns,
// success or failure: the broker contract is delivered-and-attempted.
// Failed jobs are parked on the DLQ; malformed payloads are dropped.
func (c *Consumer) processDelivery(ctx context.Context, d amqp.Delivery, log *zap.Logger) {
	// The delivery in flight finishes even when the worker is shutting
	// down: a shutdown must drain the current job, not fail it. The
	// pipeline's per-stage timeouts still bound every external call.
	jobCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", zap.Any("panic", r))
			c.deadLetter(jobCtx, d.Body, fmt.Sprintf("panic: %v", r))
		}
		if err := d.Ack(false); err != nil {
			log.Error("ack failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
		}
	}()

	var msg entity.JobMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		log.Warn("dropping malformed message", zap.Error(err))
		return
	}
	if err := msg.Validate(); err != nil {
		log.Warn("dropping malformed message", zap.Error(err))
		return
	}

	if err := c.handler(jobCtx, msg); err != nil {
		log.Error("job processing failed",
			zap.Int64("job_id", msg.JobID),
			zap.Error(err),
		)
		c.deadLetter(jobCtx, d.Body, err.Error())
	}
}

func (c *Consumer) deadLetter(ctx context.Context, body []byte, reason string) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.PublishToDLQ(ctx, body, reason); err != nil {
		c.logger.Error("dead-letter publish failed", zap.Error(err))
	}
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}
