package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/framix/framix-worker/internal/domain/entity"
)

type fakeAcknowledger struct {
	acks []uint64
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(uint64, bool, bool) error { return nil }
func (f *fakeAcknowledger) Reject(uint64, bool) error     { return nil }

type fakeDLQ struct {
	bodies  []string
	reasons []string
}

func (f *fakeDLQ) PublishToDLQ(_ context.Context, msg []byte, reason string) error {
	f.bodies = append(f.bodies, string(msg))
	f.reasons = append(f.reasons, reason)
	return nil
}

func newTestConsumer(handler MessageHandler, dlq *fakeDLQ) *Consumer {
	return &Consumer{
		queue:       "video.processing",
		workerCount: 1,
		handler:     handler,
		dlq:         dlq,
		logger:      zap.NewNop(),
	}
}

func delivery(ack *fakeAcknowledger, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  7,
		Body:         []byte(body),
	}
}

func TestProcessDeliveryShutdownDrainsInFlightJob(t *testing.T) {
	ack := &fakeAcknowledger{}
	dlq := &fakeDLQ{}

	var handlerCtxErr error
	c := newTestConsumer(func(ctx context.Context, _ entity.JobMessage) error {
		handlerCtxErr = ctx.Err()
		return nil
	}, dlq)

	// A shutdown signal cancels the loop context while the delivery is
	// already in a worker's hands.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c.processDelivery(ctx, delivery(ack, `{"job_id":1,"source_filename":"test.mp4"}`), zap.NewNop())

	assert.NoError(t, handlerCtxErr, "the in-flight job must not see the shutdown cancellation")
	assert.Equal(t, []uint64{7}, ack.acks)
	assert.Empty(t, dlq.bodies, "a drained job is not a failed job")
}

func TestProcessDeliveryMalformedAckedAndDropped(t *testing.T) {
	ack := &fakeAcknowledger{}
	dlq := &fakeDLQ{}

	handlerCalls := 0
	c := newTestConsumer(func(context.Context, entity.JobMessage) error {
		handlerCalls++
		return nil
	}, dlq)

	for _, body := range []string{`{invalid json`, `{"source_filename":"test.mp4"}`, `{"job_id":3}`} {
		c.processDelivery(context.Background(), delivery(ack, body), zap.NewNop())
	}

	assert.Zero(t, handlerCalls, "malformed messages never reach the pipeline")
	assert.Len(t, ack.acks, 3, "undeliverable input is still acknowledged")
	assert.Empty(t, dlq.bodies, "undeliverable input is dropped, not dead-lettered")
}

func TestProcessDeliveryFailureDeadLettersThenAcks(t *testing.T) {
	ack := &fakeAcknowledger{}
	dlq := &fakeDLQ{}

	c := newTestConsumer(func(context.Context, entity.JobMessage) error {
		return errors.New("storage operation failed (download): no such key")
	}, dlq)

	body := `{"job_id":1,"source_filename":"test.mp4"}`
	c.processDelivery(context.Background(), delivery(ack, body), zap.NewNop())

	require.Len(t, dlq.bodies, 1)
	assert.Equal(t, body, dlq.bodies[0], "DLQ carries the original body")
	assert.Contains(t, dlq.reasons[0], "storage operation failed")
	assert.Equal(t, []uint64{7}, ack.acks, "the message is acked after the attempt")
}

func TestProcessDeliveryPanicIsContained(t *testing.T) {
	ack := &fakeAcknowledger{}
	dlq := &fakeDLQ{}

	c := newTestConsumer(func(context.Context, entity.JobMessage) error {
		panic("nil map write")
	}, dlq)

	require.NotPanics(t, func() {
		c.processDelivery(context.Background(), delivery(ack, `{"job_id":1,"source_filename":"test.mp4"}`), zap.NewNop())
	})

	assert.Equal(t, []uint64{7}, ack.acks, "a panicking job still acks")
	require.Len(t, dlq.reasons, 1)
	assert.Contains(t, dlq.reasons[0], "panic")
}
