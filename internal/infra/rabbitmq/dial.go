package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const dialRetryInterval = 5 * time.Second

// Dial blocks until the broker accepts a connection, retrying forever at a
// fixed interval. This is the only infinite-retry point in the worker: with
// no broker there is no other work to do. Cancelling ctx stops the loop.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*amqp.Connection, error) {
	for {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("rabbitmq unavailable, retrying",
			zap.Duration("retry_in", dialRetryInterval),
			zap.Error(err),
		)
		select {
		case <-time.After(dialRetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
