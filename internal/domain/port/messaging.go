package port

import "context"

// DLQPublisher parks messages whose jobs finished in ERROR so they can be
// inspected or replayed without blocking the work queue.
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}
