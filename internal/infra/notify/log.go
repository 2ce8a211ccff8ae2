package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes failure notifications to the service log. It is the
// default channel in environments without an outbound mail relay.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyFailure(_ context.Context, userEmail, sourceFilename, reason string) error {
	n.logger.Info("failure notification",
		zap.String("to", userEmail),
		zap.String("source_filename", sourceFilename),
		zap.String("reason", reason),
	)
	return nil
}
