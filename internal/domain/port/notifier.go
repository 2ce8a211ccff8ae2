package port

import "context"

type FailureNotifier interface {
	NotifyFailure(ctx context.Context, userEmail string, sourceFilename string, reason string) error
}
