package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tcassar-diss/retsnoop/bpf"
	"go.uber.org/zap"
)

// DefaultPollTimeout bounds how long a cancelled run waits to notice.
const DefaultPollTimeout = 100 * time.Millisecond

// Run polls src until ctx is cancelled or src runs out. Cancellation takes
// effect between polls, so an event is never half printed.
func Run(ctx context.Context, logger *zap.SugaredLogger, src bpf.Source, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	logger.Infow("waiting for events")

	for {
		select {
		case <-ctx.Done():
			logger.Infow("stopping: context cancelled")
			return nil
		default:
		}

		_, err := src.Poll(timeout)
		if errors.Is(err, bpf.ErrSourceClosed) || errors.Is(err, io.EOF) {
			logger.Infow("event source exhausted")
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to poll events: %w", err)
		}
	}
}
