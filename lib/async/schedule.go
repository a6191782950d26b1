package async

import (
	"context"
	"time"
)

// FixedDelay runs fn after initialDelay and then repeatedly, waiting delay
// between the end of one run and the start of the next. Runs never overlap.
// It blocks until ctx is cancelled.
func FixedDelay(ctx context.Context, initialDelay, delay time.Duration, fn func(context.Context)) {
	if fn == nil || delay <= 0 {
		return
	}
	if initialDelay < 0 {
		initialDelay = 0
	}
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		fn(ctx)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(delay)
	}
}
