package workerpool

import (
	"context"
	"time"

	"github.com/tilinna/clock"
)

// after and now go through tilinna/clock's context-carried clock so
// tests can install a mock clock with clock.Context and fast-forward
// through the 10s worker-ready timeout and the 30s task timeout
// without real sleeps; production code simply never installs one and
// gets the real wall clock.
func after(ctx context.Context, d time.Duration) <-chan time.Time {
	return clock.After(ctx, d)
}

func now(ctx context.Context) time.Time {
	return clock.Now(ctx)
}
