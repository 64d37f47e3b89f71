package cli

import (
	"context"
	"time"
)

// WatchShutdown calls leave when ctx ends and the session has not finished
// within grace. A turn in flight aborts on ctx and lets Run return on its
// own; a pending prompt cannot be interrupted, so leave has to end the
// process after releasing what the session holds.
func WatchShutdown(ctx context.Context, finished <-chan struct{}, grace time.Duration, leave func()) {
	select {
	case <-finished:
		return
	case <-ctx.Done():
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		leave()
	}
}
