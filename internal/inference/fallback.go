package inference

import (
	"context"
	"fmt"
	"time"

	"gamepilot/internal/logging"
)

// WithFallback races primary against timeout. On timeout, error or panic it
// returns fallback(), which must not fail. primary's context is cancelled
// once the race is decided; a primary that ignores it keeps running and its
// late result is dropped.
func WithFallback[T any](ctx context.Context, primary func(context.Context) (T, error), fallback func() T, timeout time.Duration) T {
	if timeout <= 0 {
		return fallback()
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	ch := make(chan outcome, 1)

	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out.err = fmt.Errorf("primary panicked: %v", r)
			}
			ch <- out
		}()
		out.value, out.err = primary(runCtx)
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			logging.InferenceWarn("primary failed, using fallback: %v", out.err)
			return fallback()
		}
		return out.value
	case <-runCtx.Done():
		logging.InferenceWarn("primary exceeded %v, using fallback", timeout)
		return fallback()
	}
}
