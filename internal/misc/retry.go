package misc

import (
	"context"
	"time"
)

// StartupBackoff paces the first database ping.
var StartupBackoff = ExpBackoff(time.Second, 3, 3)

// LoginBackoff paces password login attempts against the homeserver.
var LoginBackoff = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	5 * time.Second,
}

// ExpBackoff returns n delays starting at base and growing by factor.
func ExpBackoff(base time.Duration, factor float64, n int) []time.Duration {
	if n <= 0 || base <= 0 {
		return nil
	}
	if factor < 1 {
		factor = 1
	}
	out := make([]time.Duration, n)
	d := float64(base)
	for i := range out {
		out[i] = time.Duration(d)
		d *= factor
	}
	return out
}

// Retry runs op until it succeeds, returns a non-retryable error, or runs out
// of delays. It gives up early when ctx is done.
func Retry(ctx context.Context, delays []time.Duration, isRetryable func(error) bool, op func() error) error {
	var err error
	for i := 0; ; i++ {
		if err = op(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if i >= len(delays) || !isRetryable(err) {
			return err
		}
		t := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
