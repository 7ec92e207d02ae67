package classradio

import (
	"context"
	"time"
)

// Clock abstracts the monotonic time source used by bounded waits.
type Clock interface {
	Now() time.Time
	// Sleep pauses for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is a Clock backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
