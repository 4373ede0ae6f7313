package wait

import (
	"context"
	"math/rand"
	"time"

	"github.com/raulk/clock"
)

// A CheckFunc returns true when the check has been passed and false if it has not.
type CheckFunc func(context.Context) (bool, error)

// RepeatUntil runs c every period, measured on clk, until the context is done, c returns an error or c returns true
// to indicate completion. The first run happens immediately. Runs do not overlap: if c takes longer than period the
// next run starts as soon as it returns.
func RepeatUntil(ctx context.Context, clk clock.Clock, period time.Duration, c CheckFunc) error {
	ticker := clk.Ticker(period)
	defer ticker.Stop()

	for {
		done, err := c(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sleep waits for d on clk or until the context is done, whichever comes first.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Jitter returns a random duration ranging from base to base+base*factor
func Jitter(base time.Duration, factor float64) time.Duration {
	//nolint:gosec
	return base + time.Duration(float64(base)*factor*rand.Float64())
}
