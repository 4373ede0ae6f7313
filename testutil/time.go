package testutil

import (
	"time"

	"github.com/raulk/clock"
)

// KnownTime is a fixed instant used wherever tests need a stable "now".
var KnownTime = time.Unix(1601378000, 0).UTC()

func KnownTimeNow() time.Time {
	return KnownTime
}

// NewMockClock returns a mock clock set to KnownTime.
func NewMockClock() *clock.Mock {
	clk := clock.NewMock()
	clk.Set(KnownTime)
	return clk
}
