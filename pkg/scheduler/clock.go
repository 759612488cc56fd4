package scheduler

import "time"

// Clock is a free-running 32-bit millisecond tick counter. It wraps after
// about 49.7 days; compare values with channel.TicksDiff only.
type Clock interface {
	NowMs() uint32
}

// SystemClock counts milliseconds since it was created.
type SystemClock struct {
	start time.Time
}

var _ Clock = (*SystemClock)(nil)

// NewSystemClock starts a clock at zero.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) NowMs() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}
