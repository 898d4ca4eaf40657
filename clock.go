package waldb

import (
	"sync"
	"time"
)

// Clock supplies the current time as microseconds since the Unix epoch. It
// is injected into the coordinator and segment writer so that recovery and
// mutation timestamps are deterministic in tests; production code uses
// systemClock via Open's default Config.
type Clock interface {
	NowMicro() uint64
}

// systemClock is the default Clock, backed by the wall clock.
type systemClock struct{}

func (systemClock) NowMicro() uint64 {
	return uint64(time.Now().UnixMicro())
}

// fixedClock is a deterministic Clock for tests: each call to NowMicro
// returns the configured value plus a strictly increasing counter, so
// successive calls within the same test never collide but stay
// reproducible across runs.
type fixedClock struct {
	mu      sync.Mutex
	next    uint64
	advance uint64
}

// newFixedClock returns a Clock that starts at start and advances by step
// (default 1, if step is 0) on every call.
func newFixedClock(start, step uint64) *fixedClock {
	if step == 0 {
		step = 1
	}
	return &fixedClock{next: start, advance: step}
}

func (c *fixedClock) NowMicro() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.next
	c.next += c.advance
	return ts
}
