package frame

import (
	"strconv"
	"sync/atomic"
	"time"
)

// IDGenerator produces correlation ids of the form msg_<epoch ms>_<counter>.
// The counter is monotonic per generator, so ids never repeat within one
// channel even when the clock stalls or goes backwards.
type IDGenerator struct {
	counter atomic.Uint64
	now     func() time.Time
}

// NewIDGenerator creates a generator backed by the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns a fresh id.
func (g *IDGenerator) Next() string {
	n := g.counter.Add(1)
	return "msg_" + strconv.FormatInt(g.now().UnixMilli(), 10) + "_" + strconv.FormatUint(n, 10)
}
