// Package clock provides the node's wall-clock reference: milliseconds since
// process start until a TIME sync from the companion anchors it to the epoch.
package clock

import (
	"sync"
	"time"
)

type Clock struct {
	mu      sync.Mutex
	start   time.Time
	epochMS int64 // epoch milliseconds at start, once synced
	synced  bool
}

func New() *Clock {
	return &Clock{start: time.Now()}
}

// SetEpoch anchors the clock to epoch seconds supplied by the peer.
func (c *Clock) SetEpoch(epochSeconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochMS = epochSeconds*1000 - time.Since(c.start).Milliseconds()
	c.synced = true
}

// NowMillis returns the current timestamp in the node's clock domain. The
// value is truncated to 32 bits to match the sample/record wire format.
func (c *Clock) NowMillis() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := time.Since(c.start).Milliseconds()
	if c.synced {
		ms += c.epochMS
	}
	return uint32(ms)
}

func (c *Clock) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}
