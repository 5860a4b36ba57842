package buffer

import (
	"sync"

	"wristnode/internal/model"
)

// SampleRing is the fixed-capacity FIFO between the sampling side and the
// consolidation loop. Push rejects when full instead of overwriting: silently
// losing the newest not-yet-consolidated samples would corrupt the window, so
// backpressure is surfaced to the producer and handled there.
//
// The critical sections are O(1) index/count updates with no I/O, so the
// producer side can run from a time-critical context without stalling.
type SampleRing struct {
	mu       sync.Mutex
	data     []model.Sample
	head     int // next read (oldest element)
	tail     int // next write
	count    int
	capacity int
}

func NewSampleRing(capacity int) *SampleRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &SampleRing{
		data:     make([]model.Sample, capacity),
		capacity: capacity,
	}
}

// Push appends s as the newest element. Returns false and leaves the buffer
// unchanged when full.
func (r *SampleRing) Push(s model.Sample) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == r.capacity {
		return false
	}
	r.data[r.tail] = s
	r.tail = (r.tail + 1) % r.capacity
	r.count++
	return true
}

// Pop removes and returns the oldest element. Returns false when empty.
func (r *SampleRing) Pop() (model.Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return model.Sample{}, false
	}
	s := r.data[r.head]
	r.head = (r.head + 1) % r.capacity
	r.count--
	return s, true
}

// Peek reads the element at index relative to the oldest without removing it.
// Returns false for an out-of-range index.
func (r *SampleRing) Peek(index int) (model.Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= r.count {
		return model.Sample{}, false
	}
	return r.data[(r.head+index)%r.capacity], true
}

func (r *SampleRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *SampleRing) Cap() int {
	return r.capacity
}

// Clear drops all buffered samples. Used when the device resets its history
// (e.g. after an erase-and-resync).
func (r *SampleRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.tail = 0
	r.count = 0
}
