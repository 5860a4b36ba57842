package buffer

import "sync"

// PageRing buffers raw acquisition pages between the ingest link and the
// decode worker. Unlike SampleRing it overwrites the oldest page when full:
// at this level pure throughput matters more than per-sample accuracy, and a
// stalled decoder should cost the stalest page, not block the link. That is a
// deliberate trade, not the default policy for this codebase.
type PageRing struct {
	mu        sync.Mutex
	data      [][]byte
	head      int // next read (oldest page)
	tail      int // next write
	count     int
	capacity  int
	pageSize  int
	overwrote uint64
}

func NewPageRing(capacity, pageSize int) *PageRing {
	if capacity <= 0 {
		capacity = 1
	}
	data := make([][]byte, capacity)
	for i := range data {
		data[i] = make([]byte, pageSize)
	}
	return &PageRing{
		data:     data,
		capacity: capacity,
		pageSize: pageSize,
	}
}

// Push copies page into the ring, evicting the oldest page when full.
// Pages of the wrong size are rejected.
func (r *PageRing) Push(page []byte) bool {
	if len(page) != r.pageSize {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copy(r.data[r.tail], page)
	r.tail = (r.tail + 1) % r.capacity
	if r.count == r.capacity {
		// Oldest page just got clobbered; advance the read side past it.
		r.head = (r.head + 1) % r.capacity
		r.overwrote++
	} else {
		r.count++
	}
	return true
}

// Pop returns a copy of the oldest page, or false when empty.
func (r *PageRing) Pop() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil, false
	}
	page := make([]byte, r.pageSize)
	copy(page, r.data[r.head])
	r.head = (r.head + 1) % r.capacity
	r.count--
	return page, true
}

func (r *PageRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *PageRing) Cap() int {
	return r.capacity
}

// Overwritten reports how many pages were evicted unread.
func (r *PageRing) Overwritten() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overwrote
}
