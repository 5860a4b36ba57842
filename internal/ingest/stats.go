package ingest

import (
	"sync"
	"time"
)

// Statistics tracks ingest throughput and loss. Backpressure drops are
// counted here, never blocked on.
type Statistics struct {
	mu              sync.RWMutex
	pagesReceived   uint64
	pagesInvalid    uint64
	samplesIngested uint64
	samplesDropped  uint64
	startTime       time.Time
	lastUpdate      time.Time
}

func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{startTime: now, lastUpdate: now}
}

func (s *Statistics) RecordPage(valid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pagesReceived++
	if !valid {
		s.pagesInvalid++
	}
	s.lastUpdate = time.Now()
}

func (s *Statistics) RecordSample(pushed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pushed {
		s.samplesIngested++
	} else {
		s.samplesDropped++
	}
	s.lastUpdate = time.Now()
}

func (s *Statistics) SamplesDropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samplesDropped
}

// Snapshot returns a point-in-time view for the stats reporter.
func (s *Statistics) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := time.Since(s.startTime)
	rate := 0.0
	if uptime.Seconds() > 0 {
		rate = float64(s.samplesIngested) / uptime.Seconds()
	}

	return map[string]interface{}{
		"pages_received":   s.pagesReceived,
		"pages_invalid":    s.pagesInvalid,
		"samples_ingested": s.samplesIngested,
		"samples_dropped":  s.samplesDropped,
		"samples_per_sec":  rate,
		"uptime_seconds":   uptime.Seconds(),
		"last_update":      s.lastUpdate,
	}
}
