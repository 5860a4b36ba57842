// Package pipeline drives the consumer side of the node: the periodic pass
// that reduces buffered samples to records and appends them to the log.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"wristnode/internal/buffer"
	"wristnode/internal/consolidate"
	"wristnode/internal/ingest"
	"wristnode/internal/store"
)

type Config struct {
	Interval time.Duration // how often to look for full windows
	MaxPass  int           // windows consolidated per pass, bounds work per wakeup
}

func DefaultConfig() Config {
	return Config{
		Interval: 500 * time.Millisecond,
		MaxPass:  4,
	}
}

type Pipeline struct {
	cfg    Config
	ring   *buffer.SampleRing
	engine *consolidate.Engine
	store  *store.RecordStore
	stats  *ingest.Statistics
	logger *zap.Logger

	resetPending atomic.Bool

	consolidated uint64
	appendErrs   uint64
}

func New(cfg Config, ring *buffer.SampleRing, engine *consolidate.Engine, st *store.RecordStore, stats *ingest.Statistics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		ring:   ring,
		engine: engine,
		store:  st,
		stats:  stats,
		logger: logger,
	}
}

// Run consolidates until ctx is cancelled. Each pass drains a bounded number
// of windows so a deep backlog cannot starve other work.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	reporter := time.NewTicker(30 * time.Second)
	defer reporter.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("consolidation loop stopped",
				zap.Uint64("records_consolidated", p.consolidated))
			return nil
		case <-ticker.C:
			p.pass()
		case <-reporter.C:
			p.report()
		}
	}
}

// RequestReset asks the loop to drop buffered samples and clear the engine's
// gait state before its next pass. Called after an erase so stale history
// never bleeds into new records; deferring to the loop keeps the engine
// single-owner.
func (p *Pipeline) RequestReset() {
	p.resetPending.Store(true)
}

func (p *Pipeline) pass() {
	if p.resetPending.Swap(false) {
		p.ring.Clear()
		p.engine.Reset()
		p.logger.Info("consolidation state reset")
	}
	for i := 0; i < p.cfg.MaxPass; i++ {
		rec, ok := p.engine.TryConsolidate(p.ring)
		if !ok {
			return
		}
		if err := p.store.Append(rec); err != nil {
			// Skip this record and stay ready for the next window.
			p.appendErrs++
			p.logger.Error("record append failed", zap.Error(err))
			continue
		}
		p.consolidated++
		p.logger.Debug("window consolidated",
			zap.Uint16("avg_hr_x10", rec.AvgHRx10),
			zap.Int16("avg_temp_x100", rec.AvgTempx100),
			zap.Uint16("steps", rec.StepCount),
			zap.Uint32("timestamp", rec.Timestamp))
	}
}

func (p *Pipeline) report() {
	count, err := p.store.Count()
	if err != nil {
		p.logger.Warn("store count failed", zap.Error(err))
		count = -1
	}
	p.logger.Info("pipeline stats",
		zap.Int("ring_depth", p.ring.Len()),
		zap.Int("records_stored", count),
		zap.Uint64("records_consolidated", p.consolidated),
		zap.Uint64("append_errors", p.appendErrs),
		zap.Any("ingest", p.stats.Snapshot()))
}
