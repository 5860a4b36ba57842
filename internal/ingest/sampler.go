package ingest

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"wristnode/internal/buffer"
	"wristnode/internal/clock"
	"wristnode/internal/model"
)

// SamplerConfig tunes the synthetic sample source used when no sensor
// subsystem is attached.
type SamplerConfig struct {
	Interval time.Duration // sampling cadence
	StepHz   float64       // synthetic gait frequency
}

// Sampler generates plausible motion/vitals samples: a resting baseline with
// a sinusoidal gait component on the accelerometer, a slowly wandering heart
// rate, and a near-constant body temperature. It stands in for the
// acquisition subsystem on the bench.
type Sampler struct {
	cfg    SamplerConfig
	ring   *buffer.SampleRing
	clk    *clock.Clock
	stats  *Statistics
	logger *zap.Logger

	hr          float64
	lastDropLog time.Time
}

func NewSampler(cfg SamplerConfig, ring *buffer.SampleRing, clk *clock.Clock, stats *Statistics, logger *zap.Logger) *Sampler {
	return &Sampler{
		cfg:    cfg,
		ring:   ring,
		clk:    clk,
		stats:  stats,
		logger: logger,
		hr:     72,
	}
}

// Run produces samples until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	s.logger.Info("synthetic sampler running",
		zap.Duration("interval", s.cfg.Interval),
		zap.Float64("step_hz", s.cfg.StepHz))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	started := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("synthetic sampler stopped")
			return nil
		case <-ticker.C:
			pushed := s.ring.Push(s.next(time.Since(started)))
			s.stats.RecordSample(pushed)
			if !pushed && time.Since(s.lastDropLog) >= time.Second {
				s.lastDropLog = time.Now()
				s.logger.Warn("sample ring full, dropping",
					zap.Uint64("dropped_total", s.stats.SamplesDropped()))
			}
		}
	}
}

func (s *Sampler) next(elapsed time.Duration) model.Sample {
	// Heart rate wanders a little around resting.
	s.hr += (rand.Float64() - 0.5) * 0.4
	if s.hr < 58 {
		s.hr = 58
	}
	if s.hr > 92 {
		s.hr = 92
	}

	// Gravity on Z plus a gait sinusoid and wrist jitter, milli-g.
	t := elapsed.Seconds()
	gait := 350 * math.Sin(2*math.Pi*s.cfg.StepHz*t)
	jitter := func() float64 { return (rand.Float64() - 0.5) * 40 }

	return model.Sample{
		HR:        uint16(math.Round(s.hr)),
		Temp:      3680 + int16(rand.Intn(5)),
		AX:        int16(jitter()),
		AY:        int16(jitter()),
		AZ:        int16(1000 + gait + jitter()),
		GX:        int16(jitter() * 2),
		GY:        int16(jitter() * 2),
		GZ:        int16(jitter() * 2),
		Timestamp: s.clk.NowMillis(),
	}
}
