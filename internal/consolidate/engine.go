package consolidate

import (
	"math"

	"wristnode/internal/buffer"
	"wristnode/internal/model"
)

// Config holds the consolidation window size and the step-detector tuning.
// The detector constants are hardware- and wrist-placement-dependent and were
// still being tuned on real units, so everything is configurable rather than
// baked in.
type Config struct {
	// WindowSize is the number of samples reduced to one record.
	WindowSize int

	// SmoothingAlpha is the single-pole low-pass coefficient applied to the
	// acceleration magnitude. Small values reject wrist jitter while still
	// tracking gait.
	SmoothingAlpha float64

	// SensitivityMargin is how far above the window baseline a smoothed peak
	// must rise to count as a candidate step. Zero means auto-scale from the
	// first observed magnitude (raw-unit sensors need a larger absolute
	// margin than normalized-g sensors).
	SensitivityMargin float64

	// AutoMarginRatio sets the auto-scaled margin as a fraction of the first
	// observed magnitude. Only used when SensitivityMargin is zero.
	AutoMarginRatio float64

	// MinSamplesBetweenSteps debounces candidates faster than plausible
	// human cadence.
	MinSamplesBetweenSteps int

	// StreakConfirm is how many consecutive accepted steps must occur before
	// any of them are reported; the held-back steps are backfilled once the
	// streak confirms.
	StreakConfirm int

	// StreakResetSamples resets the streak after this many samples without a
	// candidate step. Held-back steps from the broken streak are discarded.
	StreakResetSamples int
}

// DefaultConfig matches a 25 Hz stream: 125-sample windows (~2.5 s) and a
// ~2 s streak reset horizon.
func DefaultConfig() Config {
	return Config{
		WindowSize:             125,
		SmoothingAlpha:         0.1,
		SensitivityMargin:      0,
		AutoMarginRatio:        0.12,
		MinSamplesBetweenSteps: 8,
		StreakConfirm:          3,
		StreakResetSamples:     50,
	}
}

// Engine reduces full windows of samples to ConsolidatedRecords. The filter
// and streak state persist across invocations because steps must be evaluated
// as a continuous gait, not independently per window. One Engine instance is
// owned by the task driving consolidation; it is not safe for concurrent use.
type Engine struct {
	cfg Config

	// Low-pass filter state, carried across windows.
	running float64
	seeded  bool
	margin  float64

	// Step/streak state, carried across windows. Indices are absolute sample
	// positions since the last Reset.
	sampleIdx       int64
	lastStepAt      int64
	lastCandidateAt int64
	streak          int
	pending         int
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	e.Reset()
	return e
}

// Reset clears all adaptive state. Called when the device history is erased
// so stale gait state cannot bleed into the next recording session.
func (e *Engine) Reset() {
	e.running = 0
	e.seeded = false
	e.margin = e.cfg.SensitivityMargin
	e.sampleIdx = 0
	e.lastStepAt = math.MinInt64 / 2
	e.lastCandidateAt = math.MinInt64 / 2
	e.streak = 0
	e.pending = 0
}

// TryConsolidate drains exactly one window of samples from ring and reduces
// it to a record. Returns false and leaves the ring untouched when fewer than
// WindowSize samples are buffered.
func (e *Engine) TryConsolidate(ring *buffer.SampleRing) (model.ConsolidatedRecord, bool) {
	if ring == nil || ring.Len() < e.cfg.WindowSize {
		return model.ConsolidatedRecord{}, false
	}

	window := make([]model.Sample, 0, e.cfg.WindowSize)
	for len(window) < e.cfg.WindowSize {
		s, ok := ring.Pop()
		if !ok {
			// The ring is single-consumer; losing samples mid-drain means the
			// contract was violated upstream. Emit nothing for this window.
			return model.ConsolidatedRecord{}, false
		}
		window = append(window, s)
	}

	var hrSum uint64
	var tempSum int64
	smoothed := make([]float64, len(window))

	for i, s := range window {
		hrSum += uint64(s.HR)
		tempSum += int64(s.Temp)

		mag := math.Sqrt(float64(s.AX)*float64(s.AX) +
			float64(s.AY)*float64(s.AY) +
			float64(s.AZ)*float64(s.AZ))
		if !e.seeded {
			e.seeded = true
			e.running = mag
			if e.margin == 0 {
				e.margin = mag * e.cfg.AutoMarginRatio
			}
		}
		e.running = e.running*(1-e.cfg.SmoothingAlpha) + mag*e.cfg.SmoothingAlpha
		smoothed[i] = e.running
	}

	var baseline float64
	for _, v := range smoothed {
		baseline += v
	}
	baseline /= float64(len(smoothed))

	steps := e.detectSteps(smoothed, baseline)
	e.sampleIdx += int64(len(window))

	n := uint64(len(window))
	return model.ConsolidatedRecord{
		AvgHRx10:    clampU16(hrSum * 10 / n),
		AvgTempx100: clampI16(tempSum / int64(n)),
		StepCount:   clampU16(uint64(steps)),
		Timestamp:   window[len(window)-1].Timestamp,
	}, true
}

// detectSteps walks one window of smoothed magnitudes. A peak is an interior
// sample strictly above both neighbors; it becomes a candidate when it clears
// the baseline by the sensitivity margin, and an accepted step when the
// debounce gap since the previous accepted step has elapsed. The first
// StreakConfirm accepted steps are held back and backfilled once the streak
// confirms, so a transient bump never reports steps but continuous walking
// loses none.
func (e *Engine) detectSteps(smoothed []float64, baseline float64) int {
	threshold := baseline + e.margin
	steps := 0

	for i := range smoothed {
		abs := e.sampleIdx + int64(i)

		if e.streak > 0 && abs-e.lastCandidateAt > int64(e.cfg.StreakResetSamples) {
			e.streak = 0
			e.pending = 0
		}

		if i == 0 || i == len(smoothed)-1 {
			continue
		}
		if !(smoothed[i] > smoothed[i-1] && smoothed[i] > smoothed[i+1]) {
			continue
		}
		if smoothed[i] <= threshold {
			continue
		}
		e.lastCandidateAt = abs

		if abs-e.lastStepAt < int64(e.cfg.MinSamplesBetweenSteps) {
			continue
		}
		e.lastStepAt = abs
		e.streak++

		switch {
		case e.streak < e.cfg.StreakConfirm:
			e.pending++
		case e.streak == e.cfg.StreakConfirm:
			steps += e.pending + 1
			e.pending = 0
		default:
			steps++
		}
	}

	return steps
}

func clampU16(v uint64) uint16 {
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func clampI16(v int64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
