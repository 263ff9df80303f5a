// Package timing scores the hold intervals of overlapping key presses.
//
// A group of held keys is either a chord (pressed together on purpose) or a
// rollover (fast sequential typing whose holds happen to overlap). The
// Analyzer turns the press/release timestamps of such a group into a roll
// score in [0,1]:
//
//   - 0.0 means the presses were effectively simultaneous
//   - 1.0 means the presses were clearly sequential
//
// The score is adjusted by a moving average of the user's inter-press
// intervals, and the same average resizes the window used to decide which
// presses belong to one candidate group.
package timing

import (
	"time"
)

const (
	// MaxSamples is the number of inter-press intervals kept for the average.
	MaxSamples = 10

	// RefreshInterval is the minimum clock time between two recomputations
	// of the average typing speed and the adjusted chord window.
	RefreshInterval = 100 * time.Millisecond

	minWindowScale = 0.5
	maxWindowScale = 2.0
)

// Config holds the analyzer thresholds. It is immutable once passed to New.
type Config struct {
	// BaseChordWindow is the nominal span within which overlapping presses
	// are evaluated together.
	BaseChordWindow time.Duration

	// RollThreshold is the score below which a group is a chord.
	RollThreshold float64

	// TypingSpeedFactor scales how strongly the measured cadence moves the
	// score and the window.
	TypingSpeedFactor float64

	// MinOverlapRatio is the smallest overlap/window ratio a pair needs to
	// be considered simultaneous at all.
	MinOverlapRatio float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		BaseChordWindow:   150 * time.Millisecond,
		RollThreshold:     0.6,
		TypingSpeedFactor: 0.5,
		MinOverlapRatio:   0.3,
	}
}

// KeyTiming is the hold interval of one key. A zero Release means the key
// is still held.
type KeyTiming struct {
	Press   time.Time
	Release time.Time
}

// Released reports whether the release time is known.
func (k KeyTiming) Released() bool {
	return !k.Release.IsZero()
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock overrides the clock used to rate-limit cache refreshes.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// Analyzer is the adaptive chord/rollover model. It is not safe for
// concurrent use; the chord engine owns it on a single goroutine.
type Analyzer struct {
	cfg        Config
	baseWindow float64 // seconds

	now func() time.Time

	// ring of recent inter-press intervals, oldest first
	samples []time.Duration

	averageSpeed  time.Duration
	cachedWindow  time.Duration
	lastRefreshAt time.Time
}

// New creates an Analyzer. The average typing speed starts at the base
// window, which makes the initial adjustment neutral.
func New(cfg Config, opts ...Option) *Analyzer {
	a := &Analyzer{
		cfg:          cfg,
		baseWindow:   cfg.BaseChordWindow.Seconds(),
		now:          time.Now,
		samples:      make([]time.Duration, 0, MaxSamples),
		averageSpeed: cfg.BaseChordWindow,
		cachedWindow: cfg.BaseChordWindow,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.lastRefreshAt = a.now()
	return a
}

// Config returns the thresholds the analyzer was built with.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// RollScore returns how sequential the given group of timings looks.
// Timings must be in press order. Fewer than two timings score 0.
func (a *Analyzer) RollScore(timings []KeyTiming) float64 {
	if len(timings) < 2 || a.baseWindow <= 0 {
		return 0
	}

	var total float64
	for i := 0; i+1 < len(timings); i++ {
		total += a.pairScore(timings[i], timings[i+1])
	}
	raw := total / float64(len(timings)-1)

	return a.adjustForTypingSpeed(raw)
}

// pairScore scores one adjacent pair of presses.
func (a *Analyzer) pairScore(current, next KeyTiming) float64 {
	interval := next.Press.Sub(current.Press).Seconds()

	// Too far apart to be simultaneous, whatever the overlap.
	if interval > a.baseWindow {
		return 1
	}

	var overlap float64
	switch {
	case !current.Released():
		// Still held: cannot be judged sequential yet.
		overlap = a.baseWindow
	case current.Release.After(next.Press):
		overlap = current.Release.Sub(next.Press).Seconds()
	}

	overlapRatio := overlap / a.baseWindow
	if overlapRatio < a.cfg.MinOverlapRatio {
		return 1
	}

	intervalRatio := interval / a.baseWindow
	return 1 - overlapRatio*(1-intervalRatio)
}

func (a *Analyzer) adjustForTypingSpeed(score float64) float64 {
	adjustment := 1 - (a.speedRatio()-1)*a.cfg.TypingSpeedFactor
	return clamp(score*adjustment, 0, 1)
}

// IsChord reports whether the group scores below the roll threshold.
func (a *Analyzer) IsChord(timings []KeyTiming) bool {
	return a.RollScore(timings) < a.cfg.RollThreshold
}

// UpdateTypingSpeed records one inter-press interval. The sample ring is
// updated on every call; the average and the adjusted window are refreshed
// at most once per RefreshInterval.
func (a *Analyzer) UpdateTypingSpeed(interval time.Duration) {
	if len(a.samples) == MaxSamples {
		copy(a.samples, a.samples[1:])
		a.samples = a.samples[:MaxSamples-1]
	}
	a.samples = append(a.samples, interval)

	now := a.now()
	if now.Sub(a.lastRefreshAt) < RefreshInterval {
		return
	}

	var sum time.Duration
	for _, s := range a.samples {
		sum += s
	}
	a.averageSpeed = sum / time.Duration(len(a.samples))

	scale := clamp(1+(a.speedRatio()-1)*a.cfg.TypingSpeedFactor, minWindowScale, maxWindowScale)
	a.cachedWindow = time.Duration(float64(a.cfg.BaseChordWindow) * scale)
	a.lastRefreshAt = now
}

// AdjustedChordWindow returns the cached adaptive window. It never
// recomputes.
func (a *Analyzer) AdjustedChordWindow() time.Duration {
	return a.cachedWindow
}

// AverageTypingSpeed returns the last computed mean inter-press interval.
func (a *Analyzer) AverageTypingSpeed() time.Duration {
	return a.averageSpeed
}

// Samples returns a copy of the interval ring, oldest first.
func (a *Analyzer) Samples() []time.Duration {
	out := make([]time.Duration, len(a.samples))
	copy(out, a.samples)
	return out
}

func (a *Analyzer) speedRatio() float64 {
	if a.baseWindow <= 0 {
		return 1
	}
	return a.averageSpeed.Seconds() / a.baseWindow
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
