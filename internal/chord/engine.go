// Package chord turns a stream of key presses and releases into finalized
// chords.
//
// The Engine is a small state machine:
//
//	Idle (nothing held)  <->  Holding(n), 1 <= n <= MaxHeldKeys
//
// Presses join the held-key set; a press arriving after the adaptive chord
// window has expired abandons the stale group first. On each release the
// engine either emits the lone released key, emits the whole held group as a
// chord, or drops the group as a rollover, as judged by the timing Analyzer.
//
// The engine does no I/O and is driven from a single goroutine.
package chord

import (
	"log/slog"
	"time"

	"chordd/internal/metrics"
	"chordd/internal/timing"
)

// MaxHeldKeys bounds the held-key set. Further presses are dropped.
const MaxHeldKeys = 8

// activeKey is a key that is currently held.
type activeKey struct {
	key    Key
	timing timing.KeyTiming
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics the engine reports to.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// Engine owns the held-key set and decides what to emit.
type Engine struct {
	analyzer *timing.Analyzer
	sink     Sink
	logger   *slog.Logger
	metrics  *metrics.EngineMetrics
	now      func() time.Time

	held []activeKey

	// scratch buffer reused for each evaluation
	timings []timing.KeyTiming
}

// NewEngine creates an engine that reports finalized chords to sink.
func NewEngine(analyzer *timing.Analyzer, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		analyzer: analyzer,
		sink:     sink,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		held:     make([]activeKey, 0, MaxHeldKeys),
		timings:  make([]timing.KeyTiming, 0, MaxHeldKeys),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.NewEngineMetrics(metrics.NewRegistry("chordd", ""))
	}
	return e
}

// HandleKey processes one normalized key transition. It is the device
// handler entry point.
func (e *Engine) HandleKey(key Key, pressed bool) {
	if pressed {
		e.Press(key)
	} else {
		e.Release(key)
	}
}

// Press registers a key press.
func (e *Engine) Press(key Key) {
	now := e.now()
	e.metrics.Presses.Inc()

	if e.indexOf(key) >= 0 {
		return
	}

	// Only gaps inside a held group are typing-speed samples; pauses
	// between groups are not.
	if n := len(e.held); n > 0 {
		e.analyzer.UpdateTypingSpeed(now.Sub(e.held[n-1].timing.Press))
	}

	if len(e.held) > 0 {
		elapsed := now.Sub(e.held[0].timing.Press)
		if window := e.analyzer.AdjustedChordWindow(); elapsed > window {
			e.logger.Debug("abandoning stale chord group",
				"held", len(e.held),
				"elapsed", elapsed,
				"window", window)
			e.held = e.held[:0]
			e.metrics.StaleEvictions.Inc()
		}
	}

	if len(e.held) < MaxHeldKeys {
		e.held = append(e.held, activeKey{
			key:    key,
			timing: timing.KeyTiming{Press: now},
		})
	} else {
		e.metrics.DroppedPresses.Inc()
	}

	e.metrics.HeldKeys.Set(int64(len(e.held)))
	e.metrics.ChordWindow.Set(e.analyzer.AdjustedChordWindow().Microseconds())
}

// Release registers a key release and emits whatever it finalizes.
func (e *Engine) Release(key Key) {
	now := e.now()
	e.metrics.Releases.Inc()

	pos := e.indexOf(key)
	if pos < 0 {
		return
	}
	e.held[pos].timing.Release = now

	switch {
	case len(e.held) == 1:
		e.metrics.SinglesEmitted.Inc()
		e.emit(Chord{key})

	default:
		timer := e.metrics.DecisionLatency.Timer()

		e.timings = e.timings[:0]
		for _, k := range e.held {
			e.timings = append(e.timings, k.timing)
		}

		score := e.analyzer.RollScore(e.timings)
		if score < e.analyzer.Config().RollThreshold {
			c := make(Chord, len(e.held))
			for i, k := range e.held {
				c[i] = k.key
			}
			e.logger.Debug("chord detected", "keys", c.String())
			e.metrics.ChordsEmitted.Inc()
			e.emit(c)
		} else {
			e.logger.Debug("rollover detected, dropping group",
				"keys", len(e.held),
				"score", score)
			e.metrics.Rollovers.Inc()
		}

		e.logger.Debug("chord evaluation", "took", timer.Stop())
	}

	e.held = append(e.held[:pos], e.held[pos+1:]...)
	e.metrics.HeldKeys.Set(int64(len(e.held)))
}

// Held returns the currently held keys in press order.
func (e *Engine) Held() []Key {
	keys := make([]Key, len(e.held))
	for i, k := range e.held {
		keys[i] = k.key
	}
	return keys
}

// Analyzer returns the timing model the engine feeds.
func (e *Engine) Analyzer() *timing.Analyzer {
	return e.analyzer
}

func (e *Engine) emit(c Chord) {
	if e.sink != nil {
		e.sink.EmitChord(c)
	}
}

func (e *Engine) indexOf(key Key) int {
	for i, k := range e.held {
		if k.key == key {
			return i
		}
	}
	return -1
}
