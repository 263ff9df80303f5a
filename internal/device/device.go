// Package device discovers keyboards and merges their key events into one
// stream.
//
// Discovery is pure: Discover reports the qualifying devices or
// ErrNoKeyboard and never logs. A Multiplexer owns the opened devices and
// delivers normalized (key code, press|release) transitions to a Handler on
// the goroutine that calls Listen.
package device

import (
	"errors"
	"log/slog"

	"chordd/internal/metrics"
)

// ErrNoKeyboard is returned when no input device qualifies as a keyboard.
var ErrNoKeyboard = errors.New("no keyboard device found")

// Info describes a qualifying keyboard.
type Info struct {
	Path     string // e.g. /dev/input/event3
	Name     string
	Phys     string
	KeyCount int // number of EV_KEY codes the device reports
}

// Handler receives one key transition. It runs synchronously on the
// Listen goroutine.
type Handler func(code uint16, pressed bool)

// Option configures a Multiplexer.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metrics.EngineMetrics
}

// WithLogger sets the logger used for read errors and device removal.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics the multiplexer reports to.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewEngineMetrics(nil)
	}
	return o
}

// Open discovers keyboards and opens a Multiplexer over all of them.
func Open(opts ...Option) (*Multiplexer, error) {
	infos, err := Discover()
	if err != nil {
		return nil, err
	}
	return NewMultiplexer(infos, opts...)
}
