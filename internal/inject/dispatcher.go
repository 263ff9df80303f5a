package inject

import (
	"context"
	"log/slog"
	"sync"

	"chordd/internal/chord"
	"chordd/internal/device"
	"chordd/internal/library"
	"chordd/internal/metrics"
)

// DefaultQueueSize bounds pending injections.
const DefaultQueueSize = 32

// Resolver maps key names to an expansion. *library.Store implements it.
type Resolver interface {
	Lookup(names []string) (library.Match, bool)
}

type job struct {
	keys       string
	backspaces int
	text       string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the metrics the dispatcher reports to.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithKeyNames overrides how key codes are turned into library names.
func WithKeyNames(fn func(uint16) string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.keyName = fn
		}
	}
}

// Dispatcher is the chord sink that expands chords into text. Lookup runs
// inline on the event goroutine; injection runs on the Run goroutine so
// that subprocess latency never delays key handling.
type Dispatcher struct {
	resolver Resolver
	out      Output
	keyName  func(uint16) string
	logger   *slog.Logger
	metrics  *metrics.EngineMetrics

	mu     sync.RWMutex
	closed bool
	jobs   chan job
}

// NewDispatcher creates a dispatcher with room for queueSize pending
// injections.
func NewDispatcher(resolver Resolver, out Output, queueSize int, opts ...Option) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		resolver: resolver,
		out:      out,
		keyName:  device.KeyName,
		logger:   slog.New(slog.DiscardHandler),
		jobs:     make(chan job, queueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.NewEngineMetrics(nil)
	}
	return d
}

// EmitChord resolves c and queues its expansion. It never blocks: when the
// queue is full the expansion is dropped.
func (d *Dispatcher) EmitChord(c chord.Chord) {
	names := make([]string, len(c))
	for i, k := range c {
		names[i] = d.keyName(uint16(k))
	}

	m, ok := d.resolver.Lookup(names)
	if !ok {
		d.metrics.Unmatched.Inc()
		return
	}

	j := job{keys: library.NormalizeKey(names), backspaces: len(c), text: m.Text}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.jobs <- j:
	default:
		d.metrics.QueueDrops.Inc()
		d.logger.Warn("injection queue full, dropping expansion",
			"keys", j.keys,
			"section", m.Section.String())
	}
}

// Run performs queued injections until Close is called and the queue is
// drained, or ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-d.jobs:
			if !ok {
				return nil
			}
			d.inject(j)
		}
	}
}

func (d *Dispatcher) inject(j job) {
	timer := d.metrics.InjectionDuration.Timer()
	defer timer.Stop()

	if err := d.out.SendBackspace(j.backspaces); err != nil {
		d.metrics.InjectionFailures.Inc()
		d.logger.Error("injection failed", "keys", j.keys, "error", err)
		return
	}
	if err := d.out.SendText(j.text); err != nil {
		d.metrics.InjectionFailures.Inc()
		d.logger.Error("injection failed", "keys", j.keys, "error", err)
		return
	}

	d.metrics.Expansions.Inc()
	d.logger.Debug("expansion injected", "keys", j.keys, "text", j.text)
}

// Close stops accepting chords. Run returns once the queue is empty.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.jobs)
}

var _ chord.Sink = (*Dispatcher)(nil)
