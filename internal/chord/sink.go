package chord

import (
	"strconv"
	"strings"
)

// Key is an opaque physical key identifier (the kernel key code).
type Key uint16

// Chord is the ordered set of keys finalized by the engine, in press order.
// A single-key release is a one-element chord.
type Chord []Key

// String returns the key codes joined with '+', e.g. "30+48".
func (c Chord) String() string {
	parts := make([]string, len(c))
	for i, k := range c {
		parts[i] = strconv.Itoa(int(k))
	}
	return strings.Join(parts, "+")
}

// Sink receives finalized chords. EmitChord runs inline on the event
// goroutine and must not block significantly.
type Sink interface {
	EmitChord(c Chord)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(c Chord)

// EmitChord calls f(c).
func (f SinkFunc) EmitChord(c Chord) { f(c) }

// MultiSink delivers each chord to every sink in order.
type MultiSink []Sink

// EmitChord fans c out. Each sink gets its own copy.
func (m MultiSink) EmitChord(c Chord) {
	for _, s := range m {
		if s == nil {
			continue
		}
		s.EmitChord(append(Chord(nil), c...))
	}
}

var (
	_ Sink = SinkFunc(nil)
	_ Sink = MultiSink(nil)
)
