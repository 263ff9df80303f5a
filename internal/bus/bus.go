// Package bus publishes finalized chords on the D-Bus session bus.
//
// The daemon owns org.chordd.Engine and exports /org/chordd/Engine with:
//
//	method Metrics() -> s           Prometheus text of the engine metrics
//	signal Chord(s id, as keys)     one per finalized chord, id is a ULID
package bus

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/oklog/ulid/v2"

	"chordd/internal/chord"
	"chordd/internal/device"
	"chordd/internal/metrics"
)

const (
	BusName    = "org.chordd.Engine"
	Interface  = "org.chordd.Engine"
	ObjectPath = dbus.ObjectPath("/org/chordd/Engine")

	chordSignal = Interface + ".Chord"
)

// emitter is the part of *dbus.Conn the publisher uses after setup.
type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...any) error
	Close() error
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithKeyNames overrides how key codes are rendered in signals.
func WithKeyNames(fn func(uint16) string) Option {
	return func(p *Publisher) {
		if fn != nil {
			p.keyName = fn
		}
	}
}

// Publisher is a chord sink that broadcasts every chord as a signal.
type Publisher struct {
	conn    emitter
	keyName func(uint16) string
	logger  *slog.Logger
}

// engineObject is the exported D-Bus object.
type engineObject struct {
	registry *metrics.Registry
}

// Metrics returns the metrics registry in the Prometheus text format.
func (o engineObject) Metrics() (string, *dbus.Error) {
	if o.registry == nil {
		return "", nil
	}
	var b strings.Builder
	if err := o.registry.WritePrometheus(&b); err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return b.String(), nil
}

// Connect claims BusName on the session bus and exports the engine
// object.
func Connect(registry *metrics.Registry, opts ...Option) (*Publisher, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already taken", BusName)
	}

	obj := engineObject{registry: registry}
	if err := conn.Export(obj, ObjectPath, Interface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export engine object: %w", err)
	}

	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: introspect.Methods(obj),
				Signals: []introspect.Signal{{
					Name: "Chord",
					Args: []introspect.Arg{
						{Name: "id", Type: "s"},
						{Name: "keys", Type: "as"},
					},
				}},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	return newPublisher(conn, opts...), nil
}

func newPublisher(conn emitter, opts ...Option) *Publisher {
	p := &Publisher{
		conn:    conn,
		keyName: device.KeyName,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EmitChord broadcasts c. Failures are logged and otherwise ignored.
func (p *Publisher) EmitChord(c chord.Chord) {
	keys := make([]string, len(c))
	for i, k := range c {
		keys[i] = p.keyName(uint16(k))
	}
	id := ulid.Make().String()

	if err := p.conn.Emit(ObjectPath, chordSignal, id, keys); err != nil {
		p.logger.Warn("emit chord signal", "id", id, "error", err)
	}
}

// Close releases the bus connection.
func (p *Publisher) Close() error {
	return p.conn.Close()
}

var _ chord.Sink = (*Publisher)(nil)
