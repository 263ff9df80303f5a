package inject

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chordd/internal/chord"
	"chordd/internal/library"
	"chordd/internal/metrics"
)

type call struct {
	name string
	env  []string
	args []string
}

type fakeCommander struct {
	calls   []call
	started []string
	runErr  map[string]error
	onStart func()
}

func (f *fakeCommander) Run(name string, env []string, args ...string) error {
	f.calls = append(f.calls, call{name: name, env: env, args: args})
	return f.runErr[name]
}

func (f *fakeCommander) Start(name string, args ...string) error {
	f.started = append(f.started, name)
	if f.onStart != nil {
		f.onStart()
	}
	return nil
}

func TestYdotoolCommands(t *testing.T) {
	fc := &fakeCommander{}
	y := NewYdotool("/run/user/1000/.ydotool_socket")
	y.cmd = fc

	require.NoError(t, y.SendBackspace(2))
	require.NoError(t, y.SendText("hello -world"))
	require.NoError(t, y.SendText(""))

	require.Len(t, fc.calls, 3)
	for _, c := range fc.calls {
		assert.Equal(t, "ydotool", c.name)
		assert.Equal(t, []string{"YDOTOOL_SOCKET=/run/user/1000/.ydotool_socket"}, c.env)
	}
	assert.Equal(t, []string{"key", "14:1", "14:0"}, fc.calls[0].args)
	assert.Equal(t, []string{"key", "14:1", "14:0"}, fc.calls[1].args)
	assert.Equal(t, []string{"type", "--", "hello -world"}, fc.calls[2].args)
}

func TestYdotoolErrors(t *testing.T) {
	fc := &fakeCommander{runErr: map[string]error{"ydotool": errors.New("exit status 1")}}
	y := NewYdotool("")
	y.cmd = fc

	err := y.SendBackspace(3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inject backspace")
	assert.Len(t, fc.calls, 1, "stops at the first failure")

	assert.ErrorContains(t, y.SendText("x"), "inject text")
}

func TestEnsureDaemon(t *testing.T) {
	t.Run("socket present", func(t *testing.T) {
		socket := filepath.Join(t.TempDir(), "sock")
		require.NoError(t, os.WriteFile(socket, nil, 0o600))

		fc := &fakeCommander{}
		y := NewYdotool(socket)
		y.cmd = fc

		require.NoError(t, y.EnsureDaemon())
		assert.Empty(t, fc.calls)
		assert.Empty(t, fc.started)
	})

	t.Run("already running", func(t *testing.T) {
		fc := &fakeCommander{}
		y := NewYdotool(filepath.Join(t.TempDir(), "sock"))
		y.cmd = fc

		require.NoError(t, y.EnsureDaemon())
		require.Len(t, fc.calls, 1)
		assert.Equal(t, "pgrep", fc.calls[0].name)
		assert.Empty(t, fc.started)
	})

	t.Run("started", func(t *testing.T) {
		socket := filepath.Join(t.TempDir(), "sock")
		fc := &fakeCommander{
			runErr:  map[string]error{"pgrep": errors.New("exit status 1")},
			onStart: func() { _ = os.WriteFile(socket, nil, 0o600) },
		}
		y := NewYdotool(socket)
		y.cmd = fc

		require.NoError(t, y.EnsureDaemon())
		assert.Equal(t, []string{"ydotoold"}, fc.started)
	})

	t.Run("socket never appears", func(t *testing.T) {
		fc := &fakeCommander{runErr: map[string]error{"pgrep": errors.New("exit status 1")}}
		y := NewYdotool(filepath.Join(t.TempDir(), "sock"))
		y.cmd = fc
		y.startWait = 20 * time.Millisecond
		y.pollEvery = 5 * time.Millisecond

		assert.ErrorContains(t, y.EnsureDaemon(), "did not create")
	})
}

type fakeOutput struct {
	mu      sync.Mutex
	ops     []string
	failing bool
}

func (f *fakeOutput) SendBackspace(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("no daemon")
	}
	f.ops = append(f.ops, "bs:"+strconv.Itoa(n))
	return nil
}

func (f *fakeOutput) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "type:"+text)
	return nil
}

func (f *fakeOutput) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// Key codes are rendered by a fixed table so the tests do not depend on
// the platform key tables.
var testNames = map[uint16]string{30: "KEY_A", 31: "KEY_S", 35: "KEY_H", 20: "KEY_T", 22: "KEY_U", 49: "KEY_N"}

func testKeyName(code uint16) string { return testNames[code] }

func testStore(t *testing.T) *library.Store {
	t.Helper()
	lib, err := library.Parse(strings.NewReader(`
[chords]
KEY_T+KEY_H => the
[prefixes]
KEY_U+KEY_N => un
`))
	require.NoError(t, err)
	return library.NewStore(lib)
}

func TestDispatcherInjects(t *testing.T) {
	out := &fakeOutput{}
	m := metrics.NewEngineMetrics(metrics.NewRegistry("test", ""))
	d := NewDispatcher(testStore(t), out, 4, WithKeyNames(testKeyName), WithMetrics(m))

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	d.EmitChord(chord.Chord{20, 35}) // the
	d.EmitChord(chord.Chord{30})     // unmatched
	d.EmitChord(chord.Chord{49, 22}) // un_
	d.Close()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"bs:2", "type:the", "bs:2", "type:un_"}, out.Ops())
	assert.Equal(t, uint64(2), m.Expansions.Value())
	assert.Equal(t, uint64(1), m.Unmatched.Value())
	assert.Equal(t, uint64(2), m.InjectionDuration.Count())

	// Chords after Close are ignored.
	assert.NotPanics(t, func() { d.EmitChord(chord.Chord{20, 35}) })
	d.Close()
}

func TestDispatcherQueueFull(t *testing.T) {
	out := &fakeOutput{}
	m := metrics.NewEngineMetrics(nil)
	d := NewDispatcher(testStore(t), out, 1, WithKeyNames(testKeyName), WithMetrics(m))

	// No worker yet: the second expansion does not fit.
	d.EmitChord(chord.Chord{20, 35})
	d.EmitChord(chord.Chord{20, 35})
	assert.Equal(t, uint64(1), m.QueueDrops.Value())

	d.Close()
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []string{"bs:2", "type:the"}, out.Ops())
}

func TestDispatcherInjectionFailure(t *testing.T) {
	out := &fakeOutput{failing: true}
	m := metrics.NewEngineMetrics(nil)
	d := NewDispatcher(testStore(t), out, 0, WithKeyNames(testKeyName), WithMetrics(m))

	d.EmitChord(chord.Chord{20, 35})
	d.Close()
	require.NoError(t, d.Run(context.Background()))

	assert.Empty(t, out.Ops())
	assert.Equal(t, uint64(1), m.InjectionFailures.Value())
	assert.Zero(t, m.Expansions.Value())
}

func TestDispatcherRunCancelled(t *testing.T) {
	d := NewDispatcher(testStore(t), &fakeOutput{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Run(ctx), context.Canceled)
}
