// Package inject types chord expansions into the focused application.
package inject

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Output is a text injection backend.
type Output interface {
	SendBackspace(n int) error
	SendText(text string) error
}

// DefaultSocketPath is where ydotoold listens unless configured otherwise.
const DefaultSocketPath = "/tmp/.ydotool_socket"

// evdev code of KEY_BACKSPACE, as ydotool expects it.
const backspaceCode = 14

// commander runs external programs. Tests substitute a fake.
type commander interface {
	Run(name string, env []string, args ...string) error
	Start(name string, args ...string) error
}

type execCommander struct{}

func (execCommander) Run(name string, env []string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s %s: %w: %s", name, args[0], err, msg)
		}
		return fmt.Errorf("%s %s: %w", name, args[0], err)
	}
	return nil
}

func (execCommander) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// Ydotool injects through the ydotool client and its ydotoold daemon.
type Ydotool struct {
	socket string
	cmd    commander

	// daemon startup polling
	startWait time.Duration
	pollEvery time.Duration
}

// NewYdotool returns a backend talking to the daemon at socketPath.
func NewYdotool(socketPath string) *Ydotool {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &Ydotool{
		socket:    socketPath,
		cmd:       execCommander{},
		startWait: time.Second,
		pollEvery: 50 * time.Millisecond,
	}
}

func (y *Ydotool) env() []string {
	return []string{"YDOTOOL_SOCKET=" + y.socket}
}

// SendBackspace taps backspace n times.
func (y *Ydotool) SendBackspace(n int) error {
	press := fmt.Sprintf("%d:1", backspaceCode)
	release := fmt.Sprintf("%d:0", backspaceCode)
	for i := 0; i < n; i++ {
		if err := y.cmd.Run("ydotool", y.env(), "key", press, release); err != nil {
			return fmt.Errorf("inject backspace: %w", err)
		}
	}
	return nil
}

// SendText types text verbatim.
func (y *Ydotool) SendText(text string) error {
	if text == "" {
		return nil
	}
	if err := y.cmd.Run("ydotool", y.env(), "type", "--", text); err != nil {
		return fmt.Errorf("inject text: %w", err)
	}
	return nil
}

// EnsureDaemon starts ydotoold unless its socket exists or the process
// is already running, then waits briefly for the socket to appear.
func (y *Ydotool) EnsureDaemon() error {
	if _, err := os.Stat(y.socket); err == nil {
		return nil
	}

	if err := y.cmd.Run("pgrep", nil, "ydotoold"); err == nil {
		return nil
	}

	if err := y.cmd.Start("ydotoold"); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return fmt.Errorf("start ydotoold (is ydotool installed?): %w", err)
		}
		return fmt.Errorf("start ydotoold: %w", err)
	}

	deadline := time.Now().Add(y.startWait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(y.socket); err == nil {
			return nil
		}
		time.Sleep(y.pollEvery)
	}
	return fmt.Errorf("ydotoold did not create %s within %s", y.socket, y.startWait)
}

// LogOutput logs what would be injected. It backs dry runs.
type LogOutput struct {
	Logger *slog.Logger
}

func (l LogOutput) SendBackspace(n int) error {
	l.Logger.Info("dry run: backspace", "count", n)
	return nil
}

func (l LogOutput) SendText(text string) error {
	l.Logger.Info("dry run: type", "text", text)
	return nil
}

var (
	_ Output = (*Ydotool)(nil)
	_ Output = LogOutput{}
)
