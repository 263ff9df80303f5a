//go:build !linux

package device

import (
	"context"
	"strconv"
	"strings"
)

// Discover always fails: only Linux evdev devices are supported.
func Discover() ([]Info, error) {
	return nil, ErrNoKeyboard
}

// Multiplexer is unavailable on this platform.
type Multiplexer struct{}

// NewMultiplexer always fails with ErrNoKeyboard.
func NewMultiplexer(infos []Info, opts ...Option) (*Multiplexer, error) {
	return nil, ErrNoKeyboard
}

// Devices returns nil; no device is ever open here.
func (m *Multiplexer) Devices() []Info { return nil }

// Listen always fails with ErrNoKeyboard.
func (m *Multiplexer) Listen(ctx context.Context, handler Handler) error {
	return ErrNoKeyboard
}

// Close is a no-op.
func (m *Multiplexer) Close() error { return nil }

// KeyName renders a key code as "KEY_<n>"; no name table exists here.
func KeyName(code uint16) string {
	return "KEY_" + strconv.Itoa(int(code))
}

// KeyCode is the inverse of KeyName and accepts only numeric names.
func KeyCode(name string) (uint16, bool) {
	name = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "KEY_")
	n, err := strconv.ParseUint(name, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}
