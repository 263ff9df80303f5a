//go:build !linux

package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnsupportedPlatform(t *testing.T) {
	_, err := Discover()
	assert.ErrorIs(t, err, ErrNoKeyboard)

	_, err = NewMultiplexer([]Info{{Path: "/dev/input/event0"}})
	assert.ErrorIs(t, err, ErrNoKeyboard)

	var m Multiplexer
	assert.Nil(t, m.Devices())
	assert.ErrorIs(t, m.Listen(context.Background(), func(uint16, bool) {}), ErrNoKeyboard)
	assert.NoError(t, m.Close())
}

func TestNumericKeyNames(t *testing.T) {
	assert.Equal(t, "KEY_30", KeyName(30))

	code, ok := KeyCode("key_30")
	assert.True(t, ok)
	assert.Equal(t, uint16(30), code)

	_, ok = KeyCode("KEY_A")
	assert.False(t, ok)
}
