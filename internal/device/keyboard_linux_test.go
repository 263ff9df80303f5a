//go:build linux

package device

import (
	"testing"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
)

type fakeCaps struct {
	types []evdev.EvType
	keys  []evdev.EvCode
}

func (f fakeCaps) CapableTypes() []evdev.EvType { return f.types }

func (f fakeCaps) CapableEvents(t evdev.EvType) []evdev.EvCode {
	if t == evdev.EV_KEY {
		return f.keys
	}
	return nil
}

func TestIsKeyboard(t *testing.T) {
	full := []evdev.EvCode{evdev.KEY_ESC, evdev.KEY_A, evdev.KEY_S, evdev.KEY_Z, evdev.KEY_SPACE}

	tests := []struct {
		name string
		caps fakeCaps
		want bool
	}{
		{"full keyboard", fakeCaps{[]evdev.EvType{evdev.EV_SYN, evdev.EV_KEY, evdev.EV_MSC}, full}, true},
		{"no key class", fakeCaps{[]evdev.EvType{evdev.EV_SYN, evdev.EV_REL}, full}, false},
		{"media buttons", fakeCaps{[]evdev.EvType{evdev.EV_KEY}, []evdev.EvCode{evdev.KEY_VOLUMEUP, evdev.KEY_MUTE}}, false},
		{"missing space", fakeCaps{[]evdev.EvType{evdev.EV_KEY}, []evdev.EvCode{evdev.KEY_A, evdev.KEY_Z}}, false},
		{"missing z", fakeCaps{[]evdev.EvType{evdev.EV_KEY}, []evdev.EvCode{evdev.KEY_A, evdev.KEY_SPACE}}, false},
		{"nothing", fakeCaps{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsKeyboard(tt.caps))
		})
	}
}

func TestKeyNames(t *testing.T) {
	assert.Equal(t, "KEY_A", KeyName(uint16(evdev.KEY_A)))
	assert.Equal(t, "KEY_SPACE", KeyName(uint16(evdev.KEY_SPACE)))
	assert.Equal(t, "KEY_65000", KeyName(65000))

	code, ok := KeyCode("KEY_A")
	assert.True(t, ok)
	assert.Equal(t, uint16(evdev.KEY_A), code)

	code, ok = KeyCode(" space ")
	assert.True(t, ok)
	assert.Equal(t, uint16(evdev.KEY_SPACE), code)

	code, ok = KeyCode("KEY_65000")
	assert.True(t, ok)
	assert.Equal(t, uint16(65000), code)

	_, ok = KeyCode("KEY_NOPE")
	assert.False(t, ok)
}
