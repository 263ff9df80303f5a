//go:build linux

package device

import (
	"fmt"
	"strconv"
	"strings"

	evdev "github.com/holoplot/go-evdev"
)

// Capabilities is the capability view of an input device.
// *evdev.InputDevice implements it.
type Capabilities interface {
	CapableTypes() []evdev.EvType
	CapableEvents(t evdev.EvType) []evdev.EvCode
}

var _ Capabilities = (*evdev.InputDevice)(nil)

// requiredKeys must all be present for a device to count as a keyboard.
// Media-key pads and power buttons report EV_KEY but lack letters.
var requiredKeys = []evdev.EvCode{evdev.KEY_A, evdev.KEY_Z, evdev.KEY_SPACE}

// IsKeyboard reports whether the device supports key events and at least
// KEY_A, KEY_Z and KEY_SPACE.
func IsKeyboard(c Capabilities) bool {
	hasKey := false
	for _, t := range c.CapableTypes() {
		if t == evdev.EV_KEY {
			hasKey = true
			break
		}
	}
	if !hasKey {
		return false
	}

	codes := make(map[evdev.EvCode]struct{})
	for _, code := range c.CapableEvents(evdev.EV_KEY) {
		codes[code] = struct{}{}
	}
	for _, want := range requiredKeys {
		if _, ok := codes[want]; !ok {
			return false
		}
	}
	return true
}

// Discover enumerates /dev/input/event* and returns every device that
// qualifies as a keyboard. Devices that cannot be opened are skipped.
func Discover() ([]Info, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}

	var found []Info
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}

		if IsKeyboard(dev) {
			info := Info{
				Path:     p.Path,
				Name:     p.Name,
				KeyCount: len(dev.CapableEvents(evdev.EV_KEY)),
			}
			if phys, err := dev.PhysicalLocation(); err == nil {
				info.Phys = phys
			}
			found = append(found, info)
		}
		dev.Close()
	}

	if len(found) == 0 {
		return nil, ErrNoKeyboard
	}
	return found, nil
}

// KeyName returns the kernel name of a key code, e.g. "KEY_A". Unknown
// codes render as "KEY_<n>".
func KeyName(code uint16) string {
	if name, ok := evdev.KEYToString[evdev.EvCode(code)]; ok {
		return name
	}
	return "KEY_" + strconv.Itoa(int(code))
}

// KeyCode is the inverse of KeyName. Names are case-insensitive and the
// KEY_ prefix is optional.
func KeyCode(name string) (uint16, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(name, "KEY_") {
		name = "KEY_" + name
	}
	if code, ok := evdev.KEYFromString[name]; ok {
		return uint16(code), true
	}
	if n, err := strconv.ParseUint(strings.TrimPrefix(name, "KEY_"), 10, 16); err == nil {
		return uint16(n), true
	}
	return 0, false
}
