package device

import (
	"encoding/binary"
)

// Kernel input_event layout: struct timeval, then type, code and value.
// The timeval width depends on the architecture, so offsets are relative to
// it.
const (
	evKey = 0x01

	valueRelease = 0
	valuePress   = 1
	valueRepeat  = 2

	eventPayloadSize = 8 // type(2) + code(2) + value(4)
)

type rawEvent struct {
	Type  uint16
	Code  uint16
	Value int32
}

// decodeEvents walks whole input_event records in buf and calls fn for
// each. A trailing partial record is ignored.
func decodeEvents(buf []byte, timevalSize int, fn func(rawEvent)) int {
	size := timevalSize + eventPayloadSize
	n := 0
	for off := 0; off+size <= len(buf); off += size {
		rec := buf[off+timevalSize : off+size]
		fn(rawEvent{
			Type:  binary.NativeEndian.Uint16(rec[0:2]),
			Code:  binary.NativeEndian.Uint16(rec[2:4]),
			Value: int32(binary.NativeEndian.Uint32(rec[4:8])),
		})
		n++
	}
	return n
}

// keyTransition reports whether ev is a key press or release. Autorepeat
// and non-key records are not transitions.
func keyTransition(ev rawEvent) (code uint16, pressed, ok bool) {
	if ev.Type != evKey {
		return 0, false, false
	}
	switch ev.Value {
	case valuePress:
		return ev.Code, true, true
	case valueRelease:
		return ev.Code, false, true
	default:
		return 0, false, false
	}
}
