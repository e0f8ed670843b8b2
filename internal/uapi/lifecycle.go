package uapi

import (
	"fmt"

	"github.com/cmu-db/tscout/internal/interfaces"
)

// LifecycleEventSize is the fixed wire size of one postmaster_events
// sample: a type tag, a child pid, and a socket fd (-1 when absent).
const LifecycleEventSize = 4 + 4 + 4

// UnmarshalLifecycleEvent decodes one postmaster_events sample. type_ 0/1/2/3
// map to fork_backend/fork_background/reap_backend/reap_background, mirroring
// the original source's postmaster_event callback; any other tag is reported
// as an error so the caller can treat it as a protocol mismatch.
func UnmarshalLifecycleEvent(data []byte) (interfaces.LifecycleEvent, error) {
	if len(data) < LifecycleEventSize {
		return interfaces.LifecycleEvent{}, MarshalError(fmt.Sprintf("uapi: lifecycle event too short: got %d bytes, want %d", len(data), LifecycleEventSize))
	}

	off := 0
	readU32 := func() uint32 {
		v := nativeEndian.Uint32(data[off:])
		off += 4
		return v
	}
	readI32 := func() int32 { return int32(readU32()) }

	eventType := readU32()
	pid := readU32()
	socketFD := readI32()

	var kind interfaces.LifecycleEventKind
	var fd *int
	switch eventType {
	case 0:
		kind = interfaces.ForkBackend
		v := int(socketFD)
		fd = &v
	case 1:
		kind = interfaces.ForkBackground
	case 2:
		kind = interfaces.ReapBackend
	case 3:
		kind = interfaces.ReapBackground
	default:
		return interfaces.LifecycleEvent{}, MarshalError(fmt.Sprintf("uapi: unknown postmaster event type %d", eventType))
	}

	return interfaces.LifecycleEvent{Kind: kind, PID: pid, ClientSocketFD: fd}, nil
}

// MarshalLifecycleEvent encodes ev into the layout UnmarshalLifecycleEvent
// reads, used by tests and the mock watcher.
func MarshalLifecycleEvent(ev interfaces.LifecycleEvent) []byte {
	buf := make([]byte, LifecycleEventSize)
	off := 0
	writeU32 := func(v uint32) {
		nativeEndian.PutUint32(buf[off:], v)
		off += 4
	}
	writeI32 := func(v int32) { writeU32(uint32(v)) }

	var eventType uint32
	switch ev.Kind {
	case interfaces.ForkBackend:
		eventType = 0
	case interfaces.ForkBackground:
		eventType = 1
	case interfaces.ReapBackend:
		eventType = 2
	case interfaces.ReapBackground:
		eventType = 3
	}
	writeU32(eventType)
	writeU32(ev.PID)
	if ev.ClientSocketFD != nil {
		writeI32(int32(*ev.ClientSocketFD))
	} else {
		writeI32(-1)
	}
	return buf
}
