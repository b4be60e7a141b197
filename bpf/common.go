package bpf

import "errors"

// Capacities of the fixed kernel-side buffers.
const (
	MaxFstackDepth = 64
	MaxKstackDepth = 128
)

var (
	ErrShortRecord  = errors.New("event record is too short")
	ErrNotRingbuf   = errors.New("pinned map is not a ring buffer")
	ErrSourceClosed = errors.New("event source closed")
)

// EventHandler is called once per raw event. data is only valid for the
// duration of the call.
type EventHandler func(data []byte) error
