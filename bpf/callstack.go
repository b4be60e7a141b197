package bpf

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tcassar-diss/retsnoop/stack"
)

// CallStack mirrors the kernel-side struct call_stack byte for byte
// (native endian, natural alignment).
type CallStack struct {
	FuncIDs  [MaxFstackDepth]uint16
	FuncRes  [MaxFstackDepth]int64
	FuncLat  [MaxFstackDepth]int64
	Depth    uint32
	MaxDepth uint32
	IsErr    bool
	_        [1]byte

	SavedIDs      [MaxFstackDepth]uint16
	_             [6]byte
	SavedRes      [MaxFstackDepth]int64
	SavedLat      [MaxFstackDepth]int64
	SavedDepth    uint32
	SavedMaxDepth uint32

	Kstack   [MaxKstackDepth]uint64
	KstackSz int64 // bytes
}

// CallStackSize is the size of an encoded CallStack.
var CallStackSize = binary.Size(CallStack{})

// DecodeCallStack decodes one event. Trailing bytes are ignored.
func DecodeCallStack(data []byte) (*CallStack, error) {
	if len(data) < CallStackSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrShortRecord, len(data), CallStackSize)
	}

	var cs CallStack

	if err := binary.Read(bytes.NewReader(data[:CallStackSize]), binary.NativeEndian, &cs); err != nil {
		return nil, fmt.Errorf("failed to decode call stack: %w", err)
	}

	return &cs, nil
}

// MarshalBinary encodes cs in the kernel layout.
func (cs *CallStack) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, CallStackSize))

	if err := binary.Write(buf, binary.NativeEndian, cs); err != nil {
		return nil, fmt.Errorf("failed to encode call stack: %w", err)
	}

	return buf.Bytes(), nil
}

// KstackLen is the number of captured kernel frames, clamped to capacity.
func (cs *CallStack) KstackLen() int {
	n := cs.KstackSz / 8

	switch {
	case n < 0:
		return 0
	case n > MaxKstackDepth:
		return MaxKstackDepth
	default:
		return int(n)
	}
}

// Record converts cs into its decoded form. Depth fields are copied as-is
// and validated during reconstruction.
func (cs *CallStack) Record() *stack.Record {
	rec := &stack.Record{
		IsErr:         cs.IsErr,
		Depth:         cs.Depth,
		MaxDepth:      cs.MaxDepth,
		Calls:         make([]stack.Call, MaxFstackDepth),
		SavedDepth:    cs.SavedDepth,
		SavedMaxDepth: cs.SavedMaxDepth,
		Saved:         make([]stack.Call, MaxFstackDepth),
		Kstack:        make([]uint64, cs.KstackLen()),
	}

	for i := range MaxFstackDepth {
		rec.Calls[i] = stack.Call{ID: uint32(cs.FuncIDs[i]), Result: cs.FuncRes[i], Latency: cs.FuncLat[i]}
		rec.Saved[i] = stack.Call{ID: uint32(cs.SavedIDs[i]), Result: cs.SavedRes[i], Latency: cs.SavedLat[i]}
	}

	copy(rec.Kstack, cs.Kstack[:])

	return rec
}
