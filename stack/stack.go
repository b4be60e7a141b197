// Package stack turns one captured error event into something printable: it
// rebuilds the logical call stack of instrumented functions, repairs the raw
// kernel stack trace and aligns the two.
package stack

import (
	"errors"
	"time"

	"github.com/tcassar-diss/retsnoop/funcs"
	"github.com/tcassar-diss/retsnoop/ksyms"
)

var ErrDepthOverflow = errors.New("call stack depth exceeds buffer capacity")

// Call is one captured function call slot.
type Call struct {
	ID      uint32
	Result  int64
	Latency int64 // ns
}

// Record is a decoded call stack event. Calls and Saved have the length of
// the fixed kernel-side buffers; the depth fields say how much of them is
// meaningful and are not trusted.
type Record struct {
	IsErr bool

	Depth    uint32
	MaxDepth uint32
	Calls    []Call

	SavedDepth    uint32
	SavedMaxDepth uint32
	Saved         []Call

	// Kstack is the raw return-address trace, innermost frame first.
	Kstack []uint64
}

// Stitched reports whether the saved segment continues the current one.
func (r *Record) Stitched() bool {
	return uint64(r.MaxDepth)+1 == uint64(r.SavedDepth)
}

// FuncLookup resolves function ids recorded by the kernel side.
type FuncLookup interface {
	Lookup(id int) (*funcs.Info, bool)
}

// SymbolLookup resolves kernel addresses to symbols.
type SymbolLookup interface {
	Resolve(addr uint64) *ksyms.Symbol
}

// LogicalFrame is one instrumented function call.
type LogicalFrame struct {
	Name     string
	Result   int64
	Latency  time.Duration
	Finished bool
	Stitched bool
	CantFail bool
}

// KernelFrame is one entry of the kernel stack trace.
type KernelFrame struct {
	Sym      *ksyms.Symbol // nil when unresolved
	Addr     uint64
	Filtered bool
}

// Name returns the symbol name, or "" when unresolved.
func (k *KernelFrame) Name() string {
	if k.Sym == nil {
		return ""
	}

	return k.Sym.Name
}

// Offset returns the distance from the symbol start.
func (k *KernelFrame) Offset() uint64 {
	if k.Sym == nil {
		return 0
	}

	return k.Addr - k.Sym.Addr
}
