// Package funcs holds the table of instrumented kernel functions shared with
// the attachment side: dense ids, names, entry addresses and the per-function
// flags word consulted while reconstructing call stacks.
package funcs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTableNotDense = errors.New("function ids are not dense")
	ErrUnknownRet    = errors.New("unknown return classification")
)

// Flags mirrors the flags word the kernel side keeps per function.
type Flags uint32

const (
	IsEntry      Flags = 0x1
	CantFail     Flags = 0x2
	NeedsSignExt Flags = 0x4
	RetPtr       Flags = 0x8
)

const retMask = CantFail | NeedsSignExt | RetPtr

// Ret returns only the return classification bits.
func (f Flags) Ret() Flags {
	return f & retMask
}

func (f Flags) String() string {
	var parts []string

	if f&IsEntry != 0 {
		parts = append(parts, "entry")
	}
	if f.Ret() != 0 || f&IsEntry == 0 {
		parts = append(parts, RetName(f))
	}

	return strings.Join(parts, "|")
}

// RetName renders the return classification as used in function table files.
func RetName(f Flags) string {
	switch {
	case f&CantFail != 0:
		return "cant-fail"
	case f&RetPtr != 0:
		return "ptr"
	case f&NeedsSignExt != 0:
		return "sign-ext"
	default:
		return "int"
	}
}

// ParseRet is the inverse of RetName.
func ParseRet(s string) (Flags, error) {
	switch s {
	case "int":
		return 0, nil
	case "sign-ext":
		return NeedsSignExt, nil
	case "ptr":
		return RetPtr, nil
	case "cant-fail":
		return CantFail, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRet, s)
	}
}

// Info describes one instrumented function.
type Info struct {
	ID    int
	Name  string
	Addr  uint64
	Flags Flags

	// classified is set once the return classification is known, either
	// from the table file or from BTF.
	classified bool
}

// Classified reports whether the return classification is known.
func (i *Info) Classified() bool {
	return i.classified
}

// Table is an id-indexed, read-only (once built) function table.
type Table struct {
	funcs []Info
}

// NewTable builds a table. Every id in [0, len(infos)) must appear exactly once.
func NewTable(infos []Info) (*Table, error) {
	funcs := make([]Info, len(infos))
	seen := make([]bool, len(infos))

	for _, info := range infos {
		if info.ID < 0 || info.ID >= len(infos) {
			return nil, fmt.Errorf("%w: id %d out of range [0, %d)", ErrTableNotDense, info.ID, len(infos))
		}

		if seen[info.ID] {
			return nil, fmt.Errorf("%w: id %d is duplicated", ErrTableNotDense, info.ID)
		}

		seen[info.ID] = true
		funcs[info.ID] = info
	}

	return &Table{funcs: funcs}, nil
}

// SetRet records a return classification for id, as given by the attacher.
func (t *Table) SetRet(id int, ret Flags) {
	f := &t.funcs[id]
	f.Flags = f.Flags&^retMask | ret.Ret()
	f.classified = true
}

// Len returns the number of functions.
func (t *Table) Len() int {
	return len(t.funcs)
}

// Lookup returns the function with the given id.
func (t *Table) Lookup(id int) (*Info, bool) {
	if id < 0 || id >= len(t.funcs) {
		return nil, false
	}

	return &t.funcs[id], true
}

// All returns the functions ordered by id. Callers must not modify them.
func (t *Table) All() []Info {
	return t.funcs
}
