// Package symbolize maps kernel addresses to function names and source
// locations using the DWARF data of a vmlinux image.
package symbolize

import "errors"

var (
	ErrResolverClosed = errors.New("resolver is closed")
	ErrBadResponse    = errors.New("malformed addr2line response")
)

// Location is one function/source pair for an address. An address inside
// inlined code resolves to several locations, innermost first.
type Location struct {
	Func   string
	Source string // file:line
}

// Resolver symbolizes kernel addresses.
type Resolver interface {
	Symbolize(addr uint64) ([]Location, error)
}
