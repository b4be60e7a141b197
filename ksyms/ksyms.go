// Package ksyms loads the kernel symbol table and resolves raw kernel
// addresses to the nearest preceding symbol.
package ksyms

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// DefaultPath is where the running kernel exposes its symbols.
const DefaultPath = "/proc/kallsyms"

var (
	ErrSymbolPermissions = errors.New("unable to read kallsyms addresses - check capabilities")
	ErrBadLine           = errors.New("unexpected line in kallsyms")
)

// Symbol is one kernel text symbol.
type Symbol struct {
	Name   string
	Addr   uint64
	Module string
}

// Table is an address-sorted symbol table. It is read-only once loaded and
// safe for concurrent lookups.
type Table struct {
	syms []Symbol
}

// Load reads the symbol table at path (usually /proc/kallsyms).
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return t, nil
}

// Parse reads kallsyms formatted data: "ADDR TYPE NAME [MODULE]".
func Parse(r io.Reader) (*Table, error) {
	var (
		syms      []Symbol
		noSymbols = true
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if len(fields) < 3 {
			return nil, fmt.Errorf("%w: %q", ErrBadLine, scanner.Text())
		}

		// only text symbols can show up in a stack trace, see 'man nm'
		if strings.IndexByte("TtWw", fields[1][0]) == -1 {
			continue
		}

		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse address %q: %w", fields[0], err)
		}

		if addr != 0 {
			noSymbols = false
		}

		sym := Symbol{Name: fields[2], Addr: addr}
		if len(fields) > 3 {
			sym.Module = strings.Trim(fields[3], "[]")
		}

		syms = append(syms, sym)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan kallsyms: %w", err)
	}

	if noSymbols {
		return nil, ErrSymbolPermissions
	}

	sort.SliceStable(syms, func(i, j int) bool {
		return syms[i].Addr < syms[j].Addr
	})

	return &Table{syms: syms}, nil
}

// Len returns the number of symbols in the table.
func (t *Table) Len() int {
	return len(t.syms)
}

// Resolve returns the symbol covering addr: the last symbol whose address is
// not greater than addr. It returns nil when addr precedes every symbol.
func (t *Table) Resolve(addr uint64) *Symbol {
	idx := sort.Search(len(t.syms), func(i int) bool {
		return t.syms[i].Addr > addr
	})
	if idx == 0 {
		return nil
	}

	return &t.syms[idx-1]
}

// Lookup finds a symbol by exact name.
func (t *Table) Lookup(name string) *Symbol {
	for i := range t.syms {
		if t.syms[i].Name == name {
			return &t.syms[i]
		}
	}

	return nil
}
