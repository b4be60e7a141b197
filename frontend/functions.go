package frontend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tcassar-diss/retsnoop/funcs"
)

var ErrBadFunctionTable = errors.New("malformed function table")

// functionTOML is one [[funcs]] entry. Ids are implicit: the n-th entry has
// id n, matching the ids the kernel side records.
type functionTOML struct {
	Name  string `toml:"name"`
	Addr  string `toml:"addr,omitempty"`
	Ret   string `toml:"ret,omitempty"`
	Entry bool   `toml:"entry,omitempty"`
}

type functionsTOML struct {
	Funcs []functionTOML `toml:"funcs"`
}

// ParseTOMLFunctions reads the function table written by the attacher.
func ParseTOMLFunctions(filepath string) (*funcs.Table, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to open function table: %w", err)
	}
	defer file.Close()

	t, err := DecodeTOMLFunctions(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath, err)
	}

	return t, nil
}

func DecodeTOMLFunctions(r io.Reader) (*funcs.Table, error) {
	var parsed functionsTOML

	if _, err := toml.NewDecoder(r).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode toml: %w", err)
	}

	infos := make([]funcs.Info, 0, len(parsed.Funcs))
	rets := make(map[int]funcs.Flags)

	for id, f := range parsed.Funcs {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: function #%d has no name", ErrBadFunctionTable, id)
		}

		info := funcs.Info{ID: id, Name: f.Name}

		if f.Addr != "" {
			addr, err := strconv.ParseUint(strings.TrimPrefix(f.Addr, "0x"), 16, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad address %q for %s", ErrBadFunctionTable, f.Addr, f.Name)
			}

			info.Addr = addr
		}

		if f.Entry {
			info.Flags |= funcs.IsEntry
		}

		if f.Ret != "" {
			ret, err := funcs.ParseRet(f.Ret)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrBadFunctionTable, f.Name, err)
			}

			rets[id] = ret
		}

		infos = append(infos, info)
	}

	t, err := funcs.NewTable(infos)
	if err != nil {
		return nil, err
	}

	for id, ret := range rets {
		t.SetRet(id, ret)
	}

	return t, nil
}

// MarshalTOMLFunctions writes t in the format ParseTOMLFunctions reads.
func MarshalTOMLFunctions(file io.Writer, t *funcs.Table) error {
	var out functionsTOML

	for _, f := range t.All() {
		entry := functionTOML{
			Name:  f.Name,
			Entry: f.Flags&funcs.IsEntry != 0,
		}

		if f.Addr != 0 {
			entry.Addr = fmt.Sprintf("0x%x", f.Addr)
		}

		if f.Classified() {
			entry.Ret = funcs.RetName(f.Flags)
		}

		out.Funcs = append(out.Funcs, entry)
	}

	if err := toml.NewEncoder(file).Encode(out); err != nil {
		return fmt.Errorf("failed to encode function table: %w", err)
	}

	return nil
}
