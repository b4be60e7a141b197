package funcs

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf/btf"
	"go.uber.org/zap"
)

// Classify decides how the captured return value of fn has to be read.
//
// The kernel side stores every result in a 64-bit slot, so 32-bit signed
// results need sign extension before they can be compared against error
// codes, pointers fail with NULL or ERR_PTR, and unsigned or sub-word results
// are never treated as errors.
func Classify(fn *btf.Func) Flags {
	proto, ok := fn.Type.(*btf.FuncProto)
	if !ok || proto.Return == nil {
		return CantFail
	}

	if _, ok := proto.Return.(*btf.Void); ok {
		return CantFail
	}

	return classifyType(btf.UnderlyingType(proto.Return))
}

func classifyType(t btf.Type) Flags {
	switch t := t.(type) {
	case *btf.Void:
		return CantFail
	case *btf.Pointer:
		return RetPtr
	case *btf.Int:
		if t.Encoding&btf.Signed == 0 {
			return CantFail
		}
	}

	size, err := btf.Sizeof(t)
	if err != nil {
		return 0
	}

	switch {
	case size < 4:
		return CantFail
	case size == 4:
		return NeedsSignExt
	default:
		return 0
	}
}

// ClassifyFromBTF classifies every function the table file did not classify.
// Functions missing from BTF keep the plain-integer default.
func (t *Table) ClassifyFromBTF(logger *zap.SugaredLogger, spec *btf.Spec) error {
	for i := range t.funcs {
		f := &t.funcs[i]
		if f.classified {
			continue
		}

		var fn *btf.Func
		if err := spec.TypeByName(f.Name, &fn); err != nil {
			if errors.Is(err, btf.ErrNotFound) || errors.Is(err, btf.ErrMultipleMatches) {
				logger.Debugw("no usable btf for function, assuming int return", "func", f.Name, "err", err)
				continue
			}

			return fmt.Errorf("failed to look up btf for %s: %w", f.Name, err)
		}

		f.Flags = f.Flags&^retMask | Classify(fn)
		f.classified = true
	}

	return nil
}
