package stack

import (
	"regexp"
	"slices"

	"github.com/tcassar-diss/retsnoop/ksyms"
)

// FtraceOffset is where an fentry call site returns to in an instrumented
// function on x86-64 (the size of the patched-in call instruction).
const FtraceOffset = 0x5

// FilterConfig configures kernel stack repair.
type FilterConfig struct {
	// Verbose keeps instrumentation frames, flagged as filtered.
	Verbose bool
	// FtraceOffset is the return-site offset of the fentry call.
	FtraceOffset uint64
	// Trampoline matches BPF trampoline symbols.
	Trampoline *regexp.Regexp
	// Prog matches JITed BPF program symbols.
	Prog *regexp.Regexp
	// Helpers are symbols the stack capture itself adds to every trace.
	Helpers []string
}

// DefaultFilterConfig matches fentry/fexit instrumentation on current kernels.
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		Verbose:      false,
		FtraceOffset: FtraceOffset,
		Trampoline:   regexp.MustCompile(`^bpf_trampoline_[0-9]`),
		Prog:         regexp.MustCompile(`^bpf_prog_[0-9a-fA-F]`),
		Helpers:      []string{"bpf_get_stack_raw_tp"},
	}
}

// FilterKernelStack resolves and repairs a raw kernel stack trace.
func FilterKernelStack(addrs []uint64, sl SymbolLookup, cfg *FilterConfig) []KernelFrame {
	return Repair(Resolve(addrs, sl), cfg)
}

// Resolve reverses addrs (captured innermost first) into call order and
// resolves every address. Unresolvable addresses keep a nil symbol.
func Resolve(addrs []uint64, sl SymbolLookup) []KernelFrame {
	frames := make([]KernelFrame, len(addrs))

	for i, addr := range addrs {
		frames[len(addrs)-i-1] = KernelFrame{
			Sym:  sl.Resolve(addr),
			Addr: addr,
		}
	}

	return frames
}

// Repair removes (or, in verbose mode, flags) frames introduced by the
// instrumentation. frames is not modified.
//
// An fexit trampoline sitting in the middle of a traced function shows up
// as three frames:
//
//	bpf_map_alloc_percpu+0x3f
//	bpf_trampoline_6442494949_0+0x6d
//	bpf_map_alloc_percpu+0x5
//
// Only the first one (in call order) is where the function really is.
func Repair(frames []KernelFrame, cfg *FilterConfig) []KernelFrame {
	out := make([]KernelFrame, 0, len(frames))

	for i := 0; i < len(frames); i++ {
		f := frames[i]

		if f.Sym == nil {
			out = append(out, f)
			continue
		}

		if i+2 < len(frames) && cfg.isBridge(frames[i], frames[i+1], frames[i+2]) {
			if cfg.Verbose {
				f.Filtered = true
				out = append(out, f)
			}

			continue
		}

		if cfg.isInstrumentation(f) {
			if cfg.Verbose {
				f.Filtered = true
				out = append(out, f)
			}

			continue
		}

		out = append(out, f)
	}

	return out
}

func (cfg *FilterConfig) isBridge(call, tramp, real KernelFrame) bool {
	if call.Filtered || real.Sym == nil || !cfg.isTrampoline(tramp) {
		return false
	}

	return sameSymbol(call.Sym, real.Sym) && call.Addr-call.Sym.Addr == cfg.FtraceOffset
}

func (cfg *FilterConfig) isTrampoline(f KernelFrame) bool {
	return f.Sym != nil && cfg.Trampoline != nil && cfg.Trampoline.MatchString(f.Sym.Name)
}

func (cfg *FilterConfig) isInstrumentation(f KernelFrame) bool {
	if cfg.isTrampoline(f) {
		return true
	}

	if cfg.Prog != nil && cfg.Prog.MatchString(f.Sym.Name) {
		return true
	}

	return slices.Contains(cfg.Helpers, f.Sym.Name)
}

func sameSymbol(a, b *ksyms.Symbol) bool {
	return a == b || (a.Name == b.Name && a.Addr == b.Addr)
}
