package stack_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/retsnoop/stack"
)

type frameDesc struct {
	name     string
	off      uint64
	filtered bool
}

func describe(frames []stack.KernelFrame) []frameDesc {
	out := make([]frameDesc, 0, len(frames))
	for _, f := range frames {
		out = append(out, frameDesc{name: f.Name(), off: f.Offset(), filtered: f.Filtered})
	}

	return out
}

func verbose() *stack.FilterConfig {
	cfg := stack.DefaultFilterConfig()
	cfg.Verbose = true

	return cfg
}

// trampolineTrace is an fexit trampoline bridge in call order, wrapped in
// the frames that usually surround it.
func trampolineTrace(t *testing.T) []uint64 {
	syms := testSymbols(t)

	return []uint64{
		addr(t, syms, "do_syscall_64", 0x38),
		addr(t, syms, "map_create", 0x1a2),
		addr(t, syms, "bpf_map_alloc_percpu", 0x5),
		addr(t, syms, "bpf_trampoline_6442494949_0", 0x6d),
		addr(t, syms, "bpf_map_alloc_percpu", 0x3f),
		addr(t, syms, "pcpu_alloc", 0x10),
	}
}

func TestResolve_Reverses(t *testing.T) {
	syms := testSymbols(t)
	raw := []uint64{
		addr(t, syms, "pcpu_alloc", 0x10),
		addr(t, syms, "map_create", 0x1a2),
		0x10,
	}

	frames := stack.Resolve(raw, syms)
	require.Equal(t, []frameDesc{
		{name: ""},
		{name: "map_create", off: 0x1a2},
		{name: "pcpu_alloc", off: 0x10},
	}, describe(frames))
	require.Equal(t, uint64(0x10), frames[0].Addr)
}

func TestRepair_TrampolineBridge(t *testing.T) {
	syms := testSymbols(t)
	bridge := stack.Resolve([]uint64{
		addr(t, syms, "bpf_map_alloc_percpu", 0x3f),
		addr(t, syms, "bpf_trampoline_6442494949_0", 0x6d),
		addr(t, syms, "bpf_map_alloc_percpu", 0x5),
	}, syms)

	require.Equal(t, []frameDesc{
		{name: "bpf_map_alloc_percpu", off: 0x3f},
	}, describe(stack.Repair(bridge, stack.DefaultFilterConfig())))

	require.Equal(t, []frameDesc{
		{name: "bpf_map_alloc_percpu", off: 0x5, filtered: true},
		{name: "bpf_trampoline_6442494949_0", off: 0x6d, filtered: true},
		{name: "bpf_map_alloc_percpu", off: 0x3f},
	}, describe(stack.Repair(bridge, verbose())))
}

func TestFilterKernelStack(t *testing.T) {
	syms := testSymbols(t)

	// captured innermost first
	raw := slices.Clone(trampolineTrace(t))
	slices.Reverse(raw)
	raw = append([]uint64{
		addr(t, syms, "bpf_get_stack_raw_tp", 0x7c),
		addr(t, syms, "bpf_prog_6deef7357e7b4530_fexit", 0x31),
	}, raw...)

	require.Equal(t, []frameDesc{
		{name: "do_syscall_64", off: 0x38},
		{name: "map_create", off: 0x1a2},
		{name: "bpf_map_alloc_percpu", off: 0x3f},
		{name: "pcpu_alloc", off: 0x10},
	}, describe(stack.FilterKernelStack(raw, syms, stack.DefaultFilterConfig())))

	require.Equal(t, []frameDesc{
		{name: "do_syscall_64", off: 0x38},
		{name: "map_create", off: 0x1a2},
		{name: "bpf_map_alloc_percpu", off: 0x5, filtered: true},
		{name: "bpf_trampoline_6442494949_0", off: 0x6d, filtered: true},
		{name: "bpf_map_alloc_percpu", off: 0x3f},
		{name: "pcpu_alloc", off: 0x10},
		{name: "bpf_prog_6deef7357e7b4530_fexit", off: 0x31, filtered: true},
		{name: "bpf_get_stack_raw_tp", off: 0x7c, filtered: true},
	}, describe(stack.FilterKernelStack(raw, syms, verbose())))
}

func TestRepair_NoBridge(t *testing.T) {
	syms := testSymbols(t)

	cases := []struct {
		name string
		addr []uint64
	}{
		{
			name: "call site not at ftrace offset",
			addr: []uint64{
				addr(t, syms, "bpf_map_alloc_percpu", 0x3f),
				addr(t, syms, "bpf_trampoline_6442494949_0", 0x6d),
				addr(t, syms, "bpf_map_alloc_percpu", 0x9),
			},
		},
		{
			name: "different function around trampoline",
			addr: []uint64{
				addr(t, syms, "pcpu_alloc", 0x3f),
				addr(t, syms, "bpf_trampoline_6442494949_0", 0x6d),
				addr(t, syms, "bpf_map_alloc_percpu", 0x5),
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := describe(stack.Repair(stack.Resolve(c.addr, syms), stack.DefaultFilterConfig()))

			// only the trampoline itself goes away
			require.Len(t, got, 2)
			for _, f := range got {
				require.NotEqual(t, "bpf_trampoline_6442494949_0", f.name)
			}
		})
	}
}

func TestRepair_CustomOffset(t *testing.T) {
	syms := testSymbols(t)
	bridge := stack.Resolve([]uint64{
		addr(t, syms, "bpf_map_alloc_percpu", 0x3f),
		addr(t, syms, "bpf_trampoline_6442494949_0", 0x6d),
		addr(t, syms, "bpf_map_alloc_percpu", 0x4),
	}, syms)

	cfg := stack.DefaultFilterConfig()
	require.Len(t, stack.Repair(bridge, cfg), 2)

	cfg.FtraceOffset = 0x4
	require.Equal(t, []frameDesc{
		{name: "bpf_map_alloc_percpu", off: 0x3f},
	}, describe(stack.Repair(bridge, cfg)))
}

func TestRepair_TrailingInstrumentation(t *testing.T) {
	syms := testSymbols(t)

	// the innermost frame is the trampoline: there is nothing to replace it with
	frames := stack.Resolve([]uint64{
		addr(t, syms, "bpf_trampoline_6442494949_0", 0x20),
		addr(t, syms, "map_create", 0x10),
	}, syms)

	require.Equal(t, []frameDesc{
		{name: "map_create", off: 0x10},
	}, describe(stack.Repair(frames, stack.DefaultFilterConfig())))
}

func TestRepair_Unresolved(t *testing.T) {
	syms := testSymbols(t)
	frames := stack.Resolve([]uint64{0x1000, addr(t, syms, "map_create", 0x10), 0x2000}, syms)

	got := stack.Repair(frames, stack.DefaultFilterConfig())
	require.Len(t, got, 3)
	require.Nil(t, got[0].Sym)
	require.Equal(t, uint64(0x2000), got[0].Addr)
	require.Nil(t, got[2].Sym)
}

func TestRepair_Idempotent(t *testing.T) {
	syms := testSymbols(t)

	raw := slices.Clone(trampolineTrace(t))
	slices.Reverse(raw)
	raw = append([]uint64{
		addr(t, syms, "bpf_get_stack_raw_tp", 0x7c),
		addr(t, syms, "bpf_prog_6deef7357e7b4530_fexit", 0x31),
		0x42,
	}, raw...)

	for _, cfg := range []*stack.FilterConfig{stack.DefaultFilterConfig(), verbose()} {
		once := stack.FilterKernelStack(raw, syms, cfg)
		twice := stack.Repair(once, cfg)

		require.Equal(t, once, twice, "verbose=%v", cfg.Verbose)
	}
}
