package stack_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/retsnoop/funcs"
	"github.com/tcassar-diss/retsnoop/ksyms"
)

const testKallsyms = `ffffffff81000000 T _stext
ffffffff81100000 T entry_SYSCALL_64_after_hwframe
ffffffff81101000 T do_syscall_64
ffffffff8116a3d0 T bpf_map_alloc_percpu
ffffffff8116b000 T map_create
ffffffff81200000 T __x64_sys_bpf
ffffffff81201000 T __sys_bpf
ffffffff81300000 T bpf_get_stack_raw_tp
ffffffff81400000 T pcpu_alloc
ffffffffa16db000 t bpf_trampoline_6442494949_0	[bpf]
ffffffffa16dc000 t bpf_prog_6deef7357e7b4530_fexit	[bpf]
`

func testSymbols(t *testing.T) *ksyms.Table {
	t.Helper()

	tbl, err := ksyms.Parse(strings.NewReader(testKallsyms))
	require.NoError(t, err)

	return tbl
}

func addr(t *testing.T, tbl *ksyms.Table, name string, off uint64) uint64 {
	t.Helper()

	sym := tbl.Lookup(name)
	require.NotNil(t, sym, name)

	return sym.Addr + off
}

func testFuncs(t *testing.T) *funcs.Table {
	t.Helper()

	tbl, err := funcs.NewTable([]funcs.Info{
		{ID: 0, Name: "__x64_sys_bpf", Flags: funcs.IsEntry | funcs.NeedsSignExt},
		{ID: 1, Name: "__sys_bpf", Flags: funcs.NeedsSignExt},
		{ID: 2, Name: "map_create", Flags: funcs.NeedsSignExt},
		{ID: 3, Name: "bpf_map_alloc_percpu", Flags: funcs.RetPtr},
		{ID: 4, Name: "pcpu_alloc", Flags: funcs.RetPtr},
		{ID: 5, Name: "is_enabled", Flags: funcs.CantFail},
	})
	require.NoError(t, err)

	return tbl
}
