package funcs

import (
	"bytes"
	"testing"

	"github.com/cilium/ebpf/btf"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fn(name string, ret btf.Type) *btf.Func {
	return &btf.Func{
		Name:    name,
		Type:    &btf.FuncProto{Return: ret},
		Linkage: btf.GlobalFunc,
	}
}

func TestClassify(t *testing.T) {
	s32 := &btf.Int{Name: "int", Size: 4, Encoding: btf.Signed}
	u32 := &btf.Int{Name: "unsigned int", Size: 4}
	s64 := &btf.Int{Name: "long", Size: 8, Encoding: btf.Signed}
	u8 := &btf.Int{Name: "u8", Size: 1}
	bool8 := &btf.Int{Name: "_Bool", Size: 1, Encoding: btf.Bool}
	s16 := &btf.Int{Name: "short", Size: 2, Encoding: btf.Signed}
	ptr := &btf.Pointer{Target: &btf.Void{}}

	cases := []struct {
		name     string
		ret      btf.Type
		expected Flags
	}{
		{name: "void", ret: &btf.Void{}, expected: CantFail},
		{name: "no return", ret: nil, expected: CantFail},
		{name: "pointer", ret: ptr, expected: RetPtr},
		{name: "int", ret: s32, expected: NeedsSignExt},
		{name: "long", ret: s64, expected: 0},
		{name: "unsigned", ret: u32, expected: CantFail},
		{name: "u8", ret: u8, expected: CantFail},
		{name: "bool", ret: bool8, expected: CantFail},
		{name: "short", ret: s16, expected: CantFail},
		{
			name:     "typedef chain",
			ret:      &btf.Const{Type: &btf.Typedef{Name: "ssize_t", Type: s64}},
			expected: 0,
		},
		{
			name:     "volatile typedef int",
			ret:      &btf.Volatile{Type: &btf.Typedef{Name: "s32", Type: s32}},
			expected: NeedsSignExt,
		},
		{
			name:     "typedef pointer",
			ret:      &btf.Typedef{Name: "cpumask_var_t", Type: ptr},
			expected: RetPtr,
		},
		{
			name:     "enum",
			ret:      &btf.Enum{Name: "print_line_t", Size: 4},
			expected: NeedsSignExt,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.expected, Classify(fn("f", c.ret)))
		})
	}
}

func TestNewTable(t *testing.T) {
	tbl, err := NewTable([]Info{
		{ID: 1, Name: "b"},
		{ID: 0, Name: "a"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())

	info, ok := tbl.Lookup(1)
	require.True(t, ok)
	require.Equal(t, "b", info.Name)

	_, ok = tbl.Lookup(2)
	require.False(t, ok)
	_, ok = tbl.Lookup(-1)
	require.False(t, ok)

	_, err = NewTable([]Info{{ID: 0}, {ID: 2}})
	require.ErrorIs(t, err, ErrTableNotDense)

	_, err = NewTable([]Info{{ID: 0}, {ID: 0}})
	require.ErrorIs(t, err, ErrTableNotDense)
}

func TestMarkEntries(t *testing.T) {
	tbl, err := NewTable([]Info{
		{ID: 0, Name: "__x64_sys_bpf"},
		{ID: 1, Name: "bpf_map_alloc_percpu"},
		{ID: 2, Name: "__x64_sys_perf_event_open"},
	})
	require.NoError(t, err)

	preset, err := FindPreset("bpf")
	require.NoError(t, err)

	n, err := tbl.MarkEntries(zap.NewNop().Sugar(), preset.Entry)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, IsEntry, tbl.All()[0].Flags&IsEntry)
	require.Zero(t, tbl.All()[1].Flags&IsEntry)
	require.Zero(t, tbl.All()[2].Flags&IsEntry)

	_, err = FindPreset("nope")
	require.ErrorIs(t, err, ErrUnknownPreset)
}

func TestClassifyFromBTF(t *testing.T) {
	s32 := &btf.Int{Name: "int", Size: 4, Encoding: btf.Signed}
	ptr := &btf.Pointer{Target: s32}

	b, err := btf.NewBuilder([]btf.Type{
		fn("bpf_map_alloc_percpu", ptr),
		fn("map_check_btf", s32),
	})
	require.NoError(t, err)

	raw, err := b.Marshal(nil, nil)
	require.NoError(t, err)

	spec, err := btf.LoadSpecFromReader(bytes.NewReader(raw))
	require.NoError(t, err)

	tbl, err := NewTable([]Info{
		{ID: 0, Name: "bpf_map_alloc_percpu"},
		{ID: 1, Name: "map_check_btf"},
		{ID: 2, Name: "not_in_btf"},
		{ID: 3, Name: "map_check_btf"},
	})
	require.NoError(t, err)

	// the table file wins over BTF
	tbl.SetRet(3, CantFail)

	require.NoError(t, tbl.ClassifyFromBTF(zap.NewNop().Sugar(), spec))

	all := tbl.All()
	require.Equal(t, RetPtr, all[0].Flags.Ret())
	require.Equal(t, NeedsSignExt, all[1].Flags.Ret())
	require.Equal(t, Flags(0), all[2].Flags.Ret())
	require.Equal(t, CantFail, all[3].Flags.Ret())
}

func TestFlags_String(t *testing.T) {
	require.Equal(t, "int", Flags(0).String())
	require.Equal(t, "entry", IsEntry.String())
	require.Equal(t, "entry|sign-ext", (IsEntry | NeedsSignExt).String())

	for _, f := range []Flags{0, NeedsSignExt, RetPtr, CantFail} {
		got, err := ParseRet(RetName(f))
		require.NoError(t, err)
		require.Equal(t, f, got)
	}

	_, err := ParseRet("float")
	require.ErrorIs(t, err, ErrUnknownRet)
}
