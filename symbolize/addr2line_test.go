package symbolize

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAddr2Line answers requests the way `addr2line -a -f -i` does.
func fakeAddr2Line(t *testing.T, known map[uint64][]Location) *Addr2Line {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	go func() {
		defer respW.Close()

		sc := bufio.NewScanner(reqR)
		for sc.Scan() {
			addr, err := strconv.ParseUint(sc.Text(), 16, 64)
			if err != nil {
				respW.CloseWithError(err)
				return
			}

			fmt.Fprintf(respW, "0x%016x\n", addr)

			locs, ok := known[addr]
			if !ok {
				fmt.Fprint(respW, "??\n??:0\n")
				continue
			}

			for _, l := range locs {
				fmt.Fprintf(respW, "%s\n%s\n", l.Func, l.Source)
			}
		}
	}()

	t.Cleanup(func() { reqR.Close() })

	return newAddr2Line(zap.NewNop().Sugar(), reqW, respR)
}

func TestAddr2Line_Symbolize(t *testing.T) {
	inlined := []Location{
		{Func: "pcpu_alloc_area", Source: "/build/linux/mm/percpu.c:1742"},
		{Func: "pcpu_alloc", Source: "/build/linux/mm/percpu.c:1820"},
	}

	a := fakeAddr2Line(t, map[uint64][]Location{
		0xffffffff81400010: inlined,
		0xffffffff8116b1a2: {{Func: "map_create", Source: "/build/linux/kernel/bpf/syscall.c:1134"}},
	})

	locs, err := a.Symbolize(0xffffffff81400010)
	require.NoError(t, err)
	require.Equal(t, inlined, locs)

	// responses stay in sync across requests
	locs, err = a.Symbolize(0xffffffff8116b1a2)
	require.NoError(t, err)
	require.Equal(t, []Location{{Func: "map_create", Source: "/build/linux/kernel/bpf/syscall.c:1134"}}, locs)

	// no debug info: nothing to annotate with
	locs, err = a.Symbolize(0x1234)
	require.NoError(t, err)
	require.Empty(t, locs)

	// still in sync after an unknown address
	locs, err = a.Symbolize(0xffffffff81400010)
	require.NoError(t, err)
	require.Equal(t, inlined, locs)

	require.NoError(t, a.Close())

	_, err = a.Symbolize(0xffffffff81400010)
	require.ErrorIs(t, err, ErrResolverClosed)
}

func TestAddr2Line_BadEcho(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	go func() {
		bufio.NewReader(reqR).ReadString('\n')
		fmt.Fprint(respW, "garbage\n")
	}()

	a := newAddr2Line(zap.NewNop().Sugar(), reqW, respR)

	_, err := a.Symbolize(0x10)
	require.ErrorIs(t, err, ErrBadResponse)
}
