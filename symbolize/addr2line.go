package symbolize

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// sentinel is sent after every real address. addr2line echoes it back as
// sentinelEcho followed by a single unknown location, which marks the end
// of the real response.
const (
	sentinel     = "0"
	sentinelEcho = "0x0000000000000000"
)

// Addr2Line drives a long-lived binutils addr2line process.
type Addr2Line struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	cmd    *exec.Cmd
	w      io.WriteCloser
	r      *bufio.Reader
	closed bool
}

// NewAddr2Line starts addr2line against vmlinux. With inlines set every
// address also resolves the chain of inlined calls.
func NewAddr2Line(ctx context.Context, logger *zap.SugaredLogger, bin, vmlinux string, inlines bool) (*Addr2Line, error) {
	if bin == "" {
		bin = "addr2line"
	}

	args := []string{"-a", "-f"}
	if inlines {
		args = append(args, "-i")
	}
	args = append(args, "-e", vmlinux)

	cmd := exec.CommandContext(ctx, bin, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open addr2line stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open addr2line stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start addr2line for %s: %w", vmlinux, err)
	}

	logger.Infow("started addr2line", "vmlinux", vmlinux, "inlines", inlines, "pid", cmd.Process.Pid)

	a := newAddr2Line(logger, stdin, stdout)
	a.cmd = cmd

	return a, nil
}

func newAddr2Line(logger *zap.SugaredLogger, w io.WriteCloser, r io.Reader) *Addr2Line {
	return &Addr2Line{
		logger: logger,
		w:      w,
		r:      bufio.NewReader(r),
	}
}

// Symbolize returns the locations for addr, innermost inline first.
func (a *Addr2Line) Symbolize(addr uint64) ([]Location, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrResolverClosed
	}

	if _, err := fmt.Fprintf(a.w, "%x\n%s\n", addr, sentinel); err != nil {
		return nil, fmt.Errorf("failed to send address to addr2line: %w", err)
	}

	echo, err := a.readLine()
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(echo, "0x") {
		return nil, fmt.Errorf("%w: expected address echo, got %q", ErrBadResponse, echo)
	}

	var locs []Location

	for {
		line, err := a.readLine()
		if err != nil {
			return nil, err
		}

		if line == sentinelEcho {
			break
		}

		src, err := a.readLine()
		if err != nil {
			return nil, err
		}

		if unknown(line, src) {
			continue
		}

		locs = append(locs, Location{Func: line, Source: src})
	}

	// the sentinel's own "??" / "??:0" pair
	for range 2 {
		if _, err := a.readLine(); err != nil {
			return nil, err
		}
	}

	return locs, nil
}

// unknown reports addr2line's "??" / "??:0" answer for an address it has
// no debug info for.
func unknown(fn, src string) bool {
	return fn == "??" && strings.HasPrefix(src, "??")
}

func (a *Addr2Line) readLine() (string, error) {
	line, err := a.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read addr2line response: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// Close shuts down the addr2line process.
func (a *Addr2Line) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if err := a.w.Close(); err != nil {
		a.logger.Warnw("failed to close addr2line stdin", "error", err)
	}

	if a.cmd == nil {
		return nil
	}

	if err := a.cmd.Wait(); err != nil {
		return fmt.Errorf("addr2line exited with error: %w", err)
	}

	return nil
}
