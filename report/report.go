// Package report renders merged call stacks as text.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/tcassar-diss/retsnoop/errno"
	"github.com/tcassar-diss/retsnoop/stack"
	"github.com/tcassar-diss/retsnoop/symbolize"
	"go.uber.org/zap"
)

const (
	errWidth = 12
	latWidth = 12

	srcColumn = 70
	// extra room for the verbose address column
	addrColumnWidth = 18
)

type Config struct {
	Verbose bool
	// Resolver adds source locations. Nil disables symbolization.
	Resolver   symbolize.Resolver
	Errnos     *errno.Table
	Normalizer *symbolize.Normalizer
}

func DefaultConfig() *Config {
	return &Config{
		Errnos:     errno.Default,
		Normalizer: symbolize.NewNormalizer(symbolize.DefaultSourceDirs),
	}
}

type Printer struct {
	logger *zap.SugaredLogger
	w      io.Writer
	cfg    *Config
}

func NewPrinter(logger *zap.SugaredLogger, w io.Writer, cfg *Config) *Printer {
	if cfg.Errnos == nil {
		cfg.Errnos = errno.Default
	}

	if cfg.Normalizer == nil {
		cfg.Normalizer = symbolize.NewNormalizer(nil)
	}

	return &Printer{logger: logger, w: w, cfg: cfg}
}

// PrintEvent writes one line per row (plus inline continuation lines) and a
// blank line after the event.
func (p *Printer) PrintEvent(rows []stack.Row) error {
	var b strings.Builder

	for i := range rows {
		p.formatRow(&b, &rows[i])
	}

	b.WriteString("\n\n")

	if _, err := io.WriteString(p.w, b.String()); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// FormatResult renders the result column of a logical frame.
func FormatResult(f *stack.LogicalFrame, errs *errno.Table) string {
	if !f.Finished {
		return "[...]"
	}

	if f.Result == 0 {
		return "[NULL]"
	}

	if !f.CantFail {
		if name, ok := errs.Name(f.Result); ok {
			return "[-" + name + "]"
		}
	}

	return fmt.Sprintf("[%d]", f.Result)
}

func (p *Printer) formatRow(b *strings.Builder, row *stack.Row) {
	start := b.Len()
	col := func() int { return b.Len() - start }

	l, k := row.Logical, row.Kernel

	if k == nil {
		b.WriteByte('!')
	} else {
		b.WriteByte(' ')
	}

	if l != nil && l.Stitched {
		b.WriteString("* ")
	} else {
		b.WriteString("  ")
	}

	switch {
	case l != nil && !l.Finished:
		fmt.Fprintf(b, "%*s %-*s ", latWidth, "...", errWidth, "[...]")
	case l != nil:
		fmt.Fprintf(b, "%*dus %-*s ", latWidth-2, l.Latency.Microseconds(), errWidth, FormatResult(l, p.cfg.Errnos))
	default:
		fmt.Fprintf(b, "%*s ", latWidth+1+errWidth, "")
	}

	if p.cfg.Verbose {
		switch {
		case k != nil && k.Filtered:
			fmt.Fprintf(b, "~%016x ", k.Addr)
		case k != nil:
			fmt.Fprintf(b, " %016x ", k.Addr)
		default:
			fmt.Fprintf(b, " %16s ", "")
		}
	}

	var fname string

	switch {
	case k != nil && k.Sym != nil:
		fname = k.Sym.Name
	case l != nil:
		fname = l.Name
	case k != nil:
		// no symbol covers it
		fname = fmt.Sprintf("0x%x", k.Addr)
	}

	funcCol := col()
	b.WriteString(fname)

	if k != nil && k.Sym != nil {
		fmt.Fprintf(b, "+0x%x", k.Offset())
	}

	locs := p.symbolize(k)
	if len(locs) == 0 {
		b.WriteByte('\n')
		return
	}

	srcCol := srcColumn
	if p.cfg.Verbose {
		srcCol += addrColumnWidth
	}

	outer := locs[len(locs)-1]

	fmt.Fprintf(b, " %*s(", pad(srcCol, col()), "")

	if outer.Func != fname {
		fmt.Fprintf(b, "%s @ ", outer.Func)
	}

	fmt.Fprintf(b, "%s)\n", p.cfg.Normalizer.Normalize(outer.Source))

	// inlined callees, outermost first
	for i := len(locs) - 2; i >= 0; i-- {
		start = b.Len()
		fmt.Fprintf(b, "%*s. %s", funcCol, "", locs[i].Func)
		fmt.Fprintf(b, " %*s(%s)\n", pad(srcCol, col()), "", p.cfg.Normalizer.Normalize(locs[i].Source))
	}
}

func (p *Printer) symbolize(k *stack.KernelFrame) []symbolize.Location {
	if p.cfg.Resolver == nil || k == nil || k.Filtered {
		return nil
	}

	locs, err := p.cfg.Resolver.Symbolize(k.Addr)
	if err != nil {
		p.logger.Debugw("failed to symbolize address", "addr", fmt.Sprintf("%#x", k.Addr), "error", err)
		return nil
	}

	return locs
}

func pad(target, at int) int {
	if at < target {
		return target - at
	}

	return 0
}
