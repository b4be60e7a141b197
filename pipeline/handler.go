// Package pipeline runs captured error events through reconstruction, kernel
// stack repair and merging, and prints the result.
package pipeline

import (
	"fmt"
	"sync/atomic"

	"github.com/tcassar-diss/retsnoop/bpf"
	"github.com/tcassar-diss/retsnoop/report"
	"github.com/tcassar-diss/retsnoop/stack"
	"go.uber.org/zap"
)

type Config struct {
	Filter *stack.FilterConfig
	// Debug logs depth metadata and stack sizes of every event.
	Debug bool
}

func DefaultConfig() *Config {
	return &Config{
		Filter: stack.DefaultFilterConfig(),
	}
}

// Stats counts handled events by outcome.
type Stats struct {
	Received  uint64
	Skipped   uint64 // not an error stack
	Malformed uint64
	Printed   uint64
	Frames    uint64
}

type counters struct {
	received  atomic.Uint64
	skipped   atomic.Uint64
	malformed atomic.Uint64
	printed   atomic.Uint64
	frames    atomic.Uint64
}

// Handler processes one event at a time. The function and symbol tables
// must not change while events are handled.
type Handler struct {
	logger  *zap.SugaredLogger
	funcs   stack.FuncLookup
	syms    stack.SymbolLookup
	printer *report.Printer
	csv     *report.CSVWriter
	cfg     *Config
	stats   counters
}

func NewHandler(
	logger *zap.SugaredLogger,
	fl stack.FuncLookup,
	sl stack.SymbolLookup,
	printer *report.Printer,
	cfg *Config,
) *Handler {
	if cfg.Filter == nil {
		cfg.Filter = stack.DefaultFilterConfig()
	}

	return &Handler{
		logger:  logger,
		funcs:   fl,
		syms:    sl,
		printer: printer,
		cfg:     cfg,
	}
}

// SetCSV additionally writes every printed event to w.
func (h *Handler) SetCSV(w *report.CSVWriter) {
	h.csv = w
}

// HandleEvent satisfies bpf.EventHandler. Malformed events are logged and
// dropped; only output failures are returned.
func (h *Handler) HandleEvent(data []byte) error {
	h.stats.received.Add(1)

	cs, err := bpf.DecodeCallStack(data)
	if err != nil {
		h.stats.malformed.Add(1)
		h.logger.Warnw("dropping malformed event", "size", len(data), "error", err)

		return nil
	}

	if !cs.IsErr {
		h.stats.skipped.Add(1)
		return nil
	}

	if h.cfg.Debug {
		h.logger.Debugw("got error stack",
			"depth", cs.Depth,
			"max-depth", cs.MaxDepth,
			"saved-depth", cs.SavedDepth,
			"saved-max-depth", cs.SavedMaxDepth,
		)
	}

	rec := cs.Record()

	logical, err := stack.Reconstruct(rec, h.funcs)
	if err != nil {
		h.stats.malformed.Add(1)
		h.logger.Warnw("dropping event with corrupt call stack", "error", err)

		return nil
	}

	kernel := stack.FilterKernelStack(rec.Kstack, h.syms, h.cfg.Filter)

	if h.cfg.Debug {
		h.logger.Debugw("filtered stacks",
			"fstack", len(logical),
			"kstack", len(kernel),
			"kstack-raw", len(rec.Kstack),
		)
	}

	rows := stack.Merge(logical, kernel)

	if err := h.printer.PrintEvent(rows); err != nil {
		return fmt.Errorf("failed to print event: %w", err)
	}

	event := h.stats.printed.Add(1)
	h.stats.frames.Add(uint64(len(rows)))

	if h.csv != nil {
		if err := h.csv.WriteEvent(event, rows); err != nil {
			return fmt.Errorf("failed to export event: %w", err)
		}
	}

	return nil
}

func (h *Handler) Stats() Stats {
	return Stats{
		Received:  h.stats.received.Load(),
		Skipped:   h.stats.skipped.Load(),
		Malformed: h.stats.malformed.Load(),
		Printed:   h.stats.printed.Load(),
		Frames:    h.stats.frames.Load(),
	}
}
