package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/tcassar-diss/retsnoop/errno"
	"github.com/tcassar-diss/retsnoop/stack"
)

var csvHeader = []string{
	"event",
	"index",
	"step",
	"function",
	"result",
	"latency-us",
	"finished",
	"stitched",
	"kernel-addr",
	"kernel-symbol",
}

// CSVWriter writes one CSV line per merged frame.
type CSVWriter struct {
	w           *csv.Writer
	errs        *errno.Table
	wroteHeader bool
}

func NewCSVWriter(w io.Writer, errs *errno.Table) *CSVWriter {
	if errs == nil {
		errs = errno.Default
	}

	return &CSVWriter{
		w:    csv.NewWriter(w),
		errs: errs,
	}
}

// WriteEvent writes the rows of one event and flushes.
func (c *CSVWriter) WriteEvent(event uint64, rows []stack.Row) error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		c.wroteHeader = true
	}

	for i := range rows {
		if err := c.w.Write(c.record(event, i, &rows[i])); err != nil {
			return fmt.Errorf("failed to write csv record: %w", err)
		}
	}

	c.w.Flush()

	if err := c.w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	return nil
}

func (c *CSVWriter) record(event uint64, idx int, row *stack.Row) []string {
	rec := make([]string, len(csvHeader))

	rec[0] = strconv.FormatUint(event, 10)
	rec[1] = strconv.Itoa(idx)
	rec[2] = row.Step.String()

	if l := row.Logical; l != nil {
		rec[3] = l.Name
		rec[6] = strconv.FormatBool(l.Finished)
		rec[7] = strconv.FormatBool(l.Stitched)

		if l.Finished {
			rec[5] = strconv.FormatInt(l.Latency.Microseconds(), 10)

			if l.CantFail {
				rec[4] = strconv.FormatInt(l.Result, 10)
			} else {
				rec[4] = c.errs.Format(l.Result)
			}
		}
	}

	if k := row.Kernel; k != nil {
		rec[8] = fmt.Sprintf("0x%x", k.Addr)

		if k.Sym != nil {
			rec[9] = fmt.Sprintf("%s+0x%x", k.Sym.Name, k.Offset())
			if rec[3] == "" {
				rec[3] = k.Sym.Name
			}
		}
	}

	return rec
}
