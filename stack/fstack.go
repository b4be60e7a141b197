package stack

import (
	"fmt"
	"time"

	"github.com/tcassar-diss/retsnoop/funcs"
)

// Reconstruct builds the logical call stack of rec, outermost call first.
//
// Slots below Depth were still executing when the error fired and carry no
// result or latency. When the kernel side ran out of buffer it saved the
// overflowing part separately; the saved segment picks up exactly one level
// below MaxDepth and is appended as stitched frames.
func Reconstruct(rec *Record, fl FuncLookup) ([]LogicalFrame, error) {
	if int(rec.MaxDepth) > len(rec.Calls) {
		return nil, fmt.Errorf("%w: max depth %d, capacity %d", ErrDepthOverflow, rec.MaxDepth, len(rec.Calls))
	}

	stitched := rec.Stitched()
	if stitched && int(rec.SavedMaxDepth) > len(rec.Saved) {
		return nil, fmt.Errorf("%w: saved max depth %d, capacity %d", ErrDepthOverflow, rec.SavedMaxDepth, len(rec.Saved))
	}

	n := int(rec.MaxDepth)
	if stitched && rec.SavedMaxDepth >= rec.SavedDepth-1 {
		n += int(rec.SavedMaxDepth - rec.SavedDepth + 1)
	}

	frames := make([]LogicalFrame, 0, n)

	for i := 0; i < int(rec.MaxDepth); i++ {
		f := newFrame(fl, rec.Calls[i])
		if uint32(i) < rec.Depth {
			f.Finished = false
			f.Result = 0
			f.Latency = 0
		}

		frames = append(frames, f)
	}

	if !stitched {
		return frames, nil
	}

	for i := int(rec.SavedDepth) - 1; i < int(rec.SavedMaxDepth); i++ {
		f := newFrame(fl, rec.Saved[i])
		f.Stitched = true

		frames = append(frames, f)
	}

	return frames, nil
}

func newFrame(fl FuncLookup, c Call) LogicalFrame {
	f := LogicalFrame{
		Result:   c.Result,
		Latency:  time.Duration(c.Latency),
		Finished: true,
	}

	info, ok := fl.Lookup(int(c.ID))
	if !ok {
		f.Name = fmt.Sprintf("[unknown func #%d]", c.ID)
		return f
	}

	f.Name = info.Name
	f.Result = Reinterpret(c.Result, info.Flags)
	f.CantFail = info.Flags&funcs.CantFail != 0

	return f
}

// Reinterpret applies the return classification to a raw 64-bit result slot.
func Reinterpret(raw int64, flags funcs.Flags) int64 {
	if flags&funcs.NeedsSignExt != 0 {
		return int64(int32(raw))
	}

	return raw
}
