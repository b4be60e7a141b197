package stack

// Step is a transition of the merge state machine.
type Step int

const (
	// AdvanceKernel emits a kernel frame with no logical counterpart.
	AdvanceKernel Step = iota
	// AdvanceBoth emits a logical frame together with its kernel frame.
	AdvanceBoth
	// AdvanceLogical emits a logical frame after the kernel stack ran out.
	AdvanceLogical
)

func (s Step) String() string {
	switch s {
	case AdvanceKernel:
		return "advance-kernel"
	case AdvanceBoth:
		return "advance-both"
	case AdvanceLogical:
		return "advance-logical"
	default:
		return "unknown"
	}
}

// Row is one line of merged output. Logical is nil for AdvanceKernel rows,
// Kernel is nil for AdvanceLogical rows.
type Row struct {
	Step    Step
	Logical *LogicalFrame
	Kernel  *KernelFrame
}

// Merge aligns the logical stack against the kernel stack. Kernel frames are
// consumed until one carries the name of the current logical frame, so kernel
// frames of functions that were not instrumented are kept in place.
func Merge(logical []LogicalFrame, kernel []KernelFrame) []Row {
	rows := make([]Row, 0, len(logical)+len(kernel))

	i, j := 0, 0
	for i < len(logical) {
		step := next(&logical[i], kernel, j)

		switch step {
		case AdvanceLogical:
			rows = append(rows, Row{Step: step, Logical: &logical[i]})
			i++
		case AdvanceKernel:
			rows = append(rows, Row{Step: step, Kernel: &kernel[j]})
			j++
		case AdvanceBoth:
			rows = append(rows, Row{Step: step, Logical: &logical[i], Kernel: &kernel[j]})
			i++
			j++
		}
	}

	for ; j < len(kernel); j++ {
		rows = append(rows, Row{Step: AdvanceKernel, Kernel: &kernel[j]})
	}

	return rows
}

func next(l *LogicalFrame, kernel []KernelFrame, j int) Step {
	if j >= len(kernel) {
		// either no kernel stack was captured or it is out of sync
		return AdvanceLogical
	}

	k := &kernel[j]
	if k.Sym == nil || k.Filtered || k.Sym.Name != l.Name {
		return AdvanceKernel
	}

	return AdvanceBoth
}
