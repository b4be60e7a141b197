package funcs

import (
	"errors"
	"fmt"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

var ErrUnknownPreset = errors.New("unknown preset")

// Preset is a named set of entry globs for a common use case.
type Preset struct {
	Name  string
	Entry []string
}

// Presets known to the tool.
var Presets = []Preset{
	{Name: "bpf", Entry: []string{"*_sys_bpf"}},
	{Name: "perf", Entry: []string{"*_sys_perf_event_open"}},
}

// FindPreset returns the preset called name.
func FindPreset(name string) (*Preset, error) {
	for i := range Presets {
		if Presets[i].Name == name {
			return &Presets[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}

// MarkEntries sets IsEntry on every function matching one of globs and
// returns how many were marked.
func (t *Table) MarkEntries(logger *zap.SugaredLogger, globs []string) (int, error) {
	matchers := make([]glob.Glob, 0, len(globs))

	for _, g := range globs {
		m, err := glob.Compile(g)
		if err != nil {
			return 0, fmt.Errorf("failed to compile entry glob %q: %w", g, err)
		}

		matchers = append(matchers, m)
	}

	marked := 0

	for i := range t.funcs {
		f := &t.funcs[i]

		for _, m := range matchers {
			if !m.Match(f.Name) {
				continue
			}

			if f.Flags&IsEntry == 0 {
				logger.Infow("function is marked as an entry point", "func", f.Name)
			}

			f.Flags |= IsEntry
			marked++

			break
		}
	}

	return marked, nil
}
