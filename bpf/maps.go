package bpf

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"
)

// OpenPinnedRingbuf opens the ring buffer the attacher pinned at path.
func OpenPinnedRingbuf(logger *zap.SugaredLogger, path string) (*ebpf.Map, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("failed to remove memlock rlimit: %w", err)
	}

	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load pinned map %s: %w", path, err)
	}

	if m.Type() != ebpf.RingBuf {
		m.Close()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRingbuf, path, m.Type())
	}

	logger.Infow("opened pinned ring buffer", "path", path, "size", m.MaxEntries())

	return m, nil
}
