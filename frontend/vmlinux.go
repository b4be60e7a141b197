package frontend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var ErrFindVmlinuxFailed = errors.New("failed to locate vmlinux image, use -k to specify it")

// VmlinuxCandidates are the usual install locations of a vmlinux image with
// DWARF, formatted with the kernel release.
var VmlinuxCandidates = []string{
	"/boot/vmlinux-%[1]s",
	"/lib/modules/%[1]s/vmlinux-%[1]s",
	"/lib/modules/%[1]s/build/vmlinux",
	"/usr/lib/modules/%[1]s/kernel/vmlinux",
	"/usr/lib/debug/boot/vmlinux-%[1]s",
	"/usr/lib/debug/boot/vmlinux-%[1]s.debug",
	"/usr/lib/debug/lib/modules/%[1]s/vmlinux",
}

// KernelRelease returns the running kernel's release (uname -r).
func KernelRelease() (string, error) {
	var uts unix.Utsname

	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("failed to uname: %w", err)
	}

	return unix.ByteSliceToString(uts.Release[:]), nil
}

// FindVmlinux returns the first readable candidate under root.
func FindVmlinux(logger *zap.SugaredLogger, root, release string) (string, error) {
	for _, c := range VmlinuxCandidates {
		path := filepath.Join(root, fmt.Sprintf(c, release))

		if err := unix.Access(path, unix.R_OK); err != nil {
			logger.Debugw("no vmlinux image", "path", path)
			continue
		}

		if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
			continue
		}

		logger.Infow("using vmlinux image", "path", path)

		return path, nil
	}

	return "", fmt.Errorf("%w: kernel %s", ErrFindVmlinuxFailed, release)
}
