package symbolize

import "strings"

// DefaultSourceDirs are the top-level directories of a Linux source tree.
var DefaultSourceDirs = []string{
	"arch/", "kernel/", "include/", "block/", "fs/", "net/",
	"drivers/", "mm/", "ipc/", "security/", "lib/", "crypto/",
	"certs/", "init/", "scripts/", "sound/", "tools/",
	"usr/", "virt/",
}

// Normalizer strips the build-machine prefix off source paths.
type Normalizer struct {
	dirs []string
}

func NewNormalizer(dirs []string) *Normalizer {
	return &Normalizer{dirs: dirs}
}

// Normalize returns path starting at the first directory (in list order)
// found anywhere in it, or path unchanged.
func (n *Normalizer) Normalize(path string) string {
	for _, dir := range n.dirs {
		if i := strings.Index(path, dir); i >= 0 {
			return path[i:]
		}
	}

	return path
}
