//go:build !windows

package report

import (
	"os"

	"github.com/google/renameio/v2"
)

// atomicWriteFile writes data to a temp file next to path and renames it
// into place.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
