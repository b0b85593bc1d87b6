//go:build windows

package report

import (
	"os"
)

// atomicWriteFile writes data to path.tmp and renames it into place.
// renameio does not support Windows.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
