package report

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/koltyakov/pgdiag/internal/collect"
	perrors "github.com/koltyakov/pgdiag/internal/errors"
)

const (
	// timestampPlaceholder is replaced with the run's start time.
	timestampPlaceholder = "{ts}"

	// timestampFormat defines the format for timestamp placeholders.
	timestampFormat = "2006-01-02_1504"
)

// ExpandPath replaces {ts} in path with t. A zero t means now.
func ExpandPath(path string, t time.Time) string {
	if path == "" {
		return path
	}
	if t.IsZero() {
		t = time.Now()
	}
	return strings.ReplaceAll(path, timestampPlaceholder, t.Format(timestampFormat))
}

// WriteFile renders rep and atomically replaces path with it. Missing
// parent directories are created.
func WriteFile(path string, rep collect.Report, opts Options) error {
	data, err := Render(rep, opts)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return perrors.NewReportError("write", path, err)
		}
	}
	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return perrors.NewReportError("write", path, err)
	}
	return nil
}
