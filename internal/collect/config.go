// Package collect runs the probe registry against one session and folds the
// results into a Report.
//
// Probes run strictly one after another in registry order. A probe that
// fails contributes an empty entry (an empty sequence, or the unavailable
// marker for single-row probes) and never stops the probes after it.
package collect

import (
	"strconv"
	"time"

	perrors "github.com/koltyakov/pgdiag/internal/errors"
	"github.com/koltyakov/pgdiag/internal/probe"
)

// Default configuration values.
const (
	// DefaultProbeTimeout disables the per-probe timeout.
	DefaultProbeTimeout = time.Duration(0)

	// MaxProbeTimeout is the largest per-probe timeout accepted.
	MaxProbeTimeout = 10 * time.Minute
)

// Config holds the configuration for a collection run.
type Config struct {
	// Extended adds the connection, activity, databases and settings probes.
	Extended bool `json:"extended" yaml:"extended" mapstructure:"extended"`

	// ProbeTimeout bounds each probe. Zero leaves probes unbounded.
	ProbeTimeout time.Duration `json:"probe_timeout" yaml:"probe_timeout" mapstructure:"probe_timeout"`

	// ToolVersion is recorded in the report metadata.
	ToolVersion string `json:"-" yaml:"-" mapstructure:"-"`
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.ProbeTimeout < 0 {
		return perrors.NewValidationError("probe_timeout", c.ProbeTimeout.String(), "must not be negative")
	}
	if c.ProbeTimeout > MaxProbeTimeout {
		return perrors.NewValidationError("probe_timeout", c.ProbeTimeout.String(),
			"exceeds maximum of "+strconv.Itoa(int(MaxProbeTimeout/time.Minute))+" minutes")
	}
	return nil
}

// Registry returns the probe set selected by c.
func (c Config) Registry() *probe.Registry {
	if c.Extended {
		return probe.Extended()
	}
	return probe.Default()
}

// Meta contains metadata about the collection run.
type Meta struct {
	// RunID identifies the run in logs and reports.
	RunID string `json:"run_id"`

	// Target is host:port/dbname of the session, without credentials.
	Target string `json:"target,omitempty"`

	// StartedAt is when the collection started.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the collection took.
	Duration time.Duration `json:"duration"`

	// Version is the pgdiag version that generated the report.
	Version string `json:"version"`

	// ServerVersion is the parsed server version, empty when unknown.
	ServerVersion string `json:"server_version,omitempty"`
}
