package collect

import (
	"context"
	"time"

	"github.com/blang/semver/v4"
	"github.com/google/uuid"

	"github.com/koltyakov/pgdiag/internal/conn"
	"github.com/koltyakov/pgdiag/internal/logging"
	"github.com/koltyakov/pgdiag/internal/probe"
)

// Collector drives a probe registry through an executor.
type Collector struct {
	exec     *probe.Executor
	registry *probe.Registry
	log      *logging.Logger
	version  string
	now      func() time.Time
}

// NewCollector builds a Collector from cfg.
func NewCollector(cfg Config, log *logging.Logger) *Collector {
	if log == nil {
		log = logging.NewNop()
	}
	return &Collector{
		exec:     probe.NewExecutor(log, probe.WithTimeout(cfg.ProbeTimeout)),
		registry: cfg.Registry(),
		log:      log,
		version:  cfg.ToolVersion,
		now:      time.Now,
	}
}

// WithRegistry replaces the probe set.
func (c *Collector) WithRegistry(r *probe.Registry) *Collector {
	c.registry = r
	return c
}

// Collect runs every registered probe once, in order, and returns the
// Report. It never fails: broken probes yield empty entries. If ctx is
// cancelled the remaining probes are not started and are reported as
// failed.
func (c *Collector) Collect(ctx context.Context, q probe.Queryer) Report {
	start := c.now()
	rep := Report{
		Entries: make([]Entry, 0, c.registry.Len()),
		Meta: Meta{
			RunID:     uuid.NewString(),
			StartedAt: start,
			Version:   c.version,
		},
	}
	if s, ok := q.(interface{ Addr() string }); ok {
		rep.Meta.Target = s.Addr()
	}

	log := c.log.WithRun(rep.Meta.RunID)
	exec := c.exec.WithLogger(log)
	var server *semver.Version

	for _, p := range c.registry.Probes() {
		if err := ctx.Err(); err != nil {
			log.Warn("collection interrupted, probe skipped", "probe", p.Name, "error", err)
			rep.Entries = append(rep.Entries, newEntry(p, nil, true))
			continue
		}

		res, err := exec.ExecuteProbe(ctx, q, p, p.QueryFor(server))
		entry := newEntry(p, res, err != nil)
		rep.Entries = append(rep.Entries, entry)

		if p.Name == probe.VersionProbe {
			server = serverVersion(entry)
			if server != nil {
				rep.Meta.ServerVersion = server.String()
			}
		}
	}

	rep.Meta.Duration = c.now().Sub(start)
	if failed := rep.Failed(); len(failed) > 0 {
		log.Debug("collection finished with failed probes", "failed", failed)
	}
	return rep
}

func serverVersion(e Entry) *semver.Version {
	if e.Record == nil {
		return nil
	}
	raw, ok := e.Record.Get("version")
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil
	}
	v, ok := probe.ParseServerVersion(s)
	if !ok {
		return nil
	}
	return &v
}

// Run opens a session from connCfg, collects a Report and releases the
// session before returning. A connection failure is the only way to get no
// Report; it is returned as *errors.ConnectionError.
func Run(ctx context.Context, connCfg conn.Config, cfg Config, log *logging.Logger) (Report, error) {
	var rep Report
	err := conn.WithSession(ctx, connCfg, func(s *conn.Session) error {
		rep = NewCollector(cfg, log).Collect(ctx, s)
		return nil
	})
	return rep, err
}
