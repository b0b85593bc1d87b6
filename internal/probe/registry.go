package probe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// Probe names. They double as report keys.
const (
	VersionProbe    = "version"
	StatementsProbe = "statements"
	ConnectionProbe = "connection"
	ActivityProbe   = "activity"
	DatabasesProbe  = "databases"
	SettingsProbe   = "settings"
)

// StatementsLimit caps the statements probe.
const StatementsLimit = 10

const versionQuery = `SELECT version()`

// statementsQuery reads pg_stat_statements, skipping its own introspection
// and keeping only the four DML kinds.
var statementsQuery = fmt.Sprintf(`
SELECT
    query,
    calls,
    total_exec_time,
    mean_exec_time,
    rows
FROM
    pg_stat_statements
WHERE
    query NOT ILIKE '%%pg_stat_statements%%' AND
    (query ILIKE 'SELECT%%' OR query ILIKE 'INSERT%%' OR query ILIKE 'UPDATE%%' OR query ILIKE 'DELETE%%')
ORDER BY
    total_exec_time DESC
LIMIT %d`, StatementsLimit)

// Before 13 the timing columns were total_time and mean_time.
var statementsLegacyQuery = fmt.Sprintf(`
SELECT
    query,
    calls,
    total_time AS total_exec_time,
    mean_time AS mean_exec_time,
    rows
FROM
    pg_stat_statements
WHERE
    query NOT ILIKE '%%pg_stat_statements%%' AND
    (query ILIKE 'SELECT%%' OR query ILIKE 'INSERT%%' OR query ILIKE 'UPDATE%%' OR query ILIKE 'DELETE%%')
ORDER BY
    total_time DESC
LIMIT %d`, StatementsLimit)

const connectionQuery = `
SELECT
    current_database() AS database,
    current_user AS "user",
    (SELECT rolsuper FROM pg_roles WHERE rolname = current_user) AS is_superuser,
    EXISTS (
        SELECT 1 FROM pg_auth_members m
        JOIN pg_roles r ON r.oid = m.roleid
        WHERE r.rolname = 'pg_monitor'
          AND m.member = (SELECT oid FROM pg_roles WHERE rolname = current_user)
    ) AS has_pg_monitor,
    current_setting('max_connections')::int AS max_connections,
    current_setting('ssl') AS ssl,
    pg_postmaster_start_time() AS started_at,
    EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'pg_stat_statements') AS pg_stat_statements`

const activityQuery = `
SELECT datname, coalesce(state, 'unknown') AS state, count(*) AS count
FROM pg_stat_activity
GROUP BY 1, 2
ORDER BY 1, 2`

const databasesQuery = `
SELECT
    d.datname AS name,
    pg_database_size(d.datname) AS size_bytes,
    coalesce(t.spcname, 'pg_default') AS tablespace,
    coalesce(a.cnt, 0) AS connections
FROM pg_database d
LEFT JOIN pg_tablespace t ON t.oid = d.dattablespace
LEFT JOIN (SELECT datname, count(*) cnt FROM pg_stat_activity GROUP BY 1) a ON a.datname = d.datname
WHERE NOT d.datistemplate
ORDER BY pg_database_size(d.datname) DESC`

const settingsQuery = `
SELECT name, setting, unit, source
FROM pg_settings
WHERE name IN (
    'shared_buffers', 'work_mem', 'maintenance_work_mem', 'effective_cache_size',
    'max_connections', 'wal_level', 'max_wal_size', 'checkpoint_timeout',
    'random_page_cost', 'seq_page_cost', 'effective_io_concurrency',
    'autovacuum', 'autovacuum_naptime', 'track_io_timing', 'track_functions'
)
ORDER BY name`

var (
	versionProbe = Probe{Name: VersionProbe, Query: versionQuery, Cardinality: One}

	statementsProbe = Probe{
		Name:        StatementsProbe,
		Query:       statementsQuery,
		Cardinality: Many,
		Legacy:      &Variant{Before: semver.MustParse("13.0.0"), Query: statementsLegacyQuery},
	}

	extendedProbes = []Probe{
		{Name: ConnectionProbe, Query: connectionQuery, Cardinality: One},
		{Name: ActivityProbe, Query: activityQuery, Cardinality: Many},
		{Name: DatabasesProbe, Query: databasesQuery, Cardinality: Many},
		{Name: SettingsProbe, Query: settingsQuery, Cardinality: Many},
	}
)

// Registry is a fixed, ordered set of probes with unique names.
type Registry struct {
	probes []Probe
}

// NewRegistry validates probes and freezes their order.
func NewRegistry(probes ...Probe) (*Registry, error) {
	seen := make(map[string]bool, len(probes))
	var errs []error
	for i, p := range probes {
		switch {
		case strings.TrimSpace(p.Name) == "":
			errs = append(errs, fmt.Errorf("probe #%d: empty name", i))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("probe %q: duplicate name", p.Name))
		case strings.TrimSpace(p.Query) == "":
			errs = append(errs, fmt.Errorf("probe %q: empty query", p.Name))
		case p.Cardinality != One && p.Cardinality != Many:
			errs = append(errs, fmt.Errorf("probe %q: unknown %s", p.Name, p.Cardinality))
		}
		seen[p.Name] = true
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	frozen := make([]Probe, len(probes))
	copy(frozen, probes)
	return &Registry{probes: frozen}, nil
}

// MustRegistry is NewRegistry for probe sets known at build time.
func MustRegistry(probes ...Probe) *Registry {
	r, err := NewRegistry(probes...)
	if err != nil {
		panic(err)
	}
	return r
}

// Default is the version probe followed by the statements probe.
func Default() *Registry {
	return MustRegistry(versionProbe, statementsProbe)
}

// Extended is Default plus connection, activity, database and settings
// probes.
func Extended() *Registry {
	return MustRegistry(append([]Probe{versionProbe, statementsProbe}, extendedProbes...)...)
}

// Probes returns the probes in execution order.
func (r *Registry) Probes() []Probe {
	out := make([]Probe, len(r.probes))
	copy(out, r.probes)
	return out
}

// Names returns probe names in execution order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.probes))
	for i, p := range r.probes {
		out[i] = p.Name
	}
	return out
}

// Len returns the number of probes.
func (r *Registry) Len() int {
	return len(r.probes)
}

// Lookup finds a probe by name.
func (r *Registry) Lookup(name string) (Probe, bool) {
	for _, p := range r.probes {
		if p.Name == name {
			return p, true
		}
	}
	return Probe{}, false
}
