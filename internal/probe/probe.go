// Package probe runs static diagnostic queries and normalizes their output.
//
// A Probe is a named query with a declared cardinality. The Executor runs a
// query against a session and always returns a Result: failures are logged
// and turned into an empty Result so a single broken probe never stops the
// rest of a run.
package probe

import (
	"fmt"
	"regexp"

	"github.com/blang/semver/v4"
)

// Cardinality declares how many rows a probe is expected to produce and
// therefore how it is shaped in a report.
type Cardinality int

const (
	// Many probes contribute a sequence of Records.
	Many Cardinality = iota
	// One probes contribute a single Record.
	One
)

func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	default:
		return fmt.Sprintf("cardinality(%d)", int(c))
	}
}

// Variant is an alternative query for servers older than Before.
type Variant struct {
	Before semver.Version
	Query  string
}

// Probe is an immutable named diagnostic query.
type Probe struct {
	Name        string
	Query       string
	Cardinality Cardinality

	// Legacy, when set, replaces Query on servers older than Legacy.Before.
	Legacy *Variant
}

// QueryFor picks the query text for a server. A nil server version means
// unknown and always selects the current query.
func (p Probe) QueryFor(server *semver.Version) string {
	if p.Legacy != nil && server != nil && server.LT(p.Legacy.Before) {
		return p.Legacy.Query
	}
	return p.Query
}

var serverVersionRe = regexp.MustCompile(`PostgreSQL (\d+(?:\.\d+){0,2})`)

// ParseServerVersion extracts the server version from the text returned by
// version(), e.g. "PostgreSQL 16.2 (Debian 16.2-1.pgdg120+2) on x86_64...".
// Development builds such as "17beta1" parse as their major version.
func ParseServerVersion(s string) (semver.Version, bool) {
	m := serverVersionRe.FindStringSubmatch(s)
	if m == nil {
		return semver.Version{}, false
	}
	v, err := semver.ParseTolerant(m[1])
	if err != nil {
		return semver.Version{}, false
	}
	return v, true
}
