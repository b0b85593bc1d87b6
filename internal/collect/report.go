package collect

import (
	"github.com/koltyakov/pgdiag/internal/probe"
)

// Unavailable marks a single-row probe that produced no row, either because
// it failed or because the server returned nothing.
type Unavailable struct{}

// String returns the marker text used in rendered reports.
func (Unavailable) String() string {
	return "unavailable"
}

// Entry is one probe's contribution to a Report.
type Entry struct {
	Name        string
	Cardinality probe.Cardinality

	// Record holds the row of a One probe; nil means unavailable.
	Record *probe.Record

	// Records holds the rows of a Many probe; never nil.
	Records probe.Result

	// Failed is set when the probe's query errored (as opposed to
	// legitimately returning no rows).
	Failed bool
}

func newEntry(p probe.Probe, res probe.Result, failed bool) Entry {
	e := Entry{Name: p.Name, Cardinality: p.Cardinality, Failed: failed}

	switch p.Cardinality {
	case probe.One:
		if first, ok := res.First(); ok {
			e.Record = &first
		}
	default:
		if res == nil {
			res = probe.Result{}
		}
		e.Records = res
	}
	return e
}

// Value returns the entry as it appears in a report: a probe.Record, an
// Unavailable marker or a probe.Result.
func (e Entry) Value() any {
	if e.Cardinality == probe.One {
		if e.Record == nil {
			return Unavailable{}
		}
		return *e.Record
	}
	return e.Records
}

// Available reports whether the entry carries data. Many probes are always
// available, possibly empty.
func (e Entry) Available() bool {
	return e.Cardinality != probe.One || e.Record != nil
}

// Report is the aggregated output of one run: one entry per registered
// probe, in registry order. It is built once and not modified afterwards.
type Report struct {
	Entries []Entry
	Meta    Meta
}

// Get returns the entry for probe name.
func (r Report) Get(name string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Version returns the version probe's row.
func (r Report) Version() (probe.Record, bool) {
	e, ok := r.Get(probe.VersionProbe)
	if !ok || e.Record == nil {
		return probe.Record{}, false
	}
	return *e.Record, true
}

// Statements returns the statements probe's rows.
func (r Report) Statements() probe.Result {
	e, ok := r.Get(probe.StatementsProbe)
	if !ok {
		return probe.Result{}
	}
	return e.Records
}

// Failed returns the names of probes whose query errored.
func (r Report) Failed() []string {
	var out []string
	for _, e := range r.Entries {
		if e.Failed {
			out = append(out, e.Name)
		}
	}
	return out
}
