package probe

import (
	"strings"
	"testing"

	"github.com/blang/semver/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	assert.Equal(t, []string{VersionProbe, StatementsProbe}, r.Names())

	v, ok := r.Lookup(VersionProbe)
	require.True(t, ok)
	assert.Equal(t, One, v.Cardinality)
	assert.Equal(t, "SELECT version()", v.Query)

	s, ok := r.Lookup(StatementsProbe)
	require.True(t, ok)
	assert.Equal(t, Many, s.Cardinality)
}

func TestExtendedRegistry(t *testing.T) {
	r := Extended()

	assert.Equal(t, []string{
		VersionProbe, StatementsProbe, ConnectionProbe, ActivityProbe, DatabasesProbe, SettingsProbe,
	}, r.Names())
	assert.Equal(t, 6, r.Len())

	c, ok := r.Lookup(ConnectionProbe)
	require.True(t, ok)
	assert.Equal(t, One, c.Cardinality)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestStatementsQuery(t *testing.T) {
	for _, q := range []string{statementsQuery, statementsLegacyQuery} {
		assert.Contains(t, q, "FROM\n    pg_stat_statements")
		assert.Contains(t, q, "query NOT ILIKE '%pg_stat_statements%'")
		for _, kind := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
			assert.Contains(t, q, "query ILIKE '"+kind+"%'")
		}
		assert.Contains(t, q, "DESC\nLIMIT 10")
		assert.NotContains(t, q, "%%")
	}
	assert.Contains(t, statementsLegacyQuery, "total_time AS total_exec_time")
	assert.Contains(t, statementsLegacyQuery, "mean_time AS mean_exec_time")
}

func TestQueryFor(t *testing.T) {
	p := statementsProbe

	v12 := semver.MustParse("12.17.0")
	v13 := semver.MustParse("13.0.0")
	v16 := semver.MustParse("16.2.0")

	assert.Equal(t, statementsLegacyQuery, p.QueryFor(&v12))
	assert.Equal(t, statementsQuery, p.QueryFor(&v13))
	assert.Equal(t, statementsQuery, p.QueryFor(&v16))
	assert.Equal(t, statementsQuery, p.QueryFor(nil))

	assert.Equal(t, versionQuery, versionProbe.QueryFor(&v12))
}

func TestParseServerVersion(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"PostgreSQL 16.2 (Debian 16.2-1.pgdg120+2) on x86_64-pc-linux-gnu, compiled by gcc", "16.2.0", true},
		{"PostgreSQL 9.6.24 on x86_64-pc-linux-gnu", "9.6.24", true},
		{"PostgreSQL 17beta1 on aarch64-apple-darwin", "17.0.0", true},
		{"PostgreSQL 12.17, compiled by Visual C++ build 1914, 64-bit", "12.17.0", true},
		{"CockroachDB CCL v23.1.0", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseServerVersion(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestNewRegistryRejectsBadProbes(t *testing.T) {
	tests := []struct {
		name   string
		probes []Probe
		want   string
	}{
		{"empty name", []Probe{{Query: "SELECT 1"}}, "empty name"},
		{"empty query", []Probe{{Name: "a", Query: "  "}}, "empty query"},
		{"duplicate", []Probe{{Name: "a", Query: "SELECT 1"}, {Name: "a", Query: "SELECT 2"}}, "duplicate name"},
		{"cardinality", []Probe{{Name: "a", Query: "SELECT 1", Cardinality: Cardinality(7)}}, "cardinality(7)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.probes...)
			assert.Nil(t, r)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.Panics(t, func() { MustRegistry(Probe{}) })
}

func TestRegistryIsImmutable(t *testing.T) {
	probes := []Probe{{Name: "a", Query: "SELECT 1"}}
	r := MustRegistry(probes...)

	probes[0].Name = "changed"
	got := r.Probes()
	got[0].Name = "changed again"

	assert.Equal(t, []string{"a"}, r.Names())
}

func TestCardinalityString(t *testing.T) {
	assert.Equal(t, "one", One.String())
	assert.Equal(t, "many", Many.String())
}

func TestNewRecord_Bytes(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef}
	rec := NewRecord([]string{"numeric", "payload"}, []any{[]byte("123.45"), raw})

	v, _ := rec.Get("numeric")
	assert.Equal(t, "123.45", v)

	v, _ = rec.Get("payload")
	assert.Equal(t, raw, v)

	// the driver may reuse its buffer after Scan
	raw[0] = 0
	v, _ = rec.Get("payload")
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, v)
}

func TestRecord(t *testing.T) {
	cols := []string{"name", "setting", "unit"}
	rec := NewRecord(cols, []any{[]byte("work_mem"), "4096"})

	assert.Equal(t, 3, rec.Len())
	assert.False(t, rec.IsZero())
	assert.Equal(t, []any{"work_mem", "4096", nil}, rec.Values())

	var seen []string
	rec.Each(func(col string, _ any) bool {
		seen = append(seen, col)
		return col != "setting"
	})
	assert.Equal(t, []string{"name", "setting"}, seen)

	// returned slices are copies
	rec.Columns()[0] = "mutated"
	rec.Values()[0] = "mutated"
	assert.Equal(t, "name", rec.Columns()[0])
	v, _ := rec.Get("name")
	assert.Equal(t, "work_mem", v)

	_, ok := rec.Get("nope")
	assert.False(t, ok)

	assert.True(t, Record{}.IsZero())
}

func TestResult(t *testing.T) {
	var empty Result
	assert.Nil(t, empty.Columns())
	_, ok := empty.First()
	assert.False(t, ok)

	cols := []string{"version"}
	res := Result{NewRecord(cols, []any{"PostgreSQL 16.2"})}
	assert.Equal(t, cols, res.Columns())
	first, ok := res.First()
	require.True(t, ok)
	assert.Equal(t, []any{"PostgreSQL 16.2"}, first.Values())
}

func TestQueriesAreStatic(t *testing.T) {
	for _, p := range Extended().Probes() {
		assert.False(t, strings.Contains(p.Query, "$1"), "probe %s must not take parameters", p.Name)
	}
}
