package probe

import "unicode/utf8"

// Record is one normalized result row: an ordered mapping from column name
// to the value the driver produced for it. The column slice is shared by
// every Record of the same Result and must not be modified.
type Record struct {
	cols []string
	vals []any
}

// NewRecord zips cols positionally with vals. Extra values are dropped and
// missing values are nil, so the Record always has exactly len(cols)
// entries.
func NewRecord(cols []string, vals []any) Record {
	out := make([]any, len(cols))
	for i := range out {
		if i < len(vals) {
			out[i] = normalize(vals[i])
		}
	}
	return Record{cols: cols, vals: out}
}

// normalize turns driver byte slices holding UTF-8 text into strings.
// Binary data (bytea) stays a []byte for the serializer to hex-encode.
// Everything else keeps its native type.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		if !utf8.Valid(b) {
			return append([]byte(nil), b...)
		}
		return string(b)
	}
	return v
}

// Len returns the number of columns.
func (r Record) Len() int {
	return len(r.cols)
}

// IsZero reports whether r has no columns at all.
func (r Record) IsZero() bool {
	return len(r.cols) == 0
}

// Columns returns the column names in result order.
func (r Record) Columns() []string {
	out := make([]string, len(r.cols))
	copy(out, r.cols)
	return out
}

// Values returns the values in column order.
func (r Record) Values() []any {
	out := make([]any, len(r.vals))
	copy(out, r.vals)
	return out
}

// Get returns the value stored under column name.
func (r Record) Get(name string) (any, bool) {
	for i, c := range r.cols {
		if c == name {
			return r.vals[i], true
		}
	}
	return nil, false
}

// Each calls fn for every column in order until fn returns false.
func (r Record) Each(fn func(col string, val any) bool) {
	for i, c := range r.cols {
		if !fn(c, r.vals[i]) {
			return
		}
	}
}

// Result is the complete normalized output of one query. Every Record in a
// Result shares the same column set. An empty Result is valid.
type Result []Record

// Columns returns the shared column set, or nil when the Result is empty.
func (res Result) Columns() []string {
	if len(res) == 0 {
		return nil
	}
	return res[0].Columns()
}

// First returns the first Record, if any.
func (res Result) First() (Record, bool) {
	if len(res) == 0 {
		return Record{}, false
	}
	return res[0], true
}
