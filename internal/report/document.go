package report

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/koltyakov/pgdiag/internal/collect"
	"github.com/koltyakov/pgdiag/internal/probe"
)

// MetaKey is the report key holding run metadata when requested.
const MetaKey = "meta"

// field is one key of an ordered object.
type field struct {
	Key   string
	Value any
}

// object is a JSON object that keeps its keys in insertion order.
type object []field

// MarshalJSON writes the fields in order.
func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshal encodes v without HTML escaping so query text stays readable.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// document converts a Report into ordered, already coerced values:
// object, []any and JSON-native scalars only.
func document(rep collect.Report, withMeta bool) object {
	doc := make(object, 0, len(rep.Entries)+1)
	for _, e := range rep.Entries {
		doc = append(doc, field{Key: e.Name, Value: entryValue(e)})
	}
	if withMeta {
		doc = append(doc, field{Key: MetaKey, Value: metaObject(rep.Meta)})
	}
	return doc
}

func entryValue(e collect.Entry) any {
	switch v := e.Value().(type) {
	case collect.Unavailable:
		return v.String()
	case probe.Record:
		return recordObject(v)
	case probe.Result:
		rows := make([]any, len(v))
		for i, rec := range v {
			rows[i] = recordObject(rec)
		}
		return rows
	default:
		return Coerce(v)
	}
}

func recordObject(rec probe.Record) object {
	o := make(object, 0, rec.Len())
	rec.Each(func(col string, val any) bool {
		o = append(o, field{Key: col, Value: Coerce(val)})
		return true
	})
	return o
}

func metaObject(m collect.Meta) object {
	o := object{
		{Key: "run_id", Value: m.RunID},
		{Key: "started_at", Value: m.StartedAt.UTC().Format(time.RFC3339Nano)},
		{Key: "duration", Value: m.Duration.String()},
		{Key: "version", Value: m.Version},
	}
	if m.Target != "" {
		o = append(o, field{Key: "target", Value: m.Target})
	}
	if m.ServerVersion != "" {
		o = append(o, field{Key: "server_version", Value: m.ServerVersion})
	}
	return o
}
