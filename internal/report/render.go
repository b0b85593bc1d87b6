// Package report renders a collected Report.
//
// Rendering is a pure transform: the same Report always yields the same
// bytes for a given Options. JSON is the canonical form (4-space indent,
// probe keys in registry order, record keys in column order); YAML and a
// human-oriented table view are offered alongside it.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/koltyakov/pgdiag/internal/collect"
	perrors "github.com/koltyakov/pgdiag/internal/errors"
	"github.com/koltyakov/pgdiag/internal/probe"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// Formats lists the supported formats.
var Formats = []Format{FormatJSON, FormatYAML, FormatTable}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FormatJSON, nil
	}
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	names := make([]string, len(Formats))
	for i, known := range Formats {
		names[i] = string(known)
	}
	return "", perrors.NewValidationError("format", s, "must be one of "+strings.Join(names, ", "))
}

// Indent is the JSON and YAML indentation.
const Indent = "    "

// Options controls rendering.
type Options struct {
	Format Format
	// Meta adds the run metadata block under MetaKey.
	Meta bool
}

// Render returns the encoded report.
func Render(rep collect.Report, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, rep, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write encodes rep to w.
func Write(w io.Writer, rep collect.Report, opts Options) error {
	var err error
	switch opts.Format {
	case FormatJSON, "":
		err = writeJSON(w, document(rep, opts.Meta))
	case FormatYAML:
		err = writeYAML(w, document(rep, opts.Meta))
	case FormatTable:
		err = writeTable(w, rep, opts.Meta)
	default:
		return perrors.NewReportError("encode", "", fmt.Errorf("unknown format %q", opts.Format))
	}
	if err != nil {
		return perrors.NewReportError("encode", "", err)
	}
	return nil
}

func writeJSON(w io.Writer, doc object) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", Indent)
	return enc.Encode(doc)
}

func writeYAML(w io.Writer, doc object) error {
	root, err := yamlNode(doc)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(len(Indent))
	if err := enc.Encode(root); err != nil {
		return err
	}
	return enc.Close()
}

func yamlNode(v any) (*yaml.Node, error) {
	switch x := v.(type) {
	case object:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, f := range x {
			val, err := yamlNode(f.Value)
			if err != nil {
				return nil, err
			}
			key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Key}
			n.Content = append(n.Content, key, val)
		}
		return n, nil
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range x {
			val, err := yamlNode(item)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, val)
		}
		return n, nil
	default:
		n := &yaml.Node{}
		if err := n.Encode(x); err != nil {
			return nil, err
		}
		return n, nil
	}
}

func writeTable(w io.Writer, rep collect.Report, withMeta bool) error {
	var out strings.Builder

	for i, e := range rep.Entries {
		if i > 0 {
			out.WriteString("\n")
		}
		switch v := e.Value().(type) {
		case collect.Unavailable:
			fmt.Fprintf(&out, "%s: %s\n", e.Name, v)
		case probe.Record:
			out.WriteString(renderRecord(e.Name, v))
		case probe.Result:
			if len(v) == 0 {
				fmt.Fprintf(&out, "%s: (no rows)\n", e.Name)
				continue
			}
			out.WriteString(renderResult(e.Name, v))
		}
	}

	if withMeta {
		out.WriteString("\n")
		out.WriteString(renderObject(MetaKey, metaObject(rep.Meta)))
	}

	_, err := io.WriteString(w, out.String())
	return err
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	t.Style().Format = table.FormatOptions{
		Footer: text.FormatDefault,
		Header: text.FormatDefault,
		Row:    text.FormatDefault,
	}
	return t
}

func renderRecord(title string, rec probe.Record) string {
	return renderObject(title, recordObject(rec))
}

func renderObject(title string, o object) string {
	t := newTable(title)
	t.AppendHeader(table.Row{"key", "value"})
	for _, f := range o {
		t.AppendRow(table.Row{f.Key, cell(f.Value)})
	}
	return t.Render() + "\n"
}

func renderResult(title string, res probe.Result) string {
	t := newTable(title)

	var header table.Row
	for _, c := range res.Columns() {
		header = append(header, c)
	}
	t.AppendHeader(header)

	for _, rec := range res {
		row := make(table.Row, 0, rec.Len())
		rec.Each(func(_ string, val any) bool {
			row = append(row, cell(Coerce(val)))
			return true
		})
		t.AppendRow(row)
	}
	return t.Render() + "\n"
}

func cell(v any) any {
	if v == nil {
		return "NULL"
	}
	return v
}
