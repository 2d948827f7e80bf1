// Package render provides centralized output rendering for the airlock CLI.
//
// Format selection:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// Operation streams are rendered one event at a time: json prints one
// compact object per line, yaml one document per event, table one
// human-readable line.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/justapithecus/airlock/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	formatStr := c.String("format")
	format, err := ParseFormat(formatStr)
	if err != nil {
		return nil, err
	}

	// Apply default format based on TTY detection
	if format == "" {
		if isTTY(os.Stdout) {
			format = FormatTable
		} else {
			format = FormatJSON
		}
	}

	var out io.Writer = os.Stdout
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}
	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     out,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderEvent outputs one event of an operation stream.
func (r *Renderer) RenderEvent(ev types.Event) error {
	switch r.format {
	case FormatJSON:
		return json.NewEncoder(r.out).Encode(ev)
	case FormatYAML:
		if _, err := fmt.Fprintln(r.out, "---"); err != nil {
			return err
		}
		return r.renderYAML(ev)
	case FormatTable:
		_, err := fmt.Fprintln(r.out, EventLine(ev))
		return err
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// EventLine formats an event as a single human-readable line.
func EventLine(ev types.Event) string {
	var b strings.Builder
	b.WriteString(string(ev.Status))
	if ev.Total > 0 {
		fmt.Fprintf(&b, " %d/%d (%.0f%%)", ev.Current, ev.Total, 100*float64(ev.Current)/float64(ev.Total))
	} else if ev.Current > 0 {
		fmt.Fprintf(&b, " %d", ev.Current)
	}
	if ev.Path != "" {
		b.WriteString(" " + ev.Path)
	}
	if ev.Message != "" {
		b.WriteString(": " + ev.Message)
	}
	if len(ev.Files) > 0 {
		dirty := 0
		for _, v := range ev.Files {
			if v != types.VerdictClean {
				dirty++
			}
		}
		fmt.Fprintf(&b, " [%d files, %d dirty]", len(ev.Files), dirty)
	}
	return b.String()
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	return enc.Encode(data)
}

// renderTable prints a slice as one row per element and anything else as
// a key/value list.
func (r *Renderer) renderTable(data any) error {
	v := indirect(reflect.ValueOf(data))
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			fmt.Fprintln(r.out, "(no results)")
			return nil
		}
		cols := columnsOf(indirect(v.Index(0)))
		if len(cols) == 0 {
			for i := range v.Len() {
				fmt.Fprintln(w, cell(v.Index(i)))
			}
			break
		}
		fmt.Fprintln(w, strings.Join(columnNames(cols), "\t"))
		for i := range v.Len() {
			row := indirect(v.Index(i))
			cells := make([]string, len(cols))
			for j, c := range cols {
				cells[j] = cell(c.get(row))
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
	case reflect.Struct, reflect.Map:
		for _, c := range columnsOf(v) {
			fmt.Fprintf(w, "%s:\t%s\n", c.name, cell(c.get(v)))
		}
	default:
		fmt.Fprintf(w, "%v\n", data)
	}
	return w.Flush()
}

// column is one table column: a visible struct field or a map key.
type column struct {
	name string
	get  func(reflect.Value) reflect.Value
}

// columnsOf derives the columns of a struct or map value. Unexported
// fields and fields tagged json:"-" are hidden; map keys are sorted.
func columnsOf(v reflect.Value) []column {
	var cols []column
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			name, hidden := fieldName(f)
			if hidden {
				continue
			}
			cols = append(cols, column{name: name, get: func(s reflect.Value) reflect.Value {
				return s.Field(i)
			}})
		}
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(a, b int) bool {
			return fmt.Sprint(keys[a].Interface()) < fmt.Sprint(keys[b].Interface())
		})
		for _, k := range keys {
			cols = append(cols, column{name: fmt.Sprint(k.Interface()), get: func(m reflect.Value) reflect.Value {
				return m.MapIndex(k)
			}})
		}
	}
	return cols
}

func columnNames(cols []column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

// fieldName returns the json name of a field, falling back to its
// lowercased Go name.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", true
	}
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return "", true
	case "":
		return strings.ToLower(f.Name), false
	default:
		return name, false
	}
}

var (
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
)

// cell formats a value for a table cell. Collections are summarized.
func cell(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	switch {
	case v.Type() == timeType:
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	case v.Type() == durationType:
		return v.Interface().(time.Duration).String()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprint(v.Interface())
	}
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	return v
}

// isTTY returns true if the writer is a TTY.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
