package render

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Tabular values lay out their own table instead of the reflected one.
type Tabular interface {
	TableHeaders() []string
	TableRows() [][]string
}

// column is one exported field shown in tables.
type column struct {
	name      string
	index     int
	omitEmpty bool
}

// columns lists the fields of struct type t by json name. Fields tagged
// json:"-" are hidden.
func columns(t reflect.Type) []column {
	var cols []column
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		cols = append(cols, column{name: name, index: i, omitEmpty: strings.Contains(opts, "omitempty")})
	}
	return cols
}

func (r *Renderer) renderTable(data any) error {
	if t, ok := data.(Tabular); ok {
		return r.grid(t.TableHeaders(), t.TableRows())
	}
	v := indirect(reflect.ValueOf(data))
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		headers, rows := reflectRows(v)
		return r.grid(headers, rows)
	case reflect.Struct, reflect.Map:
		return r.keyValues(v)
	}
	_, err := fmt.Fprintln(r.out, formatValue(v))
	return err
}

// reflectRows builds a grid from a slice of structs or maps.
func reflectRows(v reflect.Value) ([]string, [][]string) {
	if v.Len() == 0 {
		return nil, nil
	}
	first := indirect(v.Index(0))
	var headers []string
	var cols []column
	switch first.Kind() {
	case reflect.Struct:
		cols = columns(first.Type())
		for _, c := range cols {
			headers = append(headers, c.name)
		}
	case reflect.Map:
		for _, k := range sortedKeys(first) {
			headers = append(headers, fmt.Sprint(k.Interface()))
		}
	default:
		headers = []string{"value"}
	}

	rows := make([][]string, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		item := indirect(v.Index(i))
		row := make([]string, len(headers))
		switch item.Kind() {
		case reflect.Struct:
			for j, c := range cols {
				row[j] = formatValue(item.Field(c.index))
			}
		case reflect.Map:
			for j, h := range headers {
				row[j] = formatValue(item.MapIndex(reflect.ValueOf(h)))
			}
		default:
			row[0] = formatValue(item)
		}
		rows = append(rows, row)
	}
	return headers, rows
}

// grid draws a bordered table. A "state" column is colored by value.
func (r *Renderer) grid(headers []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	if !r.noColor {
		state := slices.Index(headers, "state")
		t = t.StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return HeaderStyle
			case col == state && row >= 0 && row < len(rows):
				return StateStyle(rows[row][col])
			}
			return CellStyle
		})
	}
	_, err := fmt.Fprintln(r.out, t.Render())
	return err
}

// keyValues prints one "name: value" line per struct field or map key.
// Empty omitempty fields are skipped.
func (r *Renderer) keyValues(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	if v.Kind() == reflect.Struct {
		for _, c := range columns(v.Type()) {
			f := v.Field(c.index)
			if c.omitEmpty && f.IsZero() {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\n", r.label(c.name), formatValue(f))
		}
	} else {
		for _, k := range sortedKeys(v) {
			fmt.Fprintf(w, "%s\t%s\n", r.label(fmt.Sprint(k.Interface())), formatValue(v.MapIndex(k)))
		}
	}
	return w.Flush()
}

func (r *Renderer) label(name string) string {
	if r.noColor {
		return name + ":"
	}
	return LabelStyle.Render(name + ":")
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func sortedKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	return keys
}

// formatValue is the cell text of one value. Collections are summarized.
func formatValue(v reflect.Value) string {
	if v.IsValid() && v.CanInterface() {
		switch x := v.Interface().(type) {
		case time.Time:
			return x.Format(time.RFC3339Nano)
		case fmt.Stringer:
			if v.Kind() != reflect.Ptr || !v.IsNil() {
				return x.String()
			}
		}
	}
	v = indirect(v)
	if !v.IsValid() {
		return ""
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
	}
	return fmt.Sprint(v.Interface())
}
