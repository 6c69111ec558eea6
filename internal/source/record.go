package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Columns is the ordered column list of one result set, shared by every
// Record fetched from it.
type Columns struct {
	names []string
	index map[string]int
}

// NewColumns builds a column list. Lookups by name are case-insensitive.
func NewColumns(names []string) *Columns {
	c := &Columns{names: names, index: make(map[string]int, len(names))}
	for i, name := range names {
		key := strings.ToLower(name)
		if _, dup := c.index[key]; !dup {
			c.index[key] = i
		}
	}
	return c
}

// Record is one source row. It serializes as a JSON object with keys in
// result column order.
type Record struct {
	cols   *Columns
	values []any
}

// NewRecord pairs values with cols. Values are normalized for JSON output.
func NewRecord(cols *Columns, values []any) Record {
	for i, v := range values {
		values[i] = normalize(v)
	}
	return Record{cols: cols, values: values}
}

// RecordOf builds a Record from alternating name, value pairs.
func RecordOf(kv ...any) Record {
	names := make([]string, 0, len(kv)/2)
	values := make([]any, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		names = append(names, fmt.Sprint(kv[i]))
		values = append(values, kv[i+1])
	}
	return NewRecord(NewColumns(names), values)
}

// Get returns the value of the named column.
func (r Record) Get(name string) (any, bool) {
	if r.cols == nil {
		return nil, false
	}
	i, ok := r.cols.index[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// Len returns the number of columns.
func (r Record) Len() int { return len(r.values) }

// Map returns the record as a map, losing column order.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for i, v := range r.values {
		m[r.cols.names[i]] = v
	}
	return m
}

// MarshalJSON writes the record as an object in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range r.values {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(r.cols.names[i])
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", r.cols.names[i], err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case [16]byte:
		return uuid.UUID(t).String()
	default:
		return v
	}
}
