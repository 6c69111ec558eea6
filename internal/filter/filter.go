// Package filter compiles include/exclude filter maps into the regex strings
// that extraction queries evaluate inside the source database.
package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/nucleus/metadata-extractor/internal/errkind"
)

const (
	// MatchAll is the include regex used when no include filter is given.
	MatchAll = ".*"
	// MatchNothing is the exclude sentinel. POSIX regex has no literal that
	// never matches, and "$^" can only match an empty string, which no
	// "database.schema" or table name ever is.
	MatchNothing = "$^"
)

// Entry is one database pattern and the schema patterns scoped to it.
// An empty Schemas list means every schema in the database.
type Entry struct {
	Database string
	Schemas  []string
}

// Spec is a parsed filter map. Entries keep the order they had in the JSON
// document so compiled regexes are stable across runs.
type Spec []Entry

// Compiled holds the regexes substituted into extraction queries.
type Compiled struct {
	IncludeRegex      string `json:"includeRegex"`
	ExcludeRegex      string `json:"excludeRegex"`
	ExcludeTableRegex string `json:"excludeTableRegex"`
}

// Parse decodes a filter map of the form {"db1": ["schemaA"], "db2": []}.
// A blank string is treated as an empty map. A repeated database key keeps
// the position of its first occurrence and the schemas of its last.
func Parse(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Spec{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	tok, err := dec.Token()
	if err != nil {
		return nil, errkind.Config.New("malformed filter %q: %v", raw, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errkind.Config.New("malformed filter %q: expected a JSON object", raw)
	}

	spec := Spec{}
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errkind.Config.New("malformed filter %q: %v", raw, err)
		}
		db, ok := tok.(string)
		if !ok {
			return nil, errkind.Config.New("malformed filter %q: expected database key", raw)
		}
		var schemas []string
		if err := dec.Decode(&schemas); err != nil {
			return nil, errkind.Config.New("malformed filter %q: schemas for %q: %v", raw, db, err)
		}
		if i, ok := seen[db]; ok {
			spec[i].Schemas = schemas
			continue
		}
		seen[db] = len(spec)
		spec = append(spec, Entry{Database: db, Schemas: schemas})
	}

	if _, err := dec.Token(); err != nil {
		return nil, errkind.Config.New("malformed filter %q: %v", raw, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errkind.Config.New("malformed filter %q: trailing data", raw)
	}
	return spec, nil
}

// Normalize returns one regex fragment per (database, schema) pair.
// Database anchors are dropped; a leading ^ on a schema is dropped but a
// trailing $ is kept so callers can pin the end of the schema name.
func (s Spec) Normalize() []string {
	var fragments []string
	for _, entry := range s.Canonical() {
		if len(entry.Schemas) == 0 {
			fragments = append(fragments, entry.Database+".*")
			continue
		}
		for _, schema := range entry.Schemas {
			fragments = append(fragments, entry.Database+"."+schema)
		}
	}
	return fragments
}

// Canonical returns the spec with the anchor stripping of Normalize applied
// to its patterns. Canonical is idempotent and Normalize(Canonical(s)) equals
// Normalize(s).
func (s Spec) Canonical() Spec {
	out := make(Spec, 0, len(s))
	for _, entry := range s {
		c := Entry{Database: strings.Trim(entry.Database, "^$")}
		for _, schema := range entry.Schemas {
			c.Schemas = append(c.Schemas, strings.TrimLeft(schema, "^"))
		}
		out = append(out, c)
	}
	return out
}

// Pairs returns the databases and "database.schema" pairs named by the spec
// with every anchor removed, in the form the preflight check compares
// against the source catalog.
func (s Spec) Pairs() (databases []string, schemas []string) {
	for _, entry := range s {
		db := strings.Trim(entry.Database, "^$")
		databases = append(databases, db)
		for _, schema := range entry.Schemas {
			schemas = append(schemas, db+"."+strings.Trim(schema, "^$"))
		}
	}
	return databases, schemas
}

// Regex joins the normalized fragments with "|", or returns fallback when
// the spec is empty.
func (s Spec) Regex(fallback string) string {
	fragments := s.Normalize()
	if len(fragments) == 0 {
		return fallback
	}
	return strings.Join(fragments, "|")
}

// Prepare compiles the include and exclude filter JSON plus the temp table
// regex into the three query regexes. Prepare("{}", "{}", "") yields
// (".*", "$^", "$^"). Malformed JSON is a config error.
func Prepare(includeJSON, excludeJSON, tempTableRegex string) (Compiled, error) {
	include, err := Parse(includeJSON)
	if err != nil {
		return Compiled{}, err
	}
	exclude, err := Parse(excludeJSON)
	if err != nil {
		return Compiled{}, err
	}

	excludeTable := tempTableRegex
	if strings.TrimSpace(excludeTable) == "" {
		excludeTable = MatchNothing
	}

	return Compiled{
		IncludeRegex:      include.Regex(MatchAll),
		ExcludeRegex:      exclude.Regex(MatchNothing),
		ExcludeTableRegex: excludeTable,
	}, nil
}
