// Package sqlquery holds the per-dialect SQL templates used for extraction
// and preflight, and performs the single placeholder substitution that turns
// a template into an executable query.
package sqlquery

import (
	_ "embed"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nucleus/metadata-extractor/internal/errkind"
	"github.com/nucleus/metadata-extractor/internal/filter"
)

// Template placeholders.
const (
	PlaceholderInclude      = "{normalized_include_regex}"
	PlaceholderExclude      = "{normalized_exclude_regex}"
	PlaceholderExcludeTable = "{exclude_table}"
	PlaceholderTempTableSQL = "{temp_table_regex_sql}"
)

//go:embed queries.yaml
var embeddedQueries []byte

// Dialect is the query set for one source engine.
type Dialect struct {
	// URISource is the first path segment of entity URIs.
	URISource string `yaml:"uri_source"`
	// Namespace is the entity namespace and package id.
	Namespace string `yaml:"namespace"`
	// BackslashEscapes is set for engines that treat backslash as an escape
	// character inside string literals.
	BackslashEscapes bool `yaml:"backslash_escapes"`

	TestAuthentication string            `yaml:"test_authentication"`
	FilterMetadata     string            `yaml:"filter_metadata"`
	TablesCheck        string            `yaml:"tables_check"`
	TempTableRegex     string            `yaml:"temp_table_regex"`
	Metadata           map[string]string `yaml:"metadata"`
}

// Catalog maps dialect names to their query sets.
type Catalog map[string]Dialect

var defaultCatalog = sync.OnceValues(func() (Catalog, error) {
	return parse(embeddedQueries)
})

// Default returns the embedded catalog.
func Default() (Catalog, error) {
	return defaultCatalog()
}

// Load returns the embedded catalog overlaid with the dialects and queries
// defined in path. An empty path returns the embedded catalog unchanged.
func Load(path string) (Catalog, error) {
	base, err := Default()
	if err != nil {
		return nil, err
	}
	merged := make(Catalog, len(base))
	for name, d := range base {
		merged[name] = d.clone()
	}
	if path == "" {
		return merged, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Config.New("failed to read query catalog %s: %v", path, err)
	}
	override, err := parse(data)
	if err != nil {
		return nil, err
	}
	for name, d := range override {
		merged[name] = merged[name].overlay(d)
	}
	return merged, nil
}

func parse(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errkind.Config.New("failed to parse query catalog: %v", err)
	}
	return c, nil
}

// Dialect looks up a dialect by name.
func (c Catalog) Dialect(name string) (Dialect, error) {
	d, ok := c[strings.ToLower(name)]
	if !ok {
		return Dialect{}, errkind.Config.New("unsupported dialect %q (known: %s)", name, strings.Join(c.Names(), ", "))
	}
	return d, nil
}

// Names returns the dialect names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Query returns the extraction template for a metadata type name.
func (d Dialect) Query(typename string) (string, error) {
	q, ok := d.Metadata[strings.ToLower(typename)]
	if !ok || strings.TrimSpace(q) == "" {
		return "", errkind.Config.New("no extraction query for type %q", typename)
	}
	return q, nil
}

// Render substitutes the compiled filters into template. The temp table SQL
// fragment is only inserted when a temp table regex is set.
func (d Dialect) Render(template string, f filter.Compiled) string {
	tempTableSQL := ""
	if f.ExcludeTableRegex != "" && f.ExcludeTableRegex != filter.MatchNothing {
		tempTableSQL = d.TempTableRegex
	}
	template = strings.ReplaceAll(template, PlaceholderTempTableSQL, tempTableSQL)

	return strings.NewReplacer(
		PlaceholderInclude, d.literal(f.IncludeRegex),
		PlaceholderExclude, d.literal(f.ExcludeRegex),
		PlaceholderExcludeTable, d.literal(f.ExcludeTableRegex),
	).Replace(template)
}

// RenderType looks up the template for typename and renders it.
func (d Dialect) RenderType(typename string, f filter.Compiled) (string, error) {
	q, err := d.Query(typename)
	if err != nil {
		return "", err
	}
	return d.Render(q, f), nil
}

// literal escapes s for use inside a single quoted SQL string.
func (d Dialect) literal(s string) string {
	if d.BackslashEscapes {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return strings.ReplaceAll(s, "'", "''")
}

func (d Dialect) clone() Dialect {
	out := d
	out.Metadata = make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		out.Metadata[k] = v
	}
	return out
}

func (d Dialect) overlay(o Dialect) Dialect {
	out := d.clone()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&out.URISource, o.URISource)
	set(&out.Namespace, o.Namespace)
	set(&out.TestAuthentication, o.TestAuthentication)
	set(&out.FilterMetadata, o.FilterMetadata)
	set(&out.TablesCheck, o.TablesCheck)
	set(&out.TempTableRegex, o.TempTableRegex)
	out.BackslashEscapes = out.BackslashEscapes || o.BackslashEscapes
	for k, v := range o.Metadata {
		out.Metadata[k] = v
	}
	return out
}
