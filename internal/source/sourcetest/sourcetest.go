// Package sourcetest provides an in-memory source engine for tests. It
// answers the queries of its own dialect by evaluating the substituted
// filter regexes against fixture rows, the way the real engines evaluate
// them inside SQL.
package sourcetest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/nucleus/metadata-extractor/internal/credentials"
	"github.com/nucleus/metadata-extractor/internal/errkind"
	"github.com/nucleus/metadata-extractor/internal/source"
	"github.com/nucleus/metadata-extractor/internal/sqlquery"
)

// DialectName is the name Catalog registers the fake dialect under.
const DialectName = "fake"

// Query kinds understood by Engine.
const (
	KindAuth      = "auth"
	KindSchemata  = "schemata"
	KindCount     = "count"
	KindDatabase  = "database"
	KindSchema    = "schema"
	KindTable     = "table"
	KindColumn    = "column"
	KindProcedure = "procedure"
)

const filtered = "\t{normalized_include_regex}\t{normalized_exclude_regex}\t{temp_table_regex_sql}"

// Dialect returns the query set Engine understands.
func Dialect() sqlquery.Dialect {
	return sqlquery.Dialect{
		URISource:          "postgres",
		Namespace:          "postgresql-internal",
		TestAuthentication: KindAuth,
		FilterMetadata:     KindSchemata,
		TablesCheck:        KindCount + filtered,
		TempTableRegex:     "{exclude_table}",
		Metadata: map[string]string{
			KindDatabase:  KindDatabase,
			KindSchema:    KindSchema + filtered,
			KindTable:     KindTable + filtered,
			KindColumn:    KindColumn + filtered,
			KindProcedure: KindProcedure + filtered,
		},
	}
}

// Catalog returns a catalog holding only the fake dialect.
func Catalog() sqlquery.Catalog {
	return sqlquery.Catalog{DialectName: Dialect()}
}

// Credential returns a valid credential for the fake dialect.
func Credential() credentials.Credential {
	return credentials.Credential{
		Host:     "localhost",
		Port:     5432,
		Username: "test_user",
		Password: "test_pass",
		Database: "mydb",
		Dialect:  DialectName,
		AuthType: credentials.AuthBasic,
	}
}

// Engine is an in-memory source implementing source.Connector.
type Engine struct {
	mu        sync.Mutex
	rows      map[string][]source.Record
	failures  map[string]int
	midStream map[string]int
	calls     map[string]int
	holds     map[string]*Gate
	open      int

	// ConnectErr, when set, is returned by every Connect call.
	ConnectErr error
}

// NewEngine returns an empty Engine.
func NewEngine() *Engine {
	return &Engine{
		rows:      make(map[string][]source.Record),
		failures:  make(map[string]int),
		midStream: make(map[string]int),
		calls:     make(map[string]int),
		holds:     make(map[string]*Gate),
	}
}

// Add appends fixture rows for a query kind.
func (e *Engine) Add(kind string, recs ...source.Record) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows[kind] = append(e.rows[kind], recs...)
	return e
}

// AddSchema registers a schema row.
func (e *Engine) AddSchema(catalog, schema string) *Engine {
	return e.Add(KindSchema, source.RecordOf("catalog_name", catalog, "schema_name", schema))
}

// AddTable registers a base table row.
func (e *Engine) AddTable(catalog, schema, name string) *Engine {
	return e.Add(KindTable, source.RecordOf(
		"table_cat", catalog, "table_schem", schema, "table_name", name, "table_type", "BASE TABLE"))
}

// AddColumn registers a column row.
func (e *Engine) AddColumn(catalog, schema, table, column string, position int, dataType string) *Engine {
	return e.Add(KindColumn, source.RecordOf(
		"table_cat", catalog, "table_schem", schema, "table_name", table,
		"column_name", column, "ordinal_position", position, "data_type", dataType, "is_nullable", "YES"))
}

// Clear drops the fixture rows of kind.
func (e *Engine) Clear(kind string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rows, kind)
}

// Hold makes the next query of kind wait before its first batch until the
// returned gate is released or the query's context ends.
func (e *Engine) Hold(kind string) *Gate {
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.holds[kind] = g
	return g
}

// Open returns how many connections are currently open.
func (e *Engine) Open() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// FailNext makes the next n queries of kind fail before returning rows.
func (e *Engine) FailNext(kind string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[kind] = n
}

// FailMidStream makes the next n queries of kind deliver their first batch
// and then fail.
func (e *Engine) FailMidStream(kind string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.midStream[kind] = n
}

// Calls returns how many queries of kind were executed.
func (e *Engine) Calls(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[kind]
}

// Connect implements source.Connector.
func (e *Engine) Connect(_ context.Context, cred credentials.Credential) (source.Client, error) {
	if e.ConnectErr != nil {
		return nil, e.ConnectErr
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.open++
	e.mu.Unlock()
	return &client{engine: e}, nil
}

// Gate holds a query started after Engine.Hold.
type Gate struct {
	entered     chan struct{}
	release     chan struct{}
	enterOnce   sync.Once
	releaseOnce sync.Once
}

// Entered is closed once the held query is waiting.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

// Release lets the held query continue.
func (g *Gate) Release() { g.releaseOnce.Do(func() { close(g.release) }) }

func (g *Gate) wait(ctx context.Context) error {
	g.enterOnce.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type client struct {
	engine *Engine
	closed bool
}

func (c *client) Close(context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.engine.mu.Lock()
	c.engine.open--
	c.engine.mu.Unlock()
	return nil
}

func (c *client) Stream(ctx context.Context, query string, batchSize int, fn func([]source.Record) error) error {
	rows, failMid, err := c.engine.run(query)
	if err != nil {
		return err
	}
	kind, _, _ := strings.Cut(query, "\t")
	if g := c.engine.takeHold(kind); g != nil {
		if err := g.wait(ctx); err != nil {
			return err
		}
	}
	if batchSize <= 0 {
		batchSize = source.DefaultBatchSize
	}
	for start := 0; start < len(rows); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(rows))
		if err := fn(rows[start:end]); err != nil {
			return err
		}
		if failMid {
			return errkind.Connectivity.New("connection reset after %d rows", end)
		}
	}
	return nil
}

func (e *Engine) takeHold(kind string) *Gate {
	e.mu.Lock()
	defer e.mu.Unlock()
	g := e.holds[kind]
	delete(e.holds, kind)
	return g
}

func (e *Engine) run(query string) ([]source.Record, bool, error) {
	parts := strings.Split(query, "\t")
	kind := parts[0]

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[kind]++
	if e.failures[kind] > 0 {
		e.failures[kind]--
		return nil, false, errkind.Connectivity.New("%s query failed: connection refused", kind)
	}
	failMid := false
	if e.midStream[kind] > 0 {
		e.midStream[kind]--
		failMid = true
	}

	switch kind {
	case KindAuth:
		return []source.Record{source.RecordOf("?column?", 1)}, false, nil
	case KindSchemata:
		var out []source.Record
		for _, r := range e.rows[KindSchema] {
			out = append(out, source.RecordOf("schema_name", str(r, "schema_name"), "catalog_name", str(r, "catalog_name")))
		}
		return out, false, nil
	case KindDatabase:
		return append([]source.Record(nil), e.rows[KindDatabase]...), failMid, nil
	}

	if len(parts) != 4 {
		return nil, false, fmt.Errorf("sourcetest: unsupported query %q", query)
	}
	include, err := regexp.Compile(parts[1])
	if err != nil {
		return nil, false, err
	}
	exclude, err := regexp.Compile(parts[2])
	if err != nil {
		return nil, false, err
	}
	var excludeTable *regexp.Regexp
	if parts[3] != "" {
		if excludeTable, err = regexp.Compile(parts[3]); err != nil {
			return nil, false, err
		}
	}

	dataKind := kind
	if kind == KindCount {
		dataKind = KindTable
	}
	catKey, schemaKey := "table_cat", "table_schem"
	switch dataKind {
	case KindSchema:
		catKey, schemaKey = "catalog_name", "schema_name"
	case KindProcedure:
		catKey, schemaKey = "procedure_cat", "procedure_schem"
	}

	var out []source.Record
	for _, r := range e.rows[dataKind] {
		scope := str(r, catKey) + "." + str(r, schemaKey)
		if !include.MatchString(scope) || exclude.MatchString(scope) {
			continue
		}
		if excludeTable != nil && excludeTable.MatchString(str(r, "table_name")) {
			continue
		}
		out = append(out, r)
	}

	if kind == KindCount {
		return []source.Record{source.RecordOf("count", int64(len(out)))}, false, nil
	}
	return out, failMid, nil
}

func str(r source.Record, key string) string {
	v, _ := r.Get(key)
	s, _ := v.(string)
	return s
}
