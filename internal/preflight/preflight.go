// Package preflight validates that a filter scope is satisfiable against the
// live source before a full extraction is committed to.
package preflight

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/credentials"
	"github.com/nucleus/metadata-extractor/internal/errkind"
	"github.com/nucleus/metadata-extractor/internal/filter"
	"github.com/nucleus/metadata-extractor/internal/source"
	"github.com/nucleus/metadata-extractor/internal/sqlquery"
)

const metadataBatchSize = 1000

// Filters are the raw filter inputs of a run.
type Filters struct {
	Include        string `json:"includeFilter"`
	Exclude        string `json:"excludeFilter"`
	TempTableRegex string `json:"tempTableRegex"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Success        bool   `json:"success"`
	SuccessMessage string `json:"successMessage"`
	FailureMessage string `json:"failureMessage"`
	Error          string `json:"error,omitempty"`

	// Err is the cause when the check could not run at all.
	Err error `json:"-"`
}

func failed(message string, err error) CheckResult {
	res := CheckResult{FailureMessage: message, Err: err}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// Result aggregates both checks.
type Result struct {
	DatabaseSchemaCheck CheckResult `json:"databaseSchemaCheck"`
	TablesCheck         CheckResult `json:"tablesCheck"`
}

// Success is true when both checks passed.
func (r Result) Success() bool {
	return r.DatabaseSchemaCheck.Success && r.TablesCheck.Success
}

// Message summarizes the result for callers that need a single line.
func (r Result) Message() string {
	switch {
	case r.Success():
		return r.DatabaseSchemaCheck.SuccessMessage + "; " + r.TablesCheck.SuccessMessage
	case !r.DatabaseSchemaCheck.Success:
		return r.DatabaseSchemaCheck.FailureMessage
	default:
		return r.TablesCheck.FailureMessage
	}
}

// Cause returns the first error that prevented a check from running.
func (r Result) Cause() error {
	if r.DatabaseSchemaCheck.Err != nil {
		return r.DatabaseSchemaCheck.Err
	}
	return r.TablesCheck.Err
}

// Checker runs preflight checks against a source.
type Checker struct {
	connector      source.Connector
	catalog        sqlquery.Catalog
	defaultDialect string
	logger         *zap.Logger
}

// NewChecker creates a Checker.
func NewChecker(connector source.Connector, catalog sqlquery.Catalog, defaultDialect string, logger *zap.Logger) *Checker {
	return &Checker{connector: connector, catalog: catalog, defaultDialect: defaultDialect, logger: logger}
}

// Check runs the schema/database check and the tables check independently.
// Failures, including connection failures, are reported in the result.
func (c *Checker) Check(ctx context.Context, cred credentials.Credential, filters Filters) Result {
	cred = c.normalize(cred)
	c.logger.Info("starting preflight check", zap.String("host", cred.Host), zap.String("database", cred.Database))
	res := Result{
		DatabaseSchemaCheck: c.CheckSchemasAndDatabases(ctx, cred, filters.Include),
		TablesCheck:         c.CheckTables(ctx, cred, filters),
	}
	c.logger.Info("preflight check completed",
		zap.Bool("success", res.Success()),
		zap.String("message", res.Message()))
	return res
}

// CheckSchemasAndDatabases verifies every database and database.schema
// named in the include filter is visible to the credential.
func (c *Checker) CheckSchemasAndDatabases(ctx context.Context, cred credentials.Credential, includeJSON string) CheckResult {
	cred = c.normalize(cred)
	spec, err := filter.Parse(includeJSON)
	if err != nil {
		return failed("Schemas and Databases check failed", err)
	}

	refs, err := c.fetchMetadata(ctx, cred)
	if err != nil {
		c.logger.Error("schema and database check failed", zap.Error(err))
		return failed("Schemas and Databases check failed", err)
	}

	allowedDatabases := make(map[string]struct{})
	allowedSchemas := make(map[string]struct{})
	for _, ref := range refs {
		allowedDatabases[ref.Database] = struct{}{}
		allowedSchemas[ref.Database+"."+ref.Schema] = struct{}{}
	}

	if missing := missingScope(spec, allowedDatabases, allowedSchemas); missing != "" {
		return CheckResult{FailureMessage: "Schemas and Databases check failed for " + missing}
	}
	return CheckResult{Success: true, SuccessMessage: "Schemas and Databases check successful"}
}

// missingScope returns the first database or schema named by spec that is
// not in the allowed sets, formatted for the failure message.
func missingScope(spec filter.Spec, databases, schemas map[string]struct{}) string {
	for _, entry := range spec {
		single := filter.Spec{entry}
		dbs, pairs := single.Pairs()
		if _, ok := databases[dbs[0]]; !ok {
			return dbs[0] + " database"
		}
		for _, pair := range pairs {
			if _, ok := schemas[pair]; !ok {
				return pair + " schema"
			}
		}
	}
	return ""
}

// CheckTables counts the tables matched by the compiled filters. A zero
// count fails the check.
func (c *Checker) CheckTables(ctx context.Context, cred credentials.Credential, filters Filters) CheckResult {
	cred = c.normalize(cred)
	compiled, err := filter.Prepare(filters.Include, filters.Exclude, filters.TempTableRegex)
	if err != nil {
		return failed("Tables check failed", err)
	}

	dialect, err := c.dialect(cred)
	if err != nil {
		return failed("Tables check failed", err)
	}

	count, err := c.count(ctx, cred, dialect.Render(dialect.TablesCheck, compiled))
	if err != nil {
		c.logger.Error("tables check failed", zap.Error(err))
		return failed("Tables check failed", err)
	}
	if count == 0 {
		return CheckResult{FailureMessage: "Tables check failed: no tables match the filters. Table count: 0"}
	}
	return CheckResult{Success: true, SuccessMessage: fmt.Sprintf("Tables check successful. Table count: %d", count)}
}

func (c *Checker) count(ctx context.Context, cred credentials.Credential, query string) (int64, error) {
	client, err := c.connector.Connect(ctx, cred)
	if err != nil {
		return 0, err
	}
	defer client.Close(context.WithoutCancel(ctx))

	rec, ok, err := source.First(ctx, client, query)
	if err != nil {
		return 0, err
	}
	if !ok || rec.Len() == 0 {
		return 0, errkind.Connectivity.New("tables check query returned no rows")
	}
	var n int64
	if _, err := fmt.Sscan(fmt.Sprint(firstValue(rec)), &n); err != nil {
		return 0, fmt.Errorf("unexpected table count %v: %w", firstValue(rec), err)
	}
	return n, nil
}

func firstValue(rec source.Record) any {
	for _, v := range rec.Map() {
		return v
	}
	return nil
}

// SchemaRef is one visible database.schema pair.
type SchemaRef struct {
	Database string
	Schema   string
}

func (c *Checker) fetchMetadata(ctx context.Context, cred credentials.Credential) ([]SchemaRef, error) {
	dialect, err := c.dialect(cred)
	if err != nil {
		return nil, err
	}
	client, err := c.connector.Connect(ctx, cred)
	if err != nil {
		return nil, err
	}
	defer client.Close(context.WithoutCancel(ctx))

	var refs []SchemaRef
	err = client.Stream(ctx, dialect.FilterMetadata, metadataBatchSize, func(batch []source.Record) error {
		for _, rec := range batch {
			db, _ := rec.Get("catalog_name")
			schema, _ := rec.Get("schema_name")
			refs = append(refs, SchemaRef{Database: fmt.Sprint(db), Schema: fmt.Sprint(schema)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// FilterMetadata returns the visible schemas grouped by database, in the
// order the source returned them.
func (c *Checker) FilterMetadata(ctx context.Context, cred credentials.Credential) (map[string][]string, error) {
	refs, err := c.fetchMetadata(ctx, c.normalize(cred))
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]string)
	for _, ref := range refs {
		grouped[ref.Database] = append(grouped[ref.Database], ref.Schema)
	}
	return grouped, nil
}

// TestAuthentication connects and runs the dialect's trivial query.
func (c *Checker) TestAuthentication(ctx context.Context, cred credentials.Credential) (any, error) {
	cred = c.normalize(cred)
	dialect, err := c.dialect(cred)
	if err != nil {
		return nil, err
	}
	client, err := c.connector.Connect(ctx, cred)
	if err != nil {
		return nil, err
	}
	defer client.Close(context.WithoutCancel(ctx))

	rec, ok, err := source.First(ctx, client, dialect.TestAuthentication)
	if err != nil || !ok {
		return nil, err
	}
	return firstValue(rec), nil
}

func (c *Checker) normalize(cred credentials.Credential) credentials.Credential {
	return cred.Normalize(c.defaultDialect)
}

func (c *Checker) dialect(cred credentials.Credential) (sqlquery.Dialect, error) {
	name := cred.Dialect
	if name == "" {
		name = c.defaultDialect
	}
	return c.catalog.Dialect(name)
}
