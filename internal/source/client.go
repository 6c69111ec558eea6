// Package source connects to a source database and streams query results in
// bounded batches. Queries arrive fully rendered; this package never edits
// SQL text beyond trimming a trailing semicolon.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/credentials"
	"github.com/nucleus/metadata-extractor/internal/errkind"
)

// DefaultBatchSize is the number of rows fetched per round trip.
const DefaultBatchSize = 100000

// Client executes queries against one open connection.
type Client interface {
	// Stream runs query and calls fn with successive batches of at most
	// batchSize rows, in result order. An error from fn stops the stream and
	// is returned as is. The cursor is released before Stream returns.
	Stream(ctx context.Context, query string, batchSize int, fn func(batch []Record) error) error
	Close(ctx context.Context) error
}

// Connector opens clients for credentials.
type Connector interface {
	Connect(ctx context.Context, cred credentials.Credential) (Client, error)
}

// DialectConnector opens a Client for the credential's dialect after
// resolving its auth strategy.
type DialectConnector struct {
	logger *zap.Logger
}

// NewConnector creates a DialectConnector.
func NewConnector(logger *zap.Logger) *DialectConnector {
	return &DialectConnector{logger: logger}
}

// Connect validates cred, resolves its secret and opens a connection.
func (c *DialectConnector) Connect(ctx context.Context, cred credentials.Credential) (Client, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	auth, err := NewAuthenticator(cred)
	if err != nil {
		return nil, err
	}
	secret, err := auth.Secret(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("connecting to source",
		zap.String("dialect", cred.Dialect),
		zap.String("host", cred.Host),
		zap.Int("port", cred.Port),
		zap.String("authType", string(cred.AuthType)))

	switch cred.Dialect {
	case "postgres":
		return connectPostgres(ctx, PostgresURI(cred, secret, auth.RequiresTLS()))
	case "mysql":
		return connectMySQL(ctx, MySQLDSN(cred, secret, auth.RequiresTLS()))
	default:
		return nil, errkind.Config.New("unsupported dialect %q", cred.Dialect)
	}
}

var errStop = errors.New("stop")

// First runs query and returns its first row. ok is false when the query
// returned no rows.
func First(ctx context.Context, client Client, query string) (rec Record, ok bool, err error) {
	err = client.Stream(ctx, query, 1, func(batch []Record) error {
		rec, ok = batch[0], true
		return errStop
	})
	if errors.Is(err, errStop) {
		err = nil
	}
	return rec, ok, err
}

// statement strips trailing semicolons so the query can be wrapped in a
// cursor declaration.
func statement(query string) string {
	return strings.TrimRight(strings.TrimSpace(query), "; \t\n")
}

func connectivity(action string, err error) error {
	return errkind.Connectivity.Wrap(fmt.Errorf("failed to %s: %w", action, err))
}
