package source

import (
	"context"
	"database/sql"
)

// sqlClient streams results over database/sql. The driver reads rows off the
// wire as Next is called, so batching bounds memory without a cursor.
type sqlClient struct {
	db *sql.DB
}

func connectMySQL(ctx context.Context, dsn string) (Client, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, connectivity("open mysql connection", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, connectivity("connect to mysql", err)
	}
	return &sqlClient{db: db}, nil
}

func (c *sqlClient) Stream(ctx context.Context, query string, batchSize int, fn func([]Record) error) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	rows, err := c.db.QueryContext(ctx, statement(query))
	if err != nil {
		return connectivity("execute query", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return connectivity("read columns", err)
	}
	cols := NewColumns(names)

	batch := make([]Record, 0, min(batchSize, 1024))
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return connectivity("scan row", err)
		}
		batch = append(batch, NewRecord(cols, values))

		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]Record, 0, min(batchSize, 1024))
		}
	}
	if err := rows.Err(); err != nil {
		return connectivity("fetch rows", err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func (c *sqlClient) Close(context.Context) error {
	return c.db.Close()
}
