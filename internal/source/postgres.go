package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const cleanupTimeout = 10 * time.Second

// postgresClient streams results through a server-side cursor so only one
// batch is held in memory at a time.
type postgresClient struct {
	conn *pgx.Conn
}

func connectPostgres(ctx context.Context, uri string) (Client, error) {
	cfg, err := pgx.ParseConfig(uri)
	if err != nil {
		return nil, connectivity("parse postgres connection string", err)
	}
	cfg.RuntimeParams["application_name"] = "metadata-extractor"

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, connectivity("connect to postgres", err)
	}
	return &postgresClient{conn: conn}, nil
}

func (c *postgresClient) Stream(ctx context.Context, query string, batchSize int, fn func([]Record) error) (err error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return connectivity("begin cursor transaction", err)
	}
	defer func() {
		// the cursor lives in tx; cancelled contexts must still end it
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if err != nil {
			_ = tx.Rollback(cleanupCtx)
			return
		}
		if commitErr := tx.Commit(cleanupCtx); commitErr != nil {
			err = connectivity("close cursor transaction", commitErr)
		}
	}()

	cursor := pgx.Identifier{"cursor_" + strings.ReplaceAll(uuid.NewString(), "-", "")}.Sanitize()
	if _, err = tx.Exec(ctx, "DECLARE "+cursor+" NO SCROLL CURSOR FOR "+statement(query)); err != nil {
		return connectivity("declare cursor", err)
	}

	fetch := fmt.Sprintf("FETCH FORWARD %d FROM %s", batchSize, cursor)
	for {
		var batch []Record
		batch, err = fetchBatch(ctx, tx, fetch)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		if err = fn(batch); err != nil {
			return err
		}
	}

	if _, err = tx.Exec(ctx, "CLOSE "+cursor); err != nil {
		return connectivity("close cursor", err)
	}
	return nil
}

func fetchBatch(ctx context.Context, tx pgx.Tx, fetch string) ([]Record, error) {
	rows, err := tx.Query(ctx, fetch)
	if err != nil {
		return nil, connectivity("fetch rows", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	cols := NewColumns(names)

	var batch []Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, connectivity("decode row", err)
		}
		batch = append(batch, NewRecord(cols, values))
	}
	if err := rows.Err(); err != nil {
		return nil, connectivity("fetch rows", err)
	}
	return batch, nil
}

func (c *postgresClient) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
