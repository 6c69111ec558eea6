package activities

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/errkind"
	"github.com/nucleus/metadata-extractor/internal/source"
	"github.com/nucleus/metadata-extractor/internal/transform"
)

// ExtractMetadata streams one metadata type from the source. Every fetched
// batch k is written to raw/{type}-{k}.json and transformed/{type}-{k}.json
// as newline-delimited JSON. Row failures are counted, not returned; only
// connection, query and file errors fail the activity.
func (a *Activities) ExtractMetadata(ctx context.Context, cfg ExtractionConfig) (Summary, error) {
	typename := strings.ToLower(cfg.TypeName)
	logger := a.logger(ctx).With(zap.String("typeName", typename))
	var summary Summary

	if typename == "" || strings.TrimSpace(cfg.Query) == "" {
		return summary, errkind.ToTemporal(errkind.Config.New("type name and query are required"))
	}
	if err := checkOutputPath(cfg.OutputPath); err != nil {
		return summary, errkind.ToTemporal(err)
	}

	cred, err := a.credential(ctx, cfg.CredentialGUID)
	if err != nil {
		return summary, errkind.ToTemporal(err)
	}
	dialect, err := a.deps.Catalog.Dialect(cred.Dialect)
	if err != nil {
		return summary, errkind.ToTemporal(err)
	}
	convert := transform.New(dialect.URISource, dialect.Namespace).For(typename)

	for _, dir := range []string{rawDir, transformedDir} {
		if err := os.MkdirAll(filepath.Join(cfg.OutputPath, dir), 0o755); err != nil {
			return summary, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	// An earlier attempt may have written more chunks than this one will.
	if err := clearChunks(cfg.OutputPath, typename); err != nil {
		return summary, errkind.ToTemporal(err)
	}

	client, err := a.deps.Connector.Connect(ctx, cred)
	if err != nil {
		logger.Error("failed to connect to source", zap.Error(err))
		return summary, errkind.ToTemporal(err)
	}
	defer func() {
		if err := client.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to close source connection", zap.Error(err))
		}
	}()

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = a.deps.BatchSize
	}

	start := time.Now()
	chunks := 0
	beat := newHeartbeater(ctx, a.deps.HeartbeatInterval)
	defer beat.stop()
	err = client.Stream(ctx, cfg.Query, batchSize, func(batch []source.Record) error {
		batchStart := time.Now()
		got, err := a.writeChunk(cfg.OutputPath, typename, chunks, batch, convert, logger)
		if err != nil {
			return err
		}
		chunks++
		summary.Add(got)
		beat.record(Progress{Chunks: chunks, Summary: summary})
		logger.Info("processed batch",
			zap.Int("chunk", chunks-1),
			zap.Int("rows", len(batch)),
			zap.Duration("elapsed", time.Since(batchStart)),
			zap.Int64("totalRows", summary.Raw))
		return nil
	})
	if err != nil {
		logger.Error("metadata extraction failed", zap.Int("chunks", chunks), zap.Error(err))
		return summary, errkind.ToTemporal(err)
	}

	if err := os.WriteFile(chunksFile(cfg.OutputPath, typename), []byte(strconv.Itoa(chunks)+"\n"), 0o644); err != nil {
		return summary, fmt.Errorf("failed to write chunk count: %w", err)
	}

	logger.Info("metadata extraction complete",
		zap.Int("chunks", chunks),
		zap.Int64("raw", summary.Raw),
		zap.Int64("transformed", summary.Transformed),
		zap.Int64("errored", summary.Errored),
		zap.Duration("elapsed", time.Since(start)))
	return summary, nil
}

// writeChunk writes one batch to its raw and transformed chunk files. The
// files are truncated, so a retried attempt rewrites them instead of
// appending duplicates.
func (a *Activities) writeChunk(outputPath, typename string, chunk int, batch []source.Record, convert converter, logger *zap.Logger) (Summary, error) {
	var summary Summary

	raw, err := newChunkWriter(chunkPath(outputPath, rawDir, typename, chunk))
	if err != nil {
		return summary, err
	}
	defer raw.abort()
	transformed, err := newChunkWriter(chunkPath(outputPath, transformedDir, typename, chunk))
	if err != nil {
		return summary, err
	}
	defer transformed.abort()

	for i, rec := range batch {
		rawLine, entityLine, err := processRow(convert, rec)
		if rawLine != nil {
			if err := raw.writeLine(rawLine); err != nil {
				return summary, err
			}
			summary.Raw++
		}
		if err != nil {
			summary.Errored++
			logger.Warn("row not transformed",
				zap.Int("chunk", chunk),
				zap.Int("row", i),
				zap.Error(err))
			continue
		}
		if err := transformed.writeLine(entityLine); err != nil {
			return summary, err
		}
		summary.Transformed++
	}

	if err := raw.close(); err != nil {
		return summary, err
	}
	if err := transformed.close(); err != nil {
		return summary, err
	}
	return summary, nil
}

type converter func(source.Record) (*transform.Entity, error)

// processRow serializes a row and its entity. A non-nil rawLine with an
// error means the raw form is valid but the row could not be transformed.
func processRow(convert converter, rec source.Record) (rawLine, entityLine []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			entityLine = nil
			err = fmt.Errorf("panic while processing row: %v", r)
		}
	}()

	rawLine, err = json.Marshal(rec)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode raw row: %w", err)
	}
	entity, err := convert(rec)
	if err != nil {
		return rawLine, nil, err
	}
	entityLine, err = json.Marshal(entity)
	if err != nil {
		return rawLine, nil, fmt.Errorf("failed to encode entity: %w", err)
	}
	return rawLine, entityLine, nil
}

// heartbeater re-sends the last progress on a ticker so a single long fetch
// does not outlive the heartbeat timeout.
type heartbeater struct {
	ctx  context.Context
	mu   sync.Mutex
	last Progress
	done chan struct{}
	wg   sync.WaitGroup
}

func newHeartbeater(ctx context.Context, interval time.Duration) *heartbeater {
	h := &heartbeater{ctx: ctx, done: make(chan struct{})}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.mu.Lock()
				activity.RecordHeartbeat(ctx, h.last)
				h.mu.Unlock()
			case <-h.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return h
}

func (h *heartbeater) record(p Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = p
	activity.RecordHeartbeat(h.ctx, p)
}

func (h *heartbeater) stop() {
	close(h.done)
	h.wg.Wait()
}

type chunkWriter struct {
	f *os.File
	w *bufio.Writer
}

func newChunkWriter(path string) (*chunkWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk file: %w", err)
	}
	return &chunkWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (c *chunkWriter) writeLine(line []byte) error {
	if _, err := c.w.Write(line); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.f.Name(), err)
	}
	return c.w.WriteByte('\n')
}

func (c *chunkWriter) close() error {
	if c.f == nil {
		return nil
	}
	err := errors.Join(c.w.Flush(), c.f.Close())
	c.f = nil
	if err != nil {
		return fmt.Errorf("failed to close chunk file: %w", err)
	}
	return nil
}

func (c *chunkWriter) abort() {
	if c.f != nil {
		_ = c.f.Close()
		c.f = nil
	}
}
