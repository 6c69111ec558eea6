package objectstore

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nucleus/metadata-extractor/internal/errkind"
)

// PusherOptions tunes upload parallelism.
type PusherOptions struct {
	// Concurrency bounds in-flight uploads. Values below one mean one.
	Concurrency int
	// Rate limits uploads per second. Zero disables limiting.
	Rate float64
	// Timeout bounds a single upload. Zero means no bound.
	Timeout time.Duration
}

// Pusher uploads a local output tree into a bucket.
type Pusher struct {
	store   ObjectStore
	bucket  string
	opts    PusherOptions
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewPusher creates a Pusher writing to bucket.
func NewPusher(store ObjectStore, bucket string, opts PusherOptions, logger *zap.Logger) *Pusher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), max(1, opts.Concurrency))
	}
	return &Pusher{store: store, bucket: bucket, opts: opts, limiter: limiter, logger: logger}
}

// PushResult reports what a push uploaded.
type PushResult struct {
	Bucket string   `json:"bucket"`
	Keys   []string `json:"keys"`
}

// Push uploads every regular file under outputPath. Object keys are the file
// paths relative to outputPrefix, with forward slashes. progress, when not
// nil, is called after each successful upload and must be safe for
// concurrent use.
func (p *Pusher) Push(ctx context.Context, outputPath, outputPrefix string, progress func(key string)) (PushResult, error) {
	res := PushResult{Bucket: p.bucket}

	files, err := p.collect(outputPath, outputPrefix)
	if err != nil {
		return res, err
	}
	if err := p.store.EnsureBucket(ctx, p.bucket); err != nil {
		return res, errkind.Push.Wrap(err)
	}

	var uploaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, f := range files {
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				return err
			}
			if err := p.put(gctx, f); err != nil {
				p.logger.Error("upload failed", zap.String("key", f.key), zap.Error(err))
				return errkind.Push.Wrap(err)
			}
			uploaded.Add(1)
			if progress != nil {
				progress(f.key)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	for _, f := range files {
		res.Keys = append(res.Keys, f.key)
	}
	p.logger.Info("pushed output",
		zap.String("bucket", p.bucket),
		zap.String("path", outputPath),
		zap.Int64("files", uploaded.Load()))
	return res, nil
}

func (p *Pusher) put(ctx context.Context, f upload) error {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	return p.store.PutFile(ctx, p.bucket, f.key, f.path)
}

type upload struct {
	path string
	key  string
}

func (p *Pusher) collect(outputPath, outputPrefix string) ([]upload, error) {
	var files []upload
	err := filepath.WalkDir(outputPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(outputPrefix, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, "../") {
			return errkind.Config.New("output path %s is outside output prefix %s", outputPath, outputPrefix)
		}
		files = append(files, upload{path: path, key: key})
		return nil
	})
	if err != nil {
		if errkind.Config.Has(err) {
			return nil, err
		}
		return nil, errkind.Push.Wrap(err)
	}
	return files, nil
}
