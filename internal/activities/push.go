package activities

import (
	"context"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/errkind"
	"github.com/nucleus/metadata-extractor/internal/objectstore"
)

// PushResults uploads the run's output tree to the object store.
func (a *Activities) PushResults(ctx context.Context, in PushInput) (objectstore.PushResult, error) {
	logger := a.logger(ctx)
	if err := checkOutputPath(in.OutputPath); err != nil {
		return objectstore.PushResult{}, errkind.ToTemporal(err)
	}

	var mu sync.Mutex
	uploaded := 0
	res, err := a.deps.Pusher.Push(ctx, in.OutputPath, in.OutputPrefix, func(key string) {
		mu.Lock()
		defer mu.Unlock()
		uploaded++
		activity.RecordHeartbeat(ctx, uploaded)
	})
	if err != nil {
		logger.Error("push failed", zap.Int("uploaded", uploaded), zap.Error(err))
		if errkind.Push.Has(err) && !objectstore.IsRetryable(err) {
			return res, temporal.NewNonRetryableApplicationError(err.Error(), errkind.TypePush, err)
		}
		return res, errkind.ToTemporal(err)
	}
	logger.Info("results pushed", zap.String("bucket", res.Bucket), zap.Int("objects", len(res.Keys)))
	return res, nil
}
