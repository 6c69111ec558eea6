package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/errkind"
	"github.com/nucleus/metadata-extractor/internal/preflight"
)

// Preflight validates the run's filter scope against the source. Connection
// failures are retried; a scope the source cannot satisfy fails the run
// without retries.
func (a *Activities) Preflight(ctx context.Context, in PreflightInput) (preflight.Result, error) {
	logger := a.logger(ctx)

	cred, err := a.credential(ctx, in.CredentialGUID)
	if err != nil {
		return preflight.Result{}, errkind.ToTemporal(err)
	}

	res := a.checker.Check(ctx, cred, in.Filters)
	if res.Success() {
		logger.Info("preflight check passed", zap.String("message", res.Message()))
		return res, nil
	}

	if cause := res.Cause(); cause != nil {
		logger.Error("preflight check could not run", zap.Error(cause))
		return res, errkind.ToTemporal(cause)
	}
	logger.Error("preflight check failed", zap.String("message", res.Message()))
	return res, errkind.ToTemporal(errkind.Preflight.New("%s", res.Message()))
}
