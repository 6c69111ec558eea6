// Package activities implements the Temporal activities of a metadata
// extraction run.
package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/credentials"
	"github.com/nucleus/metadata-extractor/internal/errkind"
	"github.com/nucleus/metadata-extractor/internal/objectstore"
	"github.com/nucleus/metadata-extractor/internal/preflight"
	"github.com/nucleus/metadata-extractor/internal/source"
	"github.com/nucleus/metadata-extractor/internal/sqlquery"
)

// Deps are the collaborators shared by all activities.
type Deps struct {
	Credentials    credentials.Store
	Connector      source.Connector
	Catalog        sqlquery.Catalog
	DefaultDialect string
	Pusher         *objectstore.Pusher
	BatchSize      int
	Logger         *zap.Logger

	// HeartbeatInterval is how often a running extraction re-sends its
	// progress while waiting on the source. Defaults to 20s.
	HeartbeatInterval time.Duration
}

const defaultHeartbeatInterval = 20 * time.Second

// Activities holds all extraction activities. Every exported method is an
// activity.
type Activities struct {
	deps    Deps
	checker *preflight.Checker
}

// New creates the activity set.
func New(deps Deps) *Activities {
	if deps.BatchSize <= 0 {
		deps.BatchSize = source.DefaultBatchSize
	}
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = defaultHeartbeatInterval
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Activities{
		deps:    deps,
		checker: preflight.NewChecker(deps.Connector, deps.Catalog, deps.DefaultDialect, deps.Logger),
	}
}

func (a *Activities) logger(ctx context.Context) *zap.Logger {
	info := activity.GetInfo(ctx)
	return a.deps.Logger.With(
		zap.String("workflowId", info.WorkflowExecution.ID),
		zap.String("runId", info.WorkflowExecution.RunID),
		zap.String("activity", info.ActivityType.Name),
		zap.Int32("attempt", info.Attempt),
	)
}

// credential resolves a stored credential. A missing GUID is a config error;
// store failures stay retryable.
func (a *Activities) credential(ctx context.Context, guid string) (credentials.Credential, error) {
	cred, err := a.deps.Credentials.Get(ctx, guid)
	if errors.Is(err, credentials.ErrNotFound) {
		return cred, errkind.Config.New("credentials %q not found", guid)
	}
	if err != nil {
		return cred, fmt.Errorf("failed to load credentials: %w", err)
	}
	return cred.Normalize(a.deps.DefaultDialect), nil
}

// ReleaseCredential deletes a stored credential once a run no longer needs
// it. Deleting an unknown GUID succeeds.
func (a *Activities) ReleaseCredential(ctx context.Context, guid string) error {
	if guid == "" {
		return nil
	}
	if err := a.deps.Credentials.Delete(ctx, guid); err != nil {
		return fmt.Errorf("failed to release credential: %w", err)
	}
	a.logger(ctx).Info("credential released", zap.String("guid", guid))
	return nil
}
