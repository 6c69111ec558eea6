// Package workflows defines the metadata extraction workflow: preflight,
// concurrent per-type extraction, push, and cleanup.
package workflows

import (
	"path/filepath"

	"go.temporal.io/sdk/workflow"

	"github.com/nucleus/metadata-extractor/internal/activities"
	"github.com/nucleus/metadata-extractor/internal/errkind"
	"github.com/nucleus/metadata-extractor/internal/filter"
	"github.com/nucleus/metadata-extractor/internal/objectstore"
	"github.com/nucleus/metadata-extractor/internal/preflight"
	"github.com/nucleus/metadata-extractor/internal/sqlquery"
	"github.com/nucleus/metadata-extractor/internal/transform"
)

// Workflows holds what the extraction workflow needs from the worker.
type Workflows struct {
	catalog        sqlquery.Catalog
	defaultDialect string
	options        map[string]workflow.ActivityOptions
}

// New creates the workflow set. catalog must be identical on every worker
// polling the task queue.
func New(catalog sqlquery.Catalog, defaultDialect string) *Workflows {
	return &Workflows{catalog: catalog, defaultDialect: defaultDialect}
}

type typedQuery struct {
	typename string
	query    string
}

// Extraction runs one extraction:
// Created -> PreflightRunning -> Extracting -> Pushing -> Completed, or
// Failed from any of them.
func (w *Workflows) Extraction(ctx workflow.Context, cfg WorkflowConfig) (*Result, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)

	status := Status{State: StateCreated}
	if err := workflow.SetQueryHandler(ctx, StateQuery, func() (Status, error) {
		return status, nil
	}); err != nil {
		return nil, err
	}
	fail := func(err error) (*Result, error) {
		status.State = StateFailed
		status.Error = err.Error()
		logger.Error("extraction failed", "state", status.State, "error", err)
		return nil, err
	}

	outputPath := filepath.Join(cfg.OutputPrefix, info.WorkflowExecution.ID, info.WorkflowExecution.RunID)
	status.OutputPath = outputPath

	queries, err := w.render(cfg)
	if err != nil {
		return fail(errkind.ToTemporal(err))
	}

	status.State = StatePreflightRunning
	logger.Info("starting preflight", "outputPath", outputPath)
	err = workflow.ExecuteActivity(w.activity(ctx, activities.SetupOutputDirectoryName),
		activities.SetupOutputDirectoryName, outputPath).Get(ctx, nil)
	if err != nil {
		return fail(err)
	}
	var check preflight.Result
	err = workflow.ExecuteActivity(w.activity(ctx, activities.PreflightName),
		activities.PreflightName, activities.PreflightInput{
			CredentialGUID: cfg.CredentialGUID,
			Filters: preflight.Filters{
				Include:        cfg.IncludeFilter,
				Exclude:        cfg.ExcludeFilter,
				TempTableRegex: cfg.TempTableRegex,
			},
		}).Get(ctx, &check)
	if err != nil {
		return fail(err)
	}

	status.State = StateExtracting
	summary, err := w.extractAll(ctx, cfg, outputPath, queries)
	if err != nil {
		return fail(err)
	}
	status.Summary = summary

	status.State = StatePushing
	var pushed objectstore.PushResult
	err = workflow.ExecuteActivity(w.activity(ctx, activities.PushResultsName),
		activities.PushResultsName, activities.PushInput{
			OutputPath:   outputPath,
			OutputPrefix: cfg.OutputPrefix,
		}).Get(ctx, &pushed)
	if err != nil {
		return fail(err)
	}

	status.State = StateCompleted
	logger.Info("extraction completed", "outputPath", outputPath, "objects", len(pushed.Keys))

	// A failed run keeps its credential so it can be reset and replayed.
	err = workflow.ExecuteActivity(w.activity(ctx, activities.ReleaseCredentialName),
		activities.ReleaseCredentialName, cfg.CredentialGUID).Get(ctx, nil)
	if err != nil {
		logger.Warn("credential release failed", "error", err)
	}

	if !cfg.KeepOutput {
		err := workflow.ExecuteActivity(w.activity(ctx, activities.TeardownOutputDirectoryName),
			activities.TeardownOutputDirectoryName, outputPath).Get(ctx, nil)
		if err != nil {
			logger.Warn("teardown failed", "outputPath", outputPath, "error", err)
		}
	}

	return &Result{
		OutputPath: outputPath,
		Summary:    summary,
		Bucket:     pushed.Bucket,
		Objects:    len(pushed.Keys),
	}, nil
}

func (w *Workflows) activity(ctx workflow.Context, name string) workflow.Context {
	return workflow.WithActivityOptions(ctx, w.options[name])
}

// render compiles the filters and substitutes them into each enabled type's
// query, once per run.
func (w *Workflows) render(cfg WorkflowConfig) ([]typedQuery, error) {
	compiled, err := filter.Prepare(cfg.IncludeFilter, cfg.ExcludeFilter, cfg.TempTableRegex)
	if err != nil {
		return nil, err
	}
	name := cfg.Dialect
	if name == "" {
		name = w.defaultDialect
	}
	dialect, err := w.catalog.Dialect(name)
	if err != nil {
		return nil, err
	}

	var queries []typedQuery
	for _, mt := range transform.AllTypes() {
		if mt == transform.Column && !enabled(cfg.FetchColumns) {
			continue
		}
		if mt == transform.Procedure && !enabled(cfg.FetchProcedures) {
			continue
		}
		q, err := dialect.RenderType(mt.String(), compiled)
		if err != nil {
			return nil, err
		}
		queries = append(queries, typedQuery{typename: mt.String(), query: q})
	}
	return queries, nil
}

// extractAll runs one extraction activity per type concurrently. The first
// failure cancels the others and fails the run.
func (w *Workflows) extractAll(ctx workflow.Context, cfg WorkflowConfig, outputPath string, queries []typedQuery) (map[string]activities.Summary, error) {
	ctx, cancel := workflow.WithCancel(ctx)
	defer cancel()
	actx := w.activity(ctx, activities.ExtractMetadataName)

	summary := make(map[string]activities.Summary, len(queries))
	var firstErr error
	selector := workflow.NewSelector(ctx)
	for _, q := range queries {
		future := workflow.ExecuteActivity(actx, activities.ExtractMetadataName, activities.ExtractionConfig{
			CredentialGUID: cfg.CredentialGUID,
			OutputPath:     outputPath,
			TypeName:       q.typename,
			Query:          q.query,
			BatchSize:      cfg.BatchSize,
		})
		selector.AddFuture(future, func(f workflow.Future) {
			var s activities.Summary
			if err := f.Get(ctx, &s); err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			summary[q.typename] = s
		})
	}
	for range queries {
		selector.Select(ctx)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return summary, nil
}
