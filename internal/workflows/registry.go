package workflows

import (
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/nucleus/metadata-extractor/internal/activities"
	"github.com/nucleus/metadata-extractor/internal/errkind"
)

var nonRetryable = []string{errkind.TypeConfig, errkind.TypePreflight}

func retryPolicy(maxAttempts int32) *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        5 * time.Minute,
		MaximumAttempts:        maxAttempts,
		NonRetryableErrorTypes: nonRetryable,
	}
}

// ActivityDefinition ties an activity name to its implementation and the
// options workflows schedule it with.
type ActivityDefinition struct {
	Name    string
	Fn      any
	Options workflow.ActivityOptions
}

// ActivityDefinitions lists every activity of an extraction run.
func ActivityDefinitions(acts *activities.Activities) []ActivityDefinition {
	return []ActivityDefinition{
		{
			Name: activities.SetupOutputDirectoryName,
			Fn:   acts.SetupOutputDirectory,
			Options: workflow.ActivityOptions{
				StartToCloseTimeout: time.Minute,
				RetryPolicy:         retryPolicy(3),
			},
		},
		{
			Name: activities.PreflightName,
			Fn:   acts.Preflight,
			Options: workflow.ActivityOptions{
				StartToCloseTimeout: 10 * time.Minute,
				RetryPolicy:         retryPolicy(6),
			},
		},
		{
			Name: activities.ExtractMetadataName,
			Fn:   acts.ExtractMetadata,
			Options: workflow.ActivityOptions{
				StartToCloseTimeout: 10 * time.Hour,
				HeartbeatTimeout:    time.Minute,
				RetryPolicy:         retryPolicy(6),
			},
		},
		{
			Name: activities.PushResultsName,
			Fn:   acts.PushResults,
			Options: workflow.ActivityOptions{
				StartToCloseTimeout: 10 * time.Minute,
				RetryPolicy:         retryPolicy(6),
			},
		},
		{
			Name: activities.TeardownOutputDirectoryName,
			Fn:   acts.TeardownOutputDirectory,
			Options: workflow.ActivityOptions{
				StartToCloseTimeout: time.Minute,
				RetryPolicy:         retryPolicy(3),
			},
		},
		{
			Name: activities.ReleaseCredentialName,
			Fn:   acts.ReleaseCredential,
			Options: workflow.ActivityOptions{
				StartToCloseTimeout: time.Minute,
				RetryPolicy:         retryPolicy(3),
			},
		},
	}
}

// Registry is satisfied by worker.Worker and the SDK test environment.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds the extraction workflow and its activities to r. The
// workflow schedules each activity with the options of its definition.
func Register(r Registry, wf *Workflows, acts *activities.Activities) {
	wf.options = make(map[string]workflow.ActivityOptions)
	for _, def := range ActivityDefinitions(acts) {
		r.RegisterActivityWithOptions(def.Fn, activity.RegisterOptions{Name: def.Name})
		wf.options[def.Name] = def.Options
	}
	r.RegisterWorkflowWithOptions(wf.Extraction, workflow.RegisterOptions{Name: ExtractionWorkflowName})
}
