package workflows

import "github.com/nucleus/metadata-extractor/internal/activities"

const (
	// ExtractionWorkflowName is the registered workflow type.
	ExtractionWorkflowName = "MetadataExtractionWorkflow"
	// StateQuery returns the run's Status.
	StateQuery = "state"
)

// State is a step of the extraction state machine.
type State string

const (
	StateCreated          State = "Created"
	StatePreflightRunning State = "PreflightRunning"
	StateExtracting       State = "Extracting"
	StatePushing          State = "Pushing"
	StateCompleted        State = "Completed"
	StateFailed           State = "Failed"
)

// WorkflowConfig identifies one extraction run. Credentials are referenced
// by GUID; raw secrets never enter workflow history.
type WorkflowConfig struct {
	CredentialGUID string `json:"credentialGuid"`
	// Dialect selects the query set. Empty means the worker default.
	Dialect        string `json:"dialect,omitempty"`
	IncludeFilter  string `json:"includeFilterStr"`
	ExcludeFilter  string `json:"excludeFilterStr"`
	TempTableRegex string `json:"tempTableRegexStr"`
	OutputPrefix   string `json:"outputPrefix"`
	BatchSize      int    `json:"batchSize,omitempty"`

	// FetchColumns and FetchProcedures default to true when nil.
	FetchColumns    *bool `json:"fetchColumns,omitempty"`
	FetchProcedures *bool `json:"fetchProcedures,omitempty"`

	// KeepOutput skips the teardown of the local output after a completed run.
	KeepOutput bool `json:"keepOutput,omitempty"`
}

func enabled(b *bool) bool { return b == nil || *b }

// Result is returned by a completed run.
type Result struct {
	OutputPath string                        `json:"outputPath"`
	Summary    map[string]activities.Summary `json:"summary"`
	Bucket     string                        `json:"bucket"`
	Objects    int                           `json:"objects"`
}

// Status answers the state query.
type Status struct {
	State      State                         `json:"state"`
	OutputPath string                        `json:"outputPath,omitempty"`
	Summary    map[string]activities.Summary `json:"summary,omitempty"`
	Error      string                        `json:"error,omitempty"`
}
