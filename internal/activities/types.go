package activities

import "github.com/nucleus/metadata-extractor/internal/preflight"

// Activity names used when registering with a worker and scheduling from
// workflows.
const (
	SetupOutputDirectoryName    = "SetupOutputDirectory"
	PreflightName               = "Preflight"
	ExtractMetadataName         = "ExtractMetadata"
	PushResultsName             = "PushResults"
	TeardownOutputDirectoryName = "TeardownOutputDirectory"
	ReleaseCredentialName       = "ReleaseCredential"
)

// ExtractionConfig is the input of one ExtractMetadata invocation: a single
// metadata type with its already-rendered query.
type ExtractionConfig struct {
	CredentialGUID string `json:"credentialGuid"`
	OutputPath     string `json:"outputPath"`
	TypeName       string `json:"typeName"`
	Query          string `json:"query"`
	BatchSize      int    `json:"batchSize,omitempty"`
}

// Summary counts the rows one metadata type produced.
type Summary struct {
	Raw         int64 `json:"raw"`
	Transformed int64 `json:"transformed"`
	Errored     int64 `json:"errored"`
}

// Add accumulates o into s.
func (s *Summary) Add(o Summary) {
	s.Raw += o.Raw
	s.Transformed += o.Transformed
	s.Errored += o.Errored
}

// Progress is recorded as heartbeat details after every batch.
type Progress struct {
	Chunks  int     `json:"chunks"`
	Summary Summary `json:"summary"`
}

// PreflightInput is the input of the Preflight activity.
type PreflightInput struct {
	CredentialGUID string            `json:"credentialGuid"`
	Filters        preflight.Filters `json:"filters"`
}

// PushInput is the input of the PushResults activity.
type PushInput struct {
	OutputPath   string `json:"outputPath"`
	OutputPrefix string `json:"outputPrefix"`
}
