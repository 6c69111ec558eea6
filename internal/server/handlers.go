package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/credentials"
	"github.com/nucleus/metadata-extractor/internal/errkind"
	"github.com/nucleus/metadata-extractor/internal/filter"
	"github.com/nucleus/metadata-extractor/internal/preflight"
	"github.com/nucleus/metadata-extractor/internal/workflows"
)

const maxBodyBytes = 1 << 20

// MetadataConfig carries the filter options of a request.
type MetadataConfig struct {
	IncludeFilter   string `json:"include-filter"`
	ExcludeFilter   string `json:"exclude-filter"`
	TempTableRegex  string `json:"temp-table-regex"`
	FetchColumns    *bool  `json:"fetch-columns,omitempty"`
	FetchProcedures *bool  `json:"fetch-procedures,omitempty"`
}

func (m MetadataConfig) filters() preflight.Filters {
	return preflight.Filters{Include: m.IncludeFilter, Exclude: m.ExcludeFilter, TempTableRegex: m.TempTableRegex}
}

// ConnectionConfig names the connection a run belongs to.
type ConnectionConfig struct {
	Connection string `json:"connection"`
}

// StartRequest is the body of POST /workflow/start.
type StartRequest struct {
	Credentials credentials.Credential `json:"credentials"`
	Connection  ConnectionConfig       `json:"connection"`
	Metadata    MetadataConfig         `json:"metadata"`
}

// StartResponse is returned once a run is scheduled.
type StartResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// PreflightRequest is the body of POST /preflight/check. form_data is
// accepted as an alias of metadata.
type PreflightRequest struct {
	Credentials credentials.Credential `json:"credentials"`
	Metadata    *MetadataConfig        `json:"metadata,omitempty"`
	FormData    *MetadataConfig        `json:"form_data,omitempty"`
}

func (p PreflightRequest) metadata() MetadataConfig {
	switch {
	case p.Metadata != nil:
		return *p.Metadata
	case p.FormData != nil:
		return *p.FormData
	}
	return MetadataConfig{}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", err)
		return false
	}
	return true
}

func (s *Server) credential(w http.ResponseWriter, cred credentials.Credential) (credentials.Credential, bool) {
	cred = cred.Normalize(s.cfg.SourceDialect)
	if err := cred.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CREDENTIALS", "invalid credentials", err)
		return cred, false
	}
	return cred, true
}

func (s *Server) startWorkflow(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decode(w, r, &req) {
		return
	}
	cred, ok := s.credential(w, req.Credentials)
	if !ok {
		return
	}
	m := req.Metadata
	if _, err := filter.Prepare(m.IncludeFilter, m.ExcludeFilter, m.TempTableRegex); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", "invalid filter", err)
		return
	}

	// A completed run releases the credential itself.
	ctx := r.Context()
	guid, err := s.creds.Put(ctx, cred)
	if err != nil {
		s.logger.Error("failed to store credentials", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to store credentials", err)
		return
	}

	ref, err := s.starter.Start(ctx, "", workflows.WorkflowConfig{
		CredentialGUID:  guid,
		Dialect:         cred.Dialect,
		IncludeFilter:   req.Metadata.IncludeFilter,
		ExcludeFilter:   req.Metadata.ExcludeFilter,
		TempTableRegex:  req.Metadata.TempTableRegex,
		OutputPrefix:    s.cfg.OutputPrefix,
		BatchSize:       s.cfg.BatchSize,
		FetchColumns:    req.Metadata.FetchColumns,
		FetchProcedures: req.Metadata.FetchProcedures,
		KeepOutput:      !s.cfg.TeardownOutput,
	})
	if err != nil {
		if delErr := s.creds.Delete(ctx, guid); delErr != nil {
			s.logger.Warn("failed to delete credentials", zap.String("guid", guid), zap.Error(delErr))
		}
		status := http.StatusInternalServerError
		if errors.Is(err, workflows.ErrAlreadyStarted) {
			status = http.StatusConflict
		}
		s.logger.Error("failed to start workflow", zap.Error(err))
		writeError(w, status, "WORKFLOW_START_FAILED", "failed to start workflow", err)
		return
	}

	s.logger.Info("workflow started",
		zap.String("workflowId", ref.WorkflowID),
		zap.String("runId", ref.RunID),
		zap.String("connection", req.Connection.Connection),
		zap.String("subject", AuthFromContext(ctx).Subject))
	writeJSON(w, http.StatusOK, StartResponse{
		Success:    true,
		Message:    "Workflow started",
		WorkflowID: ref.WorkflowID,
		RunID:      ref.RunID,
	})
}

func (s *Server) preflightCheck(w http.ResponseWriter, r *http.Request) {
	var req PreflightRequest
	if !decode(w, r, &req) {
		return
	}
	cred, ok := s.credential(w, req.Credentials)
	if !ok {
		return
	}

	res := s.checker.Check(r.Context(), cred, req.metadata().filters())
	body := map[string]any{
		"success": res.Success(),
		"message": res.Message(),
		"data":    res,
	}
	if cause := res.Cause(); cause != nil {
		body["error"] = fmt.Sprintf("Preflight check failed: %v", cause)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) testAuthentication(w http.ResponseWriter, r *http.Request) {
	var cred credentials.Credential
	if !decode(w, r, &cred) {
		return
	}
	cred, ok := s.credential(w, cred)
	if !ok {
		return
	}

	result, err := s.checker.TestAuthentication(r.Context(), cred)
	if err != nil {
		s.sourceError(w, err, "DATABASE_CONNECTION_ERROR",
			"Unable to connect to the database. Please check your credentials and try again.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": result})
}

func (s *Server) filterMetadata(w http.ResponseWriter, r *http.Request) {
	var cred credentials.Credential
	if !decode(w, r, &cred) {
		return
	}
	cred, ok := s.credential(w, cred)
	if !ok {
		return
	}

	result, err := s.checker.FilterMetadata(r.Context(), cred)
	if err != nil {
		s.sourceError(w, err, "DATABASE_QUERY_ERROR",
			"Unable to execute the query. Please check your database connection.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": result})
}

// sourceError maps source failures: connectivity is the caller's problem
// (400), config errors too, anything else is ours (500).
func (s *Server) sourceError(w http.ResponseWriter, err error, code, message string) {
	switch {
	case errkind.Connectivity.Has(err):
		writeError(w, http.StatusBadRequest, code, message, err)
	case errkind.Config.Has(err):
		writeError(w, http.StatusBadRequest, "INVALID_CREDENTIALS", "invalid credentials", err)
	default:
		s.logger.Error("unexpected source error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An unexpected error occurred.", err)
	}
}
