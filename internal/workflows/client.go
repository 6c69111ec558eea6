package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// ErrAlreadyStarted is returned when a run with the same workflow id is
// still open.
var ErrAlreadyStarted = errors.New("workflow already started")

// RunRef identifies a started run.
type RunRef struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Client starts and inspects extraction runs.
type Client struct {
	temporal  client.Client
	taskQueue string
}

// NewClient wraps a Temporal client.
func NewClient(c client.Client, taskQueue string) *Client {
	return &Client{temporal: c, taskQueue: taskQueue}
}

// Start launches an extraction. An empty workflowID gets a generated one.
func (c *Client) Start(ctx context.Context, workflowID string, cfg WorkflowConfig) (RunRef, error) {
	if workflowID == "" {
		workflowID = "metadata-extraction-" + uuid.NewString()
	}
	run, err := c.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                c.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, ExtractionWorkflowName, cfg)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return RunRef{}, fmt.Errorf("%w: %s", ErrAlreadyStarted, workflowID)
		}
		return RunRef{}, fmt.Errorf("failed to start workflow: %w", err)
	}
	return RunRef{WorkflowID: run.GetID(), RunID: run.GetRunID()}, nil
}

// Wait blocks until the run finishes and returns its result.
func (c *Client) Wait(ctx context.Context, ref RunRef) (*Result, error) {
	var res Result
	if err := c.temporal.GetWorkflow(ctx, ref.WorkflowID, ref.RunID).Get(ctx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// State queries the current state of a run.
func (c *Client) State(ctx context.Context, ref RunRef) (Status, error) {
	var status Status
	val, err := c.temporal.QueryWorkflow(ctx, ref.WorkflowID, ref.RunID, StateQuery)
	if err != nil {
		return status, fmt.Errorf("failed to query workflow: %w", err)
	}
	if err := val.Get(&status); err != nil {
		return status, fmt.Errorf("failed to decode workflow state: %w", err)
	}
	return status, nil
}
