package persistence

import (
	"errors"
	"fmt"

	"github.com/loomctl/loom/pkg/models"
)

// WorkflowError wraps workflow storage failures with the operation and
// target id.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// ExecutionError wraps execution storage failures with the operation
// and target id.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsWorkflowNotFound reports whether err indicates a missing workflow.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, models.ErrWorkflowNotFound)
}

// IsExecutionNotFound reports whether err indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, models.ErrExecutionNotFound)
}
