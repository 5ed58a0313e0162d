package schema

import (
	"fmt"
	"strings"
)

// PreconditionError is returned when an operation is invoked in the wrong stage
// or with unconfirmed requirements. It is a caller bug and never retried.
type PreconditionError struct {
	Op     string
	Stage  Stage
	Reason string
}

func (e *PreconditionError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: precondition failed in stage %s: %s", e.Op, e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s: precondition failed: %s", e.Op, e.Reason)
}

// ExternalServiceError wraps a failure of one of the external collaborators
// (text generation, similarity search, persistence).
type ExternalServiceError struct {
	Service string
	Message string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// ArtifactExtractionError means the generated text contained no recognizable artifact.
type ArtifactExtractionError struct {
	RunID      string
	Strategies []string
}

func (e *ArtifactExtractionError) Error() string {
	return fmt.Sprintf("run %s: no artifact found (tried %s)", e.RunID, strings.Join(e.Strategies, ", "))
}

// RunInFlightError rejects a second concurrent generation for the same session.
type RunInFlightError struct {
	SessionID string
	RunID     string
}

func (e *RunInFlightError) Error() string {
	return fmt.Sprintf("session %s: generation run %s already in flight", e.SessionID, e.RunID)
}

// RunAbandonedError reports a result that arrived after its run was abandoned.
type RunAbandonedError struct {
	SessionID string
	RunID     string
}

func (e *RunAbandonedError) Error() string {
	return fmt.Sprintf("session %s: run %s was abandoned, result discarded", e.SessionID, e.RunID)
}

// SessionNotFoundError is returned for unknown session ids.
type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.ID)
}
