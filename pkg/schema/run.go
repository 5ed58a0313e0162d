package schema

import "time"

// StopReason tells why the text-generation stream ended.
type StopReason string

const (
	StopReasonStop      StopReason = "stop"
	StopReasonMaxTokens StopReason = "maxTokens"
	StopReasonError     StopReason = "error"
)

// TokenUsage is the usage report attached to a finished stream.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens" yaml:"input_tokens"`
	OutputTokens int `json:"outputTokens" yaml:"output_tokens"`
}

// GenerationRun records one invocation of the generation orchestrator.
type GenerationRun struct {
	ID                string            `json:"id"`
	SessionID         string            `json:"sessionId"`
	Attempt           int               `json:"attempt"`
	PromptDigest      string            `json:"promptDigest"`
	RawResponse       string            `json:"-"`
	ExtractedArtifact *string           `json:"-"`
	Strategy          string            `json:"strategy,omitempty"`
	StopReason        StopReason        `json:"stopReason"`
	TokenUsage        TokenUsage        `json:"tokenUsage"`
	Degraded          bool              `json:"degraded"`
	Truncated         bool              `json:"truncated"`
	ContextFallback   bool              `json:"contextFallback"`
	LastError         string            `json:"lastError,omitempty"`
	Validation        *ValidationResult `json:"validation,omitempty"`
	StartedAt         time.Time         `json:"startedAt"`
	EndedAt           time.Time         `json:"endedAt"`
}

// Artifact returns the extracted artifact text, or "" when extraction failed.
func (r *GenerationRun) Artifact() string {
	if r == nil || r.ExtractedArtifact == nil {
		return ""
	}
	return *r.ExtractedArtifact
}

// Duration is the wall time of the run.
func (r *GenerationRun) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// ProgressEvent is published while a run streams.
// Percentage never decreases within a run.
type ProgressEvent struct {
	SessionID  string    `json:"sessionId"`
	RunID      string    `json:"runId"`
	StepIndex  int       `json:"stepIndex"`
	Percentage int       `json:"percentage"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}
