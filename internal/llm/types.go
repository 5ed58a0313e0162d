package llm

import (
	"context"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// Request is one text-generation call.
type Request struct {
	Prompt          string
	MaxOutputTokens int
	Temperature     float64
}

// Response is the accumulated result of a finished stream.
type Response struct {
	Text       string
	StopReason schema.StopReason
	Usage      schema.TokenUsage
	Model      string
}

// Streamer is the text-generation boundary: prompt in, text fragments out,
// terminated by a stop reason and usage report. onChunk may be nil and is
// called synchronously, in order, before Stream returns.
type Streamer interface {
	Stream(ctx context.Context, req Request, onChunk func(string)) (*Response, error)
}
