package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// GeminiBackend streams from the Gemini API through the official genai client.
type GeminiBackend struct {
	cli   *genai.Client
	model string
}

// NewGeminiBackend creates a Gemini backend for the given model.
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiBackend{cli: cli, model: model}, nil
}

// Stream implements Streamer.
func (b *GeminiBackend) Stream(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxOutputTokens),
	}

	var full strings.Builder
	out := &Response{Model: b.model, StopReason: schema.StopReasonStop}
	for resp, err := range b.cli.Models.GenerateContentStream(ctx, b.model, genai.Text(req.Prompt), cfg) {
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, NewTimeoutError(err)
			}
			var apiErr genai.APIError
			if errors.As(err, &apiErr) {
				return nil, NewAPIError(apiErr.Code, apiErr.Message)
			}
			return nil, NewStreamError("gemini stream failed", err)
		}
		if text := resp.Text(); text != "" {
			full.WriteString(text)
			if onChunk != nil {
				onChunk(text)
			}
		}
		if resp.UsageMetadata != nil {
			out.Usage = schema.TokenUsage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		if len(resp.Candidates) > 0 {
			switch resp.Candidates[0].FinishReason {
			case genai.FinishReasonMaxTokens:
				out.StopReason = schema.StopReasonMaxTokens
			case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonOther:
				out.StopReason = schema.StopReasonError
			}
		}
	}
	out.Text = full.String()
	return out, nil
}
