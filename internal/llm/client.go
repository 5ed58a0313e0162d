package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// Client streams completions from OpenRouter's OpenAI-compatible API.
type Client struct {
	config *Config
	http   *http.Client
}

// NewClient creates a new streaming client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.SetDefaults()
	if config.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	return &Client{
		config: config,
		http: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// OpenRouterRequest represents a streaming chat request (OpenAI-compatible).
type OpenRouterRequest struct {
	Model         string          `json:"model"`
	Messages      []OpenRouterMsg `json:"messages"`
	Stream        bool            `json:"stream"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   float64         `json:"temperature"`
	StreamOptions *StreamOptions  `json:"stream_options,omitempty"`
}

// StreamOptions asks the API to append a usage report to the stream.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// OpenRouterMsg represents a message in the conversation.
type OpenRouterMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenRouterChunk is one server-sent event of a streaming completion.
type OpenRouterChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Stream sends the prompt and forwards each text delta to onChunk.
func (c *Client) Stream(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	return c.StreamModel(ctx, c.config.DefaultModel, req, onChunk)
}

// StreamModel is Stream against an explicit model identifier.
func (c *Client) StreamModel(ctx context.Context, model string, req Request, onChunk func(string)) (*Response, error) {
	body, err := json.Marshal(OpenRouterRequest{
		Model:         model,
		Messages:      []OpenRouterMsg{{Role: "user", Content: req.Prompt}},
		Stream:        true,
		MaxTokens:     req.MaxOutputTokens,
		Temperature:   req.Temperature,
		StreamOptions: &StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.config.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		slog.Error("OpenRouter HTTP request failed",
			"error", err.Error(),
			"duration", time.Since(start),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewTimeoutError(err)
		}
		return nil, NewNetworkError(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		var errBody bytes.Buffer
		if _, err := errBody.ReadFrom(io.LimitReader(resp.Body, 4096)); err != nil {
			return nil, NewAPIError(resp.StatusCode, fmt.Sprintf("status %d (failed to read error body)", resp.StatusCode))
		}
		return nil, NewAPIError(resp.StatusCode, errBody.String())
	}

	out, err := readStream(ctx, resp.Body, onChunk)
	if err != nil {
		return nil, err
	}
	if out.Model == "" {
		out.Model = model
	}

	slog.Info("OpenRouter stream completed",
		"model", out.Model,
		"stop_reason", out.StopReason,
		"output_tokens", out.Usage.OutputTokens,
		"duration", time.Since(start),
	)
	return out, nil
}

// readStream parses server-sent events: "data:" lines are collected until a blank
// line ends the event, and "[DONE]" ends the stream.
func readStream(ctx context.Context, body io.Reader, onChunk func(string)) (*Response, error) {
	var (
		full     strings.Builder
		dataBuf  strings.Builder
		out      = &Response{}
		finished bool
	)

	flush := func() (bool, error) {
		raw := strings.TrimSpace(dataBuf.String())
		dataBuf.Reset()
		if raw == "" {
			return false, nil
		}
		if raw == "[DONE]" {
			return true, nil
		}

		var chunk OpenRouterChunk
		if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
			return false, NewParseError(raw, err)
		}
		if chunk.Error != nil {
			return false, NewStreamError(chunk.Error.Message, nil)
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		for _, choice := range chunk.Choices {
			if d := choice.Delta.Content; d != "" {
				full.WriteString(d)
				if onChunk != nil {
					onChunk(d)
				}
			}
			if choice.FinishReason != nil {
				finished = true
				out.StopReason = mapFinishReason(*choice.FinishReason)
			}
		}
		if chunk.Usage != nil {
			out.Usage = schema.TokenUsage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		return false, nil
	}

	br := bufio.NewReader(body)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			trim := strings.TrimRight(line, "\r\n")
			if trim == "" {
				done, ferr := flush()
				if ferr != nil {
					return nil, ferr
				}
				if done {
					break
				}
			} else if strings.HasPrefix(trim, "data:") {
				if dataBuf.Len() > 0 {
					dataBuf.WriteString("\n")
				}
				dataBuf.WriteString(strings.TrimSpace(strings.TrimPrefix(trim, "data:")))
			}
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, NewTimeoutError(ctxErr)
			}
			if !errors.Is(err, io.EOF) {
				return nil, NewStreamError("stream interrupted", err)
			}
			if _, ferr := flush(); ferr != nil {
				return nil, ferr
			}
			break
		}
	}

	if !finished {
		return nil, NewStreamError("stream ended without a finish reason", nil)
	}
	out.Text = full.String()
	return out, nil
}

func mapFinishReason(reason string) schema.StopReason {
	switch reason {
	case "stop", "end_turn":
		return schema.StopReasonStop
	case "length", "max_tokens":
		return schema.StopReasonMaxTokens
	default:
		return schema.StopReasonError
	}
}
