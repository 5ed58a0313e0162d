package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// RegisterModels initializes genkit and defines a model for every provider that has
// a credential. It returns the genkit handle and the model selected by config, or a
// nil model when the selected provider has no credential.
func RegisterModels(ctx context.Context, config *Config) (*genkit.Genkit, ai.Model, error) {
	if err := config.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	config.SetDefaults()

	g := genkit.Init(ctx)

	if config.APIKey != "" {
		client, err := NewClient(config)
		if err != nil {
			return nil, nil, err
		}
		defineStreamingModel(g, "openrouter/"+config.DefaultModel, config.DefaultModel+" (via OpenRouter)",
			func(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
				return client.StreamModel(ctx, config.DefaultModel, req, onChunk)
			})
	}

	if config.GeminiAPIKey != "" {
		gem, err := NewGeminiBackend(ctx, config.GeminiAPIKey, config.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		defineStreamingModel(g, "googleai/"+config.GeminiModel, config.GeminiModel+" (Gemini API)", gem.Stream)
	}

	if !config.HasCredential() {
		slog.Warn("No text-generation credential configured, running degraded", "provider", config.Provider)
		return g, nil, nil
	}
	model := genkit.LookupModel(g, config.ModelName())
	if model == nil {
		return nil, nil, fmt.Errorf("model %s not registered", config.ModelName())
	}
	return g, model, nil
}

type streamFunc func(ctx context.Context, req Request, onChunk func(string)) (*Response, error)

// defineStreamingModel adapts a Streamer-shaped function to a genkit model.
func defineStreamingModel(g *genkit.Genkit, name, label string, stream streamFunc) ai.Model {
	return genkit.DefineModel(
		g,
		name,
		&ai.ModelOptions{
			Label: label,
			Supports: &ai.ModelSupports{
				Multiturn:  true,
				SystemRole: true,
			},
		},
		func(ctx context.Context, mr *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
			req := Request{Prompt: promptText(mr)}
			if cfg, ok := mr.Config.(*ai.GenerationCommonConfig); ok && cfg != nil {
				req.MaxOutputTokens = cfg.MaxOutputTokens
				req.Temperature = cfg.Temperature
			}

			var cbErr error
			resp, err := stream(ctx, req, func(chunk string) {
				if cb == nil || cbErr != nil {
					return
				}
				cbErr = cb(ctx, &ai.ModelResponseChunk{Content: []*ai.Part{ai.NewTextPart(chunk)}})
			})
			if err != nil {
				return nil, err
			}
			if cbErr != nil {
				return nil, NewStreamError("stream callback failed", cbErr)
			}

			return &ai.ModelResponse{
				Request:      mr,
				FinishReason: toFinishReason(resp.StopReason),
				Usage: &ai.GenerationUsage{
					InputTokens:  resp.Usage.InputTokens,
					OutputTokens: resp.Usage.OutputTokens,
				},
				Message: &ai.Message{
					Role:    ai.RoleModel,
					Content: []*ai.Part{ai.NewTextPart(resp.Text)},
				},
			}, nil
		},
	)
}

func promptText(mr *ai.ModelRequest) string {
	var out string
	for _, m := range mr.Messages {
		if m == nil {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Text()
	}
	return out
}

func toFinishReason(r schema.StopReason) ai.FinishReason {
	switch r {
	case schema.StopReasonStop:
		return ai.FinishReasonStop
	case schema.StopReasonMaxTokens:
		return ai.FinishReasonLength
	default:
		return ai.FinishReasonOther
	}
}

func fromFinishReason(r ai.FinishReason) schema.StopReason {
	switch r {
	case ai.FinishReasonStop:
		return schema.StopReasonStop
	case ai.FinishReasonLength:
		return schema.StopReasonMaxTokens
	default:
		return schema.StopReasonError
	}
}

// Generator streams through a genkit model.
type Generator struct {
	model ai.Model
}

// NewGenerator wraps a genkit model.
func NewGenerator(model ai.Model) *Generator {
	return &Generator{model: model}
}

// Name returns the underlying model name.
func (g *Generator) Name() string {
	return g.model.Name()
}

// Stream implements Streamer.
func (g *Generator) Stream(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	mr := &ai.ModelRequest{
		Messages: []*ai.Message{ai.NewUserTextMessage(req.Prompt)},
		Config: &ai.GenerationCommonConfig{
			MaxOutputTokens: req.MaxOutputTokens,
			Temperature:     req.Temperature,
		},
	}
	resp, err := g.model.Generate(ctx, mr, func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
		if onChunk != nil {
			onChunk(chunk.Text())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &Response{
		Text:       resp.Text(),
		StopReason: fromFinishReason(resp.FinishReason),
		Model:      g.model.Name(),
	}
	if resp.Usage != nil {
		out.Usage = schema.TokenUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	}
	return out, nil
}
