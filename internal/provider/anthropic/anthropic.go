// Package anthropic adapts Anthropic's Claude API to the kernel's
// provider.Provider port: no attachments, no beta computer-use blocks,
// only the plain Messages API the router needs to exercise a real
// provider. Concrete providers remain an external collaborator; this is
// the reference implementation the Router ships so the LLM port has at
// least one real exerciser.
package anthropic

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/corewire/agentkernel/internal/provider"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Config configures the adapter. APIKey is required.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Provider implements provider.Provider over the Anthropic Messages API.
type Provider struct {
	client       anthropic.Client
	defaultModel string
	models       map[string]bool
}

// knownModels is the closed set of Claude model IDs this adapter
// advertises support for.
var knownModels = []string{
	"claude-sonnet-4-20250514",
	"claude-opus-4-20250514",
	"claude-3-5-sonnet-20241022",
	"claude-3-opus-20240229",
	"claude-3-sonnet-20240229",
	"claude-3-haiku-20240307",
}

// New builds an Anthropic-backed Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, kernel.NewError(kernel.KindValidationError, "anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	models := make(map[string]bool, len(knownModels))
	for _, m := range knownModels {
		models[m] = true
	}

	return &Provider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		models:       models,
	}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "anthropic" }

// SupportsModel implements provider.Provider.
func (p *Provider) SupportsModel(model string) bool {
	if model == "" {
		return true
	}
	return p.models[model]
}

func (p *Provider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *Provider) buildParams(req provider.Request) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.resolveModel(req.Model)),
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if strings.EqualFold(m.Role, "assistant") {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	return params
}

// Generate implements provider.Provider via the non-streaming Messages API.
func (p *Provider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	params := p.buildParams(req)

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return provider.Response{}, kernel.Wrap(kernel.KindProviderError, "anthropic: generate failed", err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(anthropic.TextBlock); ok {
				content.WriteString(tb.Text)
			}
		}
	}

	return provider.Response{
		Content: content.String(),
		Usage: provider.Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

// GenerateStream implements provider.Provider via the streaming Messages
// API, translating SSE events into provider.Chunk values.
func (p *Provider) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	params := p.buildParams(req)
	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan provider.Chunk)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
					out <- provider.Chunk{ContentDelta: textDelta.Text}
				}
			}
		}
		out <- provider.Chunk{Done: true}
	}()
	return out, nil
}
