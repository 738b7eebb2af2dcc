// Package openai adapts OpenAI's Chat Completions API to the kernel's
// provider.Provider port, covering only the plain Chat Completions
// Request/Response shape the router exercises.
package openai

import (
	"context"
	"strings"

	openaisdk "github.com/sashabaranov/go-openai"

	"github.com/corewire/agentkernel/internal/provider"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Config configures the adapter. APIKey is required.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Provider implements provider.Provider over the OpenAI Chat Completions
// API.
type Provider struct {
	client       *openaisdk.Client
	defaultModel string
}

// New builds an OpenAI-backed Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, kernel.NewError(kernel.KindValidationError, "openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openaisdk.GPT4o
	}

	clientCfg := openaisdk.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client:       openaisdk.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "openai" }

// SupportsModel implements provider.Provider. OpenAI model IDs are an open
// set (new models ship continuously), so any non-Claude model name is
// accepted; the router's candidate filter still narrows by what's
// registered.
func (p *Provider) SupportsModel(model string) bool {
	return model == "" || !strings.HasPrefix(model, "claude-")
}

func (p *Provider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *Provider) buildMessages(req provider.Request) []openaisdk.ChatCompletionMessage {
	var out []openaisdk.ChatCompletionMessage
	if req.SystemPrompt != "" {
		out = append(out, openaisdk.ChatCompletionMessage{Role: openaisdk.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		out = append(out, openaisdk.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Generate implements provider.Provider via a non-streaming chat
// completion request.
func (p *Provider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openaisdk.ChatCompletionRequest{
		Model:       p.resolveModel(req.Model),
		Messages:    p.buildMessages(req),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return provider.Response{}, kernel.Wrap(kernel.KindProviderError, "openai: generate failed", err)
	}
	if len(resp.Choices) == 0 {
		return provider.Response{}, kernel.NewError(kernel.KindProviderError, "openai: empty choices in response")
	}

	return provider.Response{
		Content: resp.Choices[0].Message.Content,
		Usage: provider.Usage{
			PromptTokens:     int64(resp.Usage.PromptTokens),
			CompletionTokens: int64(resp.Usage.CompletionTokens),
		},
	}, nil
}

// GenerateStream implements provider.Provider via the streaming chat
// completion API.
func (p *Provider) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, openaisdk.ChatCompletionRequest{
		Model:       p.resolveModel(req.Model),
		Messages:    p.buildMessages(req),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, kernel.Wrap(kernel.KindProviderError, "openai: stream start failed", err)
	}

	out := make(chan provider.Chunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if err != nil {
				out <- provider.Chunk{Done: true}
				return
			}
			if len(resp.Choices) > 0 {
				out <- provider.Chunk{ContentDelta: resp.Choices[0].Delta.Content}
			}
		}
	}()
	return out, nil
}
