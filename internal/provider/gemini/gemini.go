// Package gemini adapts Google's Gemini API to the kernel's
// provider.Provider port: no attachments, no vision parts, only the
// plain text GenerateContent/GenerateContentStream calls the router
// needs to exercise a third real provider alongside anthropic and
// openai.
package gemini

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/corewire/agentkernel/internal/provider"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Config configures the adapter. APIKey is required.
type Config struct {
	APIKey       string
	DefaultModel string
}

// Provider implements provider.Provider over the Gemini GenerateContent
// API.
type Provider struct {
	client       *genai.Client
	defaultModel string
}

// knownModels is the closed set of Gemini model IDs this adapter
// advertises support for.
var knownModels = map[string]bool{
	"gemini-2.0-flash":      true,
	"gemini-2.0-flash-lite": true,
	"gemini-1.5-pro":        true,
	"gemini-1.5-flash":      true,
	"gemini-1.5-flash-8b":   true,
}

// New builds a Gemini-backed Provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, kernel.NewError(kernel.KindValidationError, "gemini: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, kernel.Wrap(kernel.KindProviderError, "gemini: failed to create client", err)
	}

	return &Provider{client: client, defaultModel: cfg.DefaultModel}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "gemini" }

// SupportsModel implements provider.Provider.
func (p *Provider) SupportsModel(model string) bool {
	if model == "" {
		return true
	}
	return knownModels[model]
}

func (p *Provider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *Provider) convertMessages(req provider.Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		if strings.EqualFold(m.Role, "assistant") {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return contents
}

func (p *Provider) buildConfig(req provider.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	return cfg
}

// Generate implements provider.Provider via a non-streaming
// GenerateContent call.
func (p *Provider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	model := p.resolveModel(req.Model)
	resp, err := p.client.Models.GenerateContent(ctx, model, p.convertMessages(req), p.buildConfig(req))
	if err != nil {
		return provider.Response{}, kernel.Wrap(kernel.KindProviderError, "gemini: generate failed", err)
	}

	var content strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			content.WriteString(part.Text)
		}
	}

	usage := provider.Usage{}
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	return provider.Response{Content: content.String(), Usage: usage, ProviderName: p.Name()}, nil
}

// GenerateStream implements provider.Provider via Gemini's
// GenerateContentStream iterator, translating yielded chunks into
// provider.Chunk values as they arrive.
func (p *Provider) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	model := p.resolveModel(req.Model)
	contents := p.convertMessages(req)
	cfg := p.buildConfig(req)

	out := make(chan provider.Chunk)
	go func() {
		defer close(out)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text != "" {
						out <- provider.Chunk{ContentDelta: part.Text}
					}
				}
			}
			if resp.UsageMetadata != nil {
				out <- provider.Chunk{Usage: &provider.Usage{
					PromptTokens:     int64(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
				}}
			}
		}
		out <- provider.Chunk{Done: true}
	}()
	return out, nil
}
