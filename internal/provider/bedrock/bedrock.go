// Package bedrock adapts AWS Bedrock's Converse API to the kernel's
// provider.Provider port: no attachments, no image blocks, only the
// plain Converse/ConverseStream call the router needs to exercise a
// real multi-model gateway provider (Claude, Titan, Llama, Mistral, and
// Cohere models hosted on Bedrock all answer through the same adapter).
package bedrock

import (
	"context"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/corewire/agentkernel/internal/provider"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Config configures the adapter. Region falls back to us-east-1; explicit
// credentials are optional and fall back to the default AWS credential
// chain (env, IAM role) when empty.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
}

// knownModels is the closed set of Bedrock model IDs this adapter
// advertises support for.
var knownModels = []string{
	"anthropic.claude-3-opus-20240229-v1:0",
	"anthropic.claude-3-sonnet-20240229-v1:0",
	"anthropic.claude-3-haiku-20240307-v1:0",
	"anthropic.claude-v2:1",
	"amazon.titan-text-express-v1",
	"amazon.titan-text-lite-v1",
	"meta.llama3-70b-instruct-v1:0",
	"meta.llama3-8b-instruct-v1:0",
	"mistral.mixtral-8x7b-instruct-v0:1",
	"mistral.mistral-7b-instruct-v0:2",
	"cohere.command-r-plus-v1:0",
	"cohere.command-r-v1:0",
}

// Provider implements provider.Provider over the Bedrock Converse API.
type Provider struct {
	client       *bedrockruntime.Client
	defaultModel string
	models       map[string]bool
}

// New builds a Bedrock-backed Provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, kernel.Wrap(kernel.KindProviderError, "bedrock: failed to load AWS config", err)
	}

	models := make(map[string]bool, len(knownModels))
	for _, m := range knownModels {
		models[m] = true
	}

	return &Provider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		models:       models,
	}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "bedrock" }

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

func (p *Provider) convertMessages(req provider.Request) []types.Message {
	out := make([]types.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := types.ConversationRoleUser
		if strings.EqualFold(m.Role, "assistant") {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

func (p *Provider) buildInput(req provider.Request) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(p.resolveModel(req.Model)),
		Messages: p.convertMessages(req),
	}
	if req.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.SystemPrompt}}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}
	return input
}

// Generate implements provider.Provider by draining a ConverseStream
// call, since the kernel needs nothing from Converse that the streaming
// API doesn't carry.
func (p *Provider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	chunks, err := p.GenerateStream(ctx, req)
	if err != nil {
		return provider.Response{}, err
	}
	var content strings.Builder
	var usage provider.Usage
	for chunk := range chunks {
		content.WriteString(chunk.ContentDelta)
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
	return provider.Response{Content: content.String(), Usage: usage, ProviderName: p.Name()}, nil
}

// GenerateStream implements provider.Provider via Bedrock's
// ConverseStream API, translating stream events into provider.Chunk
// values as they arrive.
func (p *Provider) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	stream, err := p.client.ConverseStream(ctx, p.buildInput(req))
	if err != nil {
		return nil, kernel.Wrap(kernel.KindProviderError, "bedrock: converse stream failed", err)
	}

	out := make(chan provider.Chunk)
	go func() {
		defer close(out)
		eventStream := stream.GetStream()
		defer eventStream.Close()

		for event := range eventStream.Events() {
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if textDelta, ok := ev.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && textDelta.Value != "" {
					out <- provider.Chunk{ContentDelta: textDelta.Value}
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					out <- provider.Chunk{Usage: &provider.Usage{
						PromptTokens:     int64(aws.ToInt32(ev.Value.Usage.InputTokens)),
						CompletionTokens: int64(aws.ToInt32(ev.Value.Usage.OutputTokens)),
					}}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				out <- provider.Chunk{Done: true}
				return
			}
		}
		if err := eventStream.Err(); err != nil {
			return
		}
		out <- provider.Chunk{Done: true}
	}()
	return out, nil
}
