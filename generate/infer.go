package generate

import (
	"context"
	"fmt"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	lyricghost "github.com/drunkenbot/lyricghost"
)

// placeholderAPIKey is sent to servers that do not check credentials (vLLM by default).
const placeholderAPIKey = "not-needed"

type chatCompletionClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type completionClient interface {
	New(ctx context.Context, body openai.CompletionNewParams, opts ...option.RequestOption) (*openai.Completion, error)
}

// Sampling holds per-call generation parameters.
type Sampling struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Generator performs text generation via an OpenAI-compatible API.
type Generator struct {
	model   string
	apiType string // "chat_completions" or "completions"
	chat    chatCompletionClient
	legacy  completionClient
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithChatClient replaces the Chat Completions service (used by tests).
func WithChatClient(c chatCompletionClient) GeneratorOption {
	return func(g *Generator) {
		if c != nil {
			g.chat = c
		}
	}
}

// WithCompletionClient replaces the legacy Completions service (used by tests).
func WithCompletionClient(c completionClient) GeneratorOption {
	return func(g *Generator) {
		if c != nil {
			g.legacy = c
		}
	}
}

// NewGenerator creates a generator for the given endpoint.
func NewGenerator(baseURL, apiKey, model, apiType string, timeout time.Duration, maxRetries int, opts ...GeneratorOption) *Generator {
	if apiKey == "" {
		apiKey = placeholderAPIKey
	}
	if apiType != lyricghost.APITypeCompletions {
		apiType = lyricghost.APITypeChatCompletions
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(maxRetries),
	)

	g := &Generator{
		model:   model,
		apiType: apiType,
		chat:    &client.Chat.Completions,
		legacy:  &client.Completions,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// APIType returns the wire mode used for calls.
func (g *Generator) APIType() string { return g.apiType }

// Model returns the model name sent with each call.
func (g *Generator) Model() string { return g.model }

// Generate sends prompt to the oracle and returns its raw answer.
// A reply without choices yields an empty string.
func (g *Generator) Generate(ctx context.Context, prompt string, s Sampling) (string, error) {
	var (
		out string
		err error
	)
	if g.apiType == lyricghost.APITypeCompletions {
		out, err = g.generateCompletions(ctx, prompt, s)
	} else {
		out, err = g.generateChatCompletions(ctx, prompt, s)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", lyricghost.ErrOracleUnavailable, err)
	}
	return out, nil
}

func (g *Generator) generateChatCompletions(ctx context.Context, prompt string, s Sampling) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(int64(s.MaxTokens)),
		Temperature: openai.Float(s.Temperature),
	}
	if s.TopP > 0 {
		params.TopP = openai.Float(s.TopP)
	}

	resp, err := g.chat.New(ctx, params)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *Generator) generateCompletions(ctx context.Context, prompt string, s Sampling) (string, error) {
	params := openai.CompletionNewParams{
		Model: openai.CompletionNewParamsModel(g.model),
		Prompt: openai.CompletionNewParamsPromptUnion{
			OfString: openai.String(prompt),
		},
		MaxTokens:   openai.Int(int64(s.MaxTokens)),
		Temperature: openai.Float(s.Temperature),
	}
	if s.TopP > 0 {
		params.TopP = openai.Float(s.TopP)
	}

	resp, err := g.legacy.New(ctx, params)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Text, nil
}
