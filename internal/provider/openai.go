package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIOptions configures the OpenAI action provider.
type OpenAIOptions struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// OpenAI produces agent actions via the OpenAI Chat Completions API.
type OpenAI struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAI creates an OpenAI-backed action provider.
func NewOpenAI(optFns ...func(o *OpenAIOptions)) *OpenAI {
	opts := OpenAIOptions{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &OpenAI{client: &client, opts: opts}
}

// Name identifies the provider in logs and audit payloads.
func (p *OpenAI) Name() string { return "openai" }

// ProduceAction renders the run context into a single-turn prompt and
// returns the first choice's content as the agent's action.
func (p *OpenAI) ProduceAction(ctx context.Context, req Request) (Action, error) {
	params := openai.ChatCompletionNewParams{
		Model:               p.opts.Model,
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxCompletionTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt(req)),
			openai.UserMessage(Transcript(req)),
		},
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Action{}, fmt.Errorf("provider: openai api: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Action{}, ErrEmptyAction
	}

	return Action{Content: resp.Choices[0].Message.Content, Model: p.opts.Model}, nil
}
