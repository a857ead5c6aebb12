package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicOptions configures the Anthropic action provider.
type AnthropicOptions struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Anthropic produces agent actions via the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropic creates an Anthropic-backed action provider.
func NewAnthropic(optFns ...func(o *AnthropicOptions)) *Anthropic {
	opts := AnthropicOptions{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Anthropic{client: &client, opts: opts}
}

// Name identifies the provider in logs and audit payloads.
func (p *Anthropic) Name() string { return "anthropic" }

// ProduceAction renders the run context into a single-turn prompt and
// returns the model's text blocks joined as the agent's action.
func (p *Anthropic) ProduceAction(ctx context.Context, req Request) (Action, error) {
	params := anthropic.MessageNewParams{
		Model:       p.opts.Model,
		MaxTokens:   p.opts.MaxTokens,
		Temperature: anthropic.Float(p.opts.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt(req)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(Transcript(req))),
		},
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Action{}, fmt.Errorf("provider: anthropic api: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.AsText().Text
		}
	}
	if content == "" {
		return Action{}, ErrEmptyAction
	}

	return Action{Content: content, Model: string(p.opts.Model)}, nil
}
