package llm

import (
	"context"
	"time"

	"github.com/noahsdonaldson/prospector/pkg/anthropic"
)

type anthropicClient struct {
	api     anthropic.Client
	hasKey  bool
	model   string
	timeout time.Duration
}

// NewAnthropic wraps an Anthropic messages client. hasKey false makes every
// call fail with AuthenticationError without touching the network.
func NewAnthropic(api anthropic.Client, hasKey bool, model string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &anthropicClient{api: api, hasKey: hasKey, model: model, timeout: timeout}
}

func (c *anthropicClient) Provider() string { return ProviderAnthropic }
func (c *anthropicClient) Model() string    { return c.model }

func (c *anthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if !c.hasKey {
		return nil, &AuthenticationError{Provider: ProviderAnthropic, Reason: "no API key configured"}
	}
	return invoke(ctx, ProviderAnthropic, c.timeout, anthropic.StatusCode, func(ctx context.Context) (*Response, error) {
		msg, err := c.api.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       c.model,
			MaxTokens:   int64(maxTokens(req.MaxTokens)),
			System:      req.System,
			Messages:    []anthropic.Message{{Role: "user", Content: schemaInstruction(req.Prompt, req.Schema)}},
			Temperature: req.Temperature,
		})
		if err != nil {
			return nil, err
		}
		msg.Usage.LogUsage(c.model, "generate")
		return &Response{
			Text:  msg.Text(),
			Model: msg.Model,
			Usage: Usage{InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens},
		}, nil
	})
}
