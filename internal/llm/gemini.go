package llm

import (
	"context"
	"time"

	"github.com/noahsdonaldson/prospector/pkg/gemini"
)

type geminiClient struct {
	api     gemini.Client
	model   string
	timeout time.Duration
}

// NewGemini wraps a Gemini client. A nil api means no key was configured.
func NewGemini(api gemini.Client, model string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &geminiClient{api: api, model: model, timeout: timeout}
}

func (c *geminiClient) Provider() string { return ProviderGemini }
func (c *geminiClient) Model() string    { return c.model }

func (c *geminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if c.api == nil {
		return nil, &AuthenticationError{Provider: ProviderGemini, Reason: "no API key configured"}
	}

	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + prompt
	}
	greq := gemini.GenerateRequest{
		Model:     c.model,
		Prompt:    schemaInstruction(prompt, req.Schema),
		MaxTokens: int32(maxTokens(req.MaxTokens)),
		JSON:      req.Schema != "",
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		greq.Temperature = &t
	}

	return invoke(ctx, ProviderGemini, c.timeout, gemini.StatusCode, func(ctx context.Context) (*Response, error) {
		resp, err := c.api.Generate(ctx, greq)
		if err != nil {
			return nil, err
		}
		return &Response{
			Text:  resp.Text,
			Model: resp.Model,
			Usage: Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens},
		}, nil
	})
}
