package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/noahsdonaldson/prospector/pkg/openai"
)

type openaiClient struct {
	api     openai.Client
	hasKey  bool
	model   string
	timeout time.Duration
}

// NewOpenAI wraps an OpenAI chat completions client.
func NewOpenAI(api openai.Client, hasKey bool, model string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &openaiClient{api: api, hasKey: hasKey, model: model, timeout: timeout}
}

func (c *openaiClient) Provider() string { return ProviderOpenAI }
func (c *openaiClient) Model() string    { return c.model }

func openaiStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func (c *openaiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if !c.hasKey {
		return nil, &AuthenticationError{Provider: ProviderOpenAI, Reason: "no API key configured"}
	}

	tokens := maxTokens(req.MaxTokens)
	chat := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   &tokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		chat.Messages = append(chat.Messages, openai.Message{Role: "system", Content: req.System})
	}
	chat.Messages = append(chat.Messages, openai.Message{Role: "user", Content: req.Prompt})
	if req.Schema != "" && json.Valid([]byte(req.Schema)) {
		chat.ResponseFormat = &openai.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &openai.JSONSchema{
				Name:   "stage_output",
				Schema: json.RawMessage(req.Schema),
			},
		}
	}

	return invoke(ctx, ProviderOpenAI, c.timeout, openaiStatus, func(ctx context.Context) (*Response, error) {
		resp, err := c.api.ChatCompletion(ctx, chat)
		if err != nil {
			return nil, err
		}
		model := resp.Model
		if model == "" {
			model = c.model
		}
		return &Response{
			Text:  resp.Content(),
			Model: model,
			Usage: Usage{
				InputTokens:  int64(resp.Usage.PromptTokens),
				OutputTokens: int64(resp.Usage.CompletionTokens),
			},
		}, nil
	})
}
