package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/noahsdonaldson/prospector/internal/config"
	"github.com/noahsdonaldson/prospector/pkg/anthropic"
	"github.com/noahsdonaldson/prospector/pkg/gemini"
	"github.com/noahsdonaldson/prospector/pkg/openai"
)

// New builds the client for provider from configuration. A missing key is
// not an error here; the returned client fails each call with
// AuthenticationError instead.
func New(ctx context.Context, cfg *config.Config, provider string) (Client, error) {
	timeout := time.Duration(cfg.LLM.TimeoutSecs) * time.Second

	switch provider {
	case ProviderAnthropic:
		var opts []anthropic.Option
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		api := anthropic.NewClient(cfg.Anthropic.Key, opts...)
		return NewAnthropic(api, cfg.Anthropic.Key != "", cfg.Anthropic.Model, timeout), nil

	case ProviderOpenAI:
		var opts []openai.Option
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		if cfg.OpenAI.Model != "" {
			opts = append(opts, openai.WithModel(cfg.OpenAI.Model))
		}
		api := openai.NewClient(cfg.OpenAI.Key, opts...)
		return NewOpenAI(api, cfg.OpenAI.Key != "", cfg.OpenAI.Model, timeout), nil

	case ProviderGemini:
		if cfg.Gemini.Key == "" {
			return NewGemini(nil, cfg.Gemini.Model, timeout), nil
		}
		api, err := gemini.NewClient(ctx, cfg.Gemini.Key, cfg.Gemini.Model)
		if err != nil {
			return nil, eris.Wrap(err, "llm: create gemini client")
		}
		return NewGemini(api, cfg.Gemini.Model, timeout), nil

	default:
		return nil, eris.Errorf("llm: unknown provider %q", provider)
	}
}
