package search

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/noahsdonaldson/prospector/internal/config"
	"github.com/noahsdonaldson/prospector/internal/resilience"
	"github.com/noahsdonaldson/prospector/pkg/jina"
	"github.com/noahsdonaldson/prospector/pkg/perplexity"
	"github.com/noahsdonaldson/prospector/pkg/tavily"
)

// NewFromConfig builds the configured search client. It returns a nil
// Client when the selected provider has no key, which disables search.
// The returned close func releases the redis connection, if any.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Client, func(), error) {
	noop := func() {}

	var p Provider
	switch cfg.Search.Provider {
	case "", "tavily":
		if cfg.Tavily.Key == "" {
			return nil, noop, nil
		}
		var opts []tavily.Option
		if cfg.Tavily.BaseURL != "" {
			opts = append(opts, tavily.WithBaseURL(cfg.Tavily.BaseURL))
		}
		p = NewTavily(tavily.NewClient(cfg.Tavily.Key, opts...))
	case "jina":
		if cfg.Jina.Key == "" {
			return nil, noop, nil
		}
		var opts []jina.Option
		if cfg.Jina.SearchBaseURL != "" {
			opts = append(opts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
		}
		p = NewJina(jina.NewClient(cfg.Jina.Key, opts...))
	case "perplexity":
		if cfg.Perplexity.Key == "" {
			return nil, noop, nil
		}
		var opts []perplexity.Option
		if cfg.Perplexity.BaseURL != "" {
			opts = append(opts, perplexity.WithBaseURL(cfg.Perplexity.BaseURL))
		}
		if cfg.Perplexity.Model != "" {
			opts = append(opts, perplexity.WithModel(cfg.Perplexity.Model))
		}
		p = NewPerplexity(perplexity.NewClient(cfg.Perplexity.Key, opts...))
	default:
		return nil, noop, eris.Errorf("search: unknown provider %q", cfg.Search.Provider)
	}

	opts := []Option{
		WithRateLimit(cfg.Search.RateLimit),
		WithRetry(resilience.RetryFromConfig(cfg.Search.Retry)),
		WithBreaker(resilience.NewCircuitBreaker(resilience.CircuitFromConfig(p.Name(), cfg.Search.Circuit))),
		WithExecutiveResults(cfg.Search.ExecutiveResults),
	}

	closeFn := noop
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zap.L().Warn("search: redis unavailable, caching disabled", zap.String("address", cfg.Redis.Address), zap.Error(err))
			_ = rdb.Close()
		} else {
			opts = append(opts, WithCache(NewCache(rdb, time.Duration(cfg.Search.CacheTTLMins)*time.Minute)))
			closeFn = func() { _ = rdb.Close() }
		}
	}

	return New(p, opts...), closeFn, nil
}
