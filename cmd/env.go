package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/noahsdonaldson/prospector/internal/config"
	"github.com/noahsdonaldson/prospector/internal/judge"
	"github.com/noahsdonaldson/prospector/internal/llm"
	"github.com/noahsdonaldson/prospector/internal/pipeline"
	"github.com/noahsdonaldson/prospector/internal/search"
	"github.com/noahsdonaldson/prospector/internal/store"
)

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	return st, nil
}

// researchEnv holds a pipeline and the resources it depends on.
type researchEnv struct {
	Pipeline *pipeline.Pipeline
	closeFn  func()
}

// Close releases the search cache connection, if any.
func (e *researchEnv) Close() {
	if e.closeFn != nil {
		e.closeFn()
	}
}

// initPipeline builds a pipeline on the given model provider, or the
// configured default when provider is empty.
func initPipeline(ctx context.Context, provider string) (*researchEnv, error) {
	c := configFor(provider)
	if err := c.Validate("research"); err != nil {
		return nil, err
	}

	client, err := llm.New(ctx, c, c.LLM.Provider)
	if err != nil {
		return nil, eris.Wrap(err, "init model client")
	}

	searcher, closeFn, err := search.NewFromConfig(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "init search")
	}

	return &researchEnv{
		Pipeline: pipeline.New(c, client, searcher),
		closeFn:  closeFn,
	}, nil
}

// configFor returns a copy of the loaded config with the model provider
// overridden.
func configFor(provider string) *config.Config {
	c := *cfg
	if provider != "" {
		c.LLM.Provider = provider
	}
	return &c
}

// initJudge builds the report judge on the configured judge provider.
func initJudge(ctx context.Context) (*judge.Judge, error) {
	provider := cfg.Judge.Provider
	if provider == "" {
		provider = llm.ProviderOpenAI
	}
	if cfg.ModelKey(provider) == "" {
		return nil, eris.Errorf("%s.key is required for report validation", provider)
	}
	return judge.NewFromConfig(ctx, cfg)
}
