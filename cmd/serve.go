package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noahsdonaldson/prospector/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the research HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pipelines := newPipelineCache()
		defer pipelines.Close()

		var validator server.Validator
		if j, err := initJudge(ctx); err != nil {
			zap.L().Warn("serve: report validation disabled", zap.Error(err))
		} else {
			validator = j
		}

		srv := server.New(cfg.Server, st, pipelines.Get, validator)
		return srv.Run(ctx, cfg.Server.Port)
	},
}

// pipelineCache builds one pipeline per model provider on first use and
// shares it across requests.
type pipelineCache struct {
	mu   sync.Mutex
	envs map[string]*researchEnv
}

func newPipelineCache() *pipelineCache {
	return &pipelineCache{envs: make(map[string]*researchEnv)}
}

// Get implements server.ResearcherFactory.
func (c *pipelineCache) Get(ctx context.Context, provider string) (server.Researcher, error) {
	if provider == "" {
		provider = cfg.LLM.Provider
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if env, ok := c.envs[provider]; ok {
		return env.Pipeline, nil
	}
	// The pipeline outlives the request that first asked for it.
	env, err := initPipeline(context.WithoutCancel(ctx), provider)
	if err != nil {
		return nil, err
	}
	c.envs[provider] = env
	return env.Pipeline, nil
}

// Close releases every cached pipeline's resources.
func (c *pipelineCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, env := range c.envs {
		env.Close()
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
