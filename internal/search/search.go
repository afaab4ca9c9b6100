// Package search augments prompts with recent web results. Every call is
// best-effort: failures are logged and reported as Result.Failed, never as
// errors.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/resilience"
)

const (
	defaultMaxResults       = 5
	defaultExecutiveResults = 3
	executiveConcurrency    = 4
	callTimeout             = 30 * time.Second
)

// Client is the search surface the pipeline depends on.
type Client interface {
	Search(ctx context.Context, query string, maxResults int) Result
	SearchExecutivesMulti(ctx context.Context, company string, roles []string) Result
}

// Result is formatted prompt context plus the citations behind it. Failed
// is set when the provider could not be reached; Text is then empty.
type Result struct {
	Text      string
	Citations []model.Citation
	Failed    bool
}

// Hit is one provider search result. Score is relevance in [0,1].
type Hit struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Provider is a single web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Hit, error)
}

// Query builds the stage search query for a company and topic.
func Query(company, topic string) string {
	return fmt.Sprintf("%s %s 2024 2025 2026", company, topic)
}

// Service implements Client on top of a Provider with throttling, retry,
// a circuit breaker and an optional cache.
type Service struct {
	provider         Provider
	limiter          *rate.Limiter
	breaker          *resilience.CircuitBreaker
	retry            resilience.RetryConfig
	cache            *Cache
	executiveResults int
}

// Option configures a Service.
type Option func(*Service)

// WithRateLimit caps provider calls per second. Zero or less disables it.
func WithRateLimit(perSec float64) Option {
	return func(s *Service) {
		if perSec > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		} else {
			s.limiter = nil
		}
	}
}

// WithRetry replaces the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Service) { s.breaker = cb }
}

// WithCache enables result caching.
func WithCache(c *Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithExecutiveResults sets the per-role result count for executive search.
func WithExecutiveResults(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.executiveResults = n
		}
	}
}

// New creates a Service backed by p.
func New(p Provider, opts ...Option) *Service {
	s := &Service{
		provider:         p,
		breaker:          resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: p.Name()}),
		retry:            resilience.DefaultRetryConfig(),
		executiveResults: defaultExecutiveResults,
	}
	for _, o := range opts {
		o(s)
	}
	s.retry.OnRetry = resilience.RetryLogger(p.Name(), "search")
	return s
}

// Search runs one query and formats the hits as prompt context.
func (s *Service) Search(ctx context.Context, query string, maxResults int) Result {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	hits, err := s.fetch(ctx, query, maxResults)
	if err != nil {
		zap.L().Warn("search: query failed",
			zap.String("provider", s.provider.Name()),
			zap.String("query", query),
			zap.Error(err),
		)
		return Result{Failed: true}
	}
	return Result{Text: Format(hits), Citations: Citations(hits)}
}

// SearchExecutivesMulti runs one query per role concurrently and merges the
// hits in role order, dropping duplicate URLs. The result is Failed only
// when every role query failed.
func (s *Service) SearchExecutivesMulti(ctx context.Context, company string, roles []string) Result {
	if len(roles) == 0 {
		return Result{}
	}

	perRole := make([][]Hit, len(roles))
	failed := make([]bool, len(roles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(executiveConcurrency)
	for i, role := range roles {
		g.Go(func() error {
			query := Query(company, role+" executive name")
			hits, err := s.fetch(gctx, query, s.executiveResults)
			if err != nil {
				zap.L().Warn("search: executive query failed",
					zap.String("provider", s.provider.Name()),
					zap.String("role", role),
					zap.Error(err),
				)
				failed[i] = true
				return nil
			}
			perRole[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	allFailed := true
	seen := make(map[string]bool)
	var merged []Hit
	for i, hits := range perRole {
		if !failed[i] {
			allFailed = false
		}
		for _, h := range hits {
			key := strings.TrimSuffix(h.URL, "/")
			if key != "" && seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, h)
		}
	}
	if allFailed {
		return Result{Failed: true}
	}
	return Result{Text: Format(merged), Citations: Citations(merged)}
}

func (s *Service) fetch(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	if s.cache != nil {
		if hits, ok := s.cache.Get(ctx, s.provider.Name(), query, maxResults); ok {
			return hits, nil
		}
	}

	hits, err := resilience.Call(ctx, s.breaker, s.retry, func(ctx context.Context) ([]Hit, error) {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		return s.provider.Search(callCtx, query, maxResults)
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, s.provider.Name(), query, maxResults, hits)
	}
	return hits, nil
}

// Format renders hits as the context block prepended to prompts. No hits
// render as "".
func Format(hits []Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("=== RECENT WEB SEARCH RESULTS ===\n\n")
	for i, h := range hits {
		title := h.Title
		if title == "" {
			title = "No title"
		}
		content := h.Content
		if content == "" {
			content = "No content available"
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, title)
		fmt.Fprintf(&b, "   URL: %s\n", h.URL)
		fmt.Fprintf(&b, "   Relevance: %.2f\n", h.Score)
		fmt.Fprintf(&b, "   Content: %s\n\n", content)
	}
	b.WriteString("=== END OF WEB SEARCH RESULTS ===\n")
	return b.String()
}

// Citations converts hits to citations, clamping scores into [0,1].
func Citations(hits []Hit) []model.Citation {
	out := make([]model.Citation, 0, len(hits))
	for _, h := range hits {
		score := h.Score
		switch {
		case score < 0:
			score = 0
		case score > 1:
			score = 1
		}
		out = append(out, model.Citation{Title: h.Title, URL: h.URL, RelevanceScore: score})
	}
	return out
}

// rankScore gives providers without a relevance score a descending score
// by rank: (n-i)/n.
func rankScore(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n-i) / float64(n)
}
