package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/noahsdonaldson/prospector/internal/resilience"
	"github.com/noahsdonaldson/prospector/pkg/jina"
	"github.com/noahsdonaldson/prospector/pkg/perplexity"
	"github.com/noahsdonaldson/prospector/pkg/tavily"
)

// Tavily adapts the Tavily API. It uses advanced depth and Tavily's own
// relevance scores.
type Tavily struct {
	api tavily.Client
}

// NewTavily wraps a Tavily client.
func NewTavily(api tavily.Client) *Tavily { return &Tavily{api: api} }

// Name implements Provider.
func (t *Tavily) Name() string { return "tavily" }

// Search implements Provider.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	resp, err := t.api.Search(ctx, tavily.SearchRequest{
		Query:       query,
		SearchDepth: "advanced",
		MaxResults:  maxResults,
	})
	if err != nil {
		var apiErr *tavily.APIError
		if errors.As(err, &apiErr) {
			return nil, resilience.Classify(err, apiErr.StatusCode)
		}
		return nil, eris.Wrap(err, "search: tavily")
	}
	hits := make([]Hit, 0, len(resp.Results))
	for _, r := range resp.Results {
		hits = append(hits, Hit{Title: r.Title, URL: r.URL, Content: r.Content, Score: r.Score})
	}
	return hits, nil
}

// Jina adapts the Jina search API. Jina returns rank order only.
type Jina struct {
	api jina.Client
}

// NewJina wraps a Jina client.
func NewJina(api jina.Client) *Jina { return &Jina{api: api} }

// Name implements Provider.
func (j *Jina) Name() string { return "jina" }

// Search implements Provider.
func (j *Jina) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	resp, err := j.api.Search(ctx, query)
	if err != nil {
		var apiErr *jina.APIError
		if errors.As(err, &apiErr) {
			return nil, resilience.Classify(err, apiErr.StatusCode)
		}
		return nil, eris.Wrap(err, "search: jina")
	}

	data := resp.Data
	if maxResults > 0 && len(data) > maxResults {
		data = data[:maxResults]
	}
	hits := make([]Hit, 0, len(data))
	for i, r := range data {
		content := r.Content
		if content == "" {
			content = r.Description
		}
		hits = append(hits, Hit{Title: r.Title, URL: r.URL, Content: content, Score: rankScore(i, len(data))})
	}
	return hits, nil
}

// Perplexity adapts the sonar chat API. The answer becomes the content of
// the top hit and the grounding sources follow in rank order.
type Perplexity struct {
	api perplexity.Client
}

// NewPerplexity wraps a Perplexity client.
func NewPerplexity(api perplexity.Client) *Perplexity { return &Perplexity{api: api} }

// Name implements Provider.
func (p *Perplexity) Name() string { return "perplexity" }

// Search implements Provider.
func (p *Perplexity) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	resp, err := p.api.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: "Answer with concise, factual findings from recent sources. Name people and dates where known."},
			{Role: "user", Content: query},
		},
		SearchRecencyFilter: "year",
	})
	if err != nil {
		var apiErr *perplexity.APIError
		if errors.As(err, &apiErr) {
			return nil, resilience.Classify(err, apiErr.StatusCode)
		}
		return nil, eris.Wrap(err, "search: perplexity")
	}

	sources := resp.Sources()
	if maxResults > 0 && len(sources) > maxResults {
		sources = sources[:maxResults]
	}
	answer := resp.Content()
	hits := make([]Hit, 0, len(sources))
	for i, s := range sources {
		h := Hit{Title: s.Title, URL: s.URL, Score: rankScore(i, len(sources))}
		if s.Date != "" {
			h.Content = fmt.Sprintf("Published %s", s.Date)
		}
		if i == 0 {
			h.Content = answer
		}
		hits = append(hits, h)
	}
	if len(hits) == 0 && answer != "" {
		hits = append(hits, Hit{Title: "Perplexity answer", Content: answer, Score: 1})
	}
	return hits, nil
}
