// Package llm provides a backend-neutral model client. Callers select a
// backend by name and never see provider response shapes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

const (
	// DefaultMaxTokens bounds response length when a request sets none.
	DefaultMaxTokens = 4000
	// DefaultTimeout bounds a single call.
	DefaultTimeout = 300 * time.Second
)

// Client generates text from a prompt.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	// Provider returns the backend name.
	Provider() string
	// Model returns the model identifier used for requests.
	Model() string
}

// Request is a single-turn generation request. Schema is an optional JSON
// schema hint for the response shape.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature *float64
	Schema      string
}

// Usage counts tokens for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Response is the text a model returned.
type Response struct {
	Text  string
	Usage Usage
	Model string
}

// AuthenticationError means no credential is configured or the backend
// rejected it.
type AuthenticationError struct {
	Provider string
	Reason   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("llm: %s authentication failed: %s", e.Provider, e.Reason)
}

// UpstreamError is a non-success response from the backend. StatusCode is 0
// when the request never produced an HTTP response.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("llm: %s request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("llm: %s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// TimeoutError means a call exceeded the client's bounded wait.
type TimeoutError struct {
	Provider string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("llm: %s call timed out after %s", e.Provider, e.After)
}

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// invoke runs fn under the per-call timeout and maps its failure onto the
// package's error types. statusOf extracts an HTTP status from a backend
// error, returning 0 when there is none.
func invoke(ctx context.Context, provider string, timeout time.Duration, statusOf func(error) int, fn func(context.Context) (*Response, error)) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(err, "llm: %s call not started", provider)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := fn(callCtx)
	if err == nil {
		return resp, nil
	}

	if ctx.Err() != nil {
		return nil, eris.Wrapf(ctx.Err(), "llm: %s call canceled", provider)
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{Provider: provider, After: timeout}
	}

	code := statusOf(err)
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return nil, &AuthenticationError{Provider: provider, Reason: err.Error()}
	}
	return nil, &UpstreamError{Provider: provider, StatusCode: code, Err: err}
}

func maxTokens(n int) int {
	if n <= 0 {
		return DefaultMaxTokens
	}
	return n
}

// schemaInstruction appends a JSON schema hint to a prompt for backends
// without native structured output.
func schemaInstruction(prompt, schema string) string {
	if schema == "" {
		return prompt
	}
	return prompt + "\n\nRespond with a single JSON object that conforms to this JSON schema. Do not wrap it in prose.\n" + schema
}
