// Package gemini wraps the Google Gemini generative API.
package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

const defaultModel = "gemini-1.5-pro"

// Client generates content with a Gemini model.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Close() error
}

// GenerateRequest is a single-prompt generation request.
type GenerateRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int32
	Temperature *float32
	// JSON asks the model for an application/json response.
	JSON bool
}

// GenerateResponse is the concatenated text of the first candidate.
type GenerateResponse struct {
	Model        string
	Text         string
	InputTokens  int64
	OutputTokens int64
}

type sdkClient struct {
	client *genai.Client
	model  string
}

// NewClient creates a Gemini client. model may be empty to use the default.
func NewClient(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (Client, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: api key is required")
	}
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &sdkClient{client: client, model: model}, nil
}

func (c *sdkClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	name := req.Model
	if name == "" {
		name = c.model
	}
	m := c.client.GenerativeModel(name)
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(req.MaxTokens)
	}
	if req.Temperature != nil {
		m.SetTemperature(*req.Temperature)
	}
	if req.JSON {
		m.ResponseMIMEType = "application/json"
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: generate content")
	}

	text, err := extractText(resp)
	if err != nil {
		return nil, err
	}
	out := &GenerateResponse{Model: name, Text: text}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func (c *sdkClient) Close() error {
	return c.client.Close()
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", eris.New("gemini: no candidates in response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", eris.New("gemini: no content in response")
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", eris.New("gemini: no text parts in response")
	}
	return b.String(), nil
}

var grpcToHTTP = map[codes.Code]int{
	codes.Unauthenticated:   http.StatusUnauthorized,
	codes.PermissionDenied:  http.StatusForbidden,
	codes.InvalidArgument:   http.StatusBadRequest,
	codes.NotFound:          http.StatusNotFound,
	codes.ResourceExhausted: http.StatusTooManyRequests,
	codes.Unavailable:       http.StatusServiceUnavailable,
	codes.Internal:          http.StatusInternalServerError,
	codes.DeadlineExceeded:  http.StatusGatewayTimeout,
}

// StatusCode maps an API error to its HTTP status, or 0 for non-API errors.
func StatusCode(err error) int {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if code := apiErr.HTTPCode(); code > 0 {
			return code
		}
		if st := apiErr.GRPCStatus(); st != nil {
			if code, ok := grpcToHTTP[st.Code()]; ok {
				return code
			}
			return http.StatusInternalServerError
		}
	}
	return 0
}
