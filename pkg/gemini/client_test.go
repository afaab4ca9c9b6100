package gemini

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestExtractText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text(`{"a":`),
				genai.Text(`1}`),
			}},
		}},
	}
	text, err := extractText(resp)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)
}

func TestExtractText_Empty(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		want string
	}{
		{"nil", nil, "no candidates"},
		{"no candidates", &genai.GenerateContentResponse{}, "no candidates"},
		{"no content", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}, "no content"},
		{
			"no text parts",
			&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Blob{MIMEType: "image/png"}}},
			}}},
			"no text parts",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := extractText(tt.resp)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, StatusCode(&googleapi.Error{Code: http.StatusForbidden}))
	assert.Equal(t, 0, StatusCode(io.EOF))
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")
}
