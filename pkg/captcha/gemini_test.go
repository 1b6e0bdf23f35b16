package captcha

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSolver(t *testing.T, handler http.HandlerFunc) *GeminiSolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGeminiSolver(Config{APIKey: "test-key", BaseURL: srv.URL})
}

func TestSolveReturnsCleanedText(t *testing.T) {
	solver := newTestSolver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "generateContent")
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		// The request must carry the image inline.
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req geminiRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		assert.NotNil(t, req.Contents[0].Parts[1].InlineData)
		assert.Equal(t, "image/png", req.Contents[0].Parts[1].InlineData.MimeType)

		resp := geminiResponse{Candidates: []geminiCandidate{{
			Content: geminiContent{Parts: []geminiPart{{Text: " AB12cd \n"}}},
		}}}
		json.NewEncoder(w).Encode(resp)
	})

	text, err := solver.Solve(context.Background(), []byte("fake-png"))
	require.NoError(t, err)
	assert.Equal(t, "AB12cd", text)
}

func TestSolveSurfacesAPIError(t *testing.T) {
	solver := newTestSolver(t, func(w http.ResponseWriter, r *http.Request) {
		resp := geminiResponse{Error: &geminiError{Code: 429, Message: "quota exceeded"}}
		json.NewEncoder(w).Encode(resp)
	})

	_, err := solver.Solve(context.Background(), []byte("fake-png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestSolveFailsOnEmptyCandidates(t *testing.T) {
	solver := newTestSolver(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{})
	})

	_, err := solver.Solve(context.Background(), []byte("fake-png"))
	assert.Error(t, err)
}

func TestSolveFailsWithoutAPIKey(t *testing.T) {
	solver := NewGeminiSolver(Config{})
	_, err := solver.Solve(context.Background(), []byte("fake-png"))
	assert.Error(t, err)
}

func TestSolveRejectsPunctuationOnlyResponse(t *testing.T) {
	solver := newTestSolver(t, func(w http.ResponseWriter, r *http.Request) {
		resp := geminiResponse{Candidates: []geminiCandidate{{
			Content: geminiContent{Parts: []geminiPart{{Text: "???"}}},
		}}}
		json.NewEncoder(w).Encode(resp)
	})

	_, err := solver.Solve(context.Background(), []byte("fake-png"))
	assert.Error(t, err)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "AB12cd", cleanText("AB-12 cd!\n"))
	assert.Equal(t, "", cleanText("  \n"))
}
