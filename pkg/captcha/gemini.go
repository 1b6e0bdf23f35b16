package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const captchaPrompt = `Analyze this CAPTCHA image and extract ONLY the alphanumeric characters.
The text is typically 4-6 characters long and may include both letters and numbers.
Return ONLY the characters with no additional text, spaces, or punctuation.
If the text is unclear, make your best guess.`

// GeminiSolver solves CAPTCHAs with the Google Gemini API.
type GeminiSolver struct {
	config     Config
	httpClient *http.Client
}

// NewGeminiSolver creates a new Gemini solver.
func NewGeminiSolver(config Config) *GeminiSolver {
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.Timeout == 0 {
		config.Timeout = 60
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 256
	}

	return &GeminiSolver{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}
}

// Gemini API types
type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlobPart `json:"inline_data,omitempty"`
}

type geminiBlobPart struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Name returns the solver name.
func (s *GeminiSolver) Name() string {
	return "gemini"
}

// Solve sends the CAPTCHA image to Gemini and returns the cleaned text.
func (s *GeminiSolver) Solve(ctx context.Context, image []byte) (string, error) {
	if s.config.APIKey == "" {
		return "", fmt.Errorf("gemini API key not configured")
	}

	response, err := s.generateContent(ctx, captchaPrompt, image)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := cleanText(response)
	if text == "" {
		return "", fmt.Errorf("empty response from gemini")
	}
	return text, nil
}

// generateContent makes a request to the Gemini API with an inline image.
func (s *GeminiSolver) generateContent(ctx context.Context, prompt string, image []byte) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{
				Role: "user",
				Parts: []geminiPart{
					{Text: prompt},
					{InlineData: &geminiBlobPart{
						MimeType: "image/png",
						Data:     base64.StdEncoding.EncodeToString(image),
					}},
				},
			},
		},
		GenerationConfig: geminiGenConfig{
			Temperature:     s.config.Temperature,
			MaxOutputTokens: s.config.MaxTokens,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		s.config.BaseURL, s.config.Model, s.config.APIKey)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if geminiResp.Error != nil {
		return "", fmt.Errorf("gemini error: %s", geminiResp.Error.Message)
	}

	if len(geminiResp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	var textContent string
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		if part.Text != "" {
			textContent += part.Text
		}
	}

	if textContent == "" {
		return "", fmt.Errorf("no text content in response")
	}

	return textContent, nil
}
