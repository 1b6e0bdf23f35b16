package captcha

import (
	"context"
	"regexp"
)

// Solver decodes the text of a CAPTCHA image. Implementations delegate to an
// external vision model; network or service errors come back as plain errors
// and the orchestrator decides whether to retry.
type Solver interface {
	// Solve returns the decoded text for a PNG CAPTCHA image.
	Solve(ctx context.Context, image []byte) (string, error)

	// Name returns the solver name.
	Name() string
}

// Config holds solver configuration.
type Config struct {
	Model       string  `json:"model,omitempty"`
	APIKey      string  `json:"-"` // Don't serialize
	BaseURL     string  `json:"base_url,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Timeout     int     `json:"timeout_seconds,omitempty"`
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// cleanText strips everything but alphanumerics from a model response. The
// portal's CAPTCHAs are 4-6 alphanumeric characters, anything else is noise
// the model added around them.
func cleanText(s string) string {
	return nonAlnum.ReplaceAllString(s, "")
}
