package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Backend is a single language-model provider. Implementations issue one
// chat completion per call and perform no retries.
type Backend interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	Name() string
	Model() string
}

// BackendConfig holds settings shared by every backend.
type BackendConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func (c *BackendConfig) applyDefaults(model, baseURL string) {
	if c.Model == "" {
		c.Model = model
	}
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1500
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// statusError turns a non-200 response into an error. 401 and 403 wrap
// ErrUnauthorized.
func statusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s returned status %d: %w", provider, resp.StatusCode, ErrUnauthorized)
	}
	return fmt.Errorf("%s returned status %d: %s", provider, resp.StatusCode, string(body))
}
