// Package llm generates structured conversation starters from a school
// context using an interchangeable chat-completion backend.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scrypster/schoolintel/internal/config"
	"github.com/scrypster/schoolintel/pkg/types"
)

// Generator produces conversation starters. Every failure wraps
// ErrGenerationFailed; implementations perform no retries.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (*types.GenerationResult, error)
	GenerateAsync(ctx context.Context, p Prompt) <-chan GenerateOutcome
	Summarize(ctx context.Context, schoolContext string) (string, error)
}

// GenerateOutcome is delivered once on the channel returned by GenerateAsync.
type GenerateOutcome struct {
	Result *types.GenerationResult
	Err    error
}

// Client is the Generator used in production. Construction is cheap; the
// backend is created and checked on Connect or on the first call.
type Client struct {
	cfg    config.LLMConfig
	logger *zap.Logger

	breaker *CircuitBreaker
	limiter *rate.Limiter

	mu         sync.Mutex
	backend    Backend
	newBackend func(config.LLMConfig) (Backend, error)
}

// NewClient creates a client for the provider selected in cfg. No network
// or credential check happens here.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:        cfg,
		logger:     logger.Named("llm"),
		newBackend: NewBackend,
	}
	c.breaker = NewCircuitBreaker(CircuitBreakerConfig{
		Name:        cfg.Provider,
		MaxFailures: cfg.BreakerMaxFailures,
		Timeout:     time.Duration(cfg.BreakerTimeoutSeconds) * time.Second,
	}, c.logger)
	if cfg.RateLimitRPM > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPM)/60.0), burst)
	}
	return c
}

// NewClientWithBackend creates a client around an already constructed backend.
func NewClientWithBackend(b Backend, cfg config.LLMConfig, logger *zap.Logger) *Client {
	c := NewClient(cfg, logger)
	c.backend = b
	return c
}

// Connect builds the backend and checks that credentials are configured.
// Calling it is optional; Generate connects on first use.
func (c *Client) Connect() error {
	_, err := c.ensureBackend()
	return err
}

func (c *Client) ensureBackend() (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		return c.backend, nil
	}
	if err := c.cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	b, err := c.newBackend(c.cfg)
	if err != nil {
		return nil, err
	}
	c.backend = b
	c.logger.Info("model backend ready",
		zap.String("backend", b.Name()),
		zap.String("model", b.Model()))
	return b, nil
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}

func (c *Client) complete(ctx context.Context, p Prompt) (string, Backend, error) {
	b, err := c.ensureBackend()
	if err != nil {
		return "", nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", b, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	out, err := c.breaker.Execute(ctx, func(ctx context.Context) (string, error) {
		return b.Complete(ctx, p)
	})
	return out, b, err
}

// Generate issues one completion and parses it. Items failing validation
// are dropped and logged.
func (c *Client) Generate(ctx context.Context, p Prompt) (*types.GenerationResult, error) {
	id := uuid.NewString()
	start := time.Now()
	log := c.logger.With(zap.String("generation_id", id))

	raw, b, err := c.complete(ctx, p)
	if b != nil {
		log = log.With(zap.String("backend", b.Name()), zap.String("model", b.Model()))
	}
	if err != nil {
		log.Warn("model call failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	result, skipped, err := ParseStarterResponse(raw)
	if err != nil {
		log.Warn("unusable model response", zap.Error(err), zap.Int("response_bytes", len(raw)))
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	for _, s := range skipped {
		log.Debug("dropped invalid starter", zap.Int("index", s.Index), zap.String("reason", s.Reason))
	}

	log.Info("generated conversation starters",
		zap.Int("items", len(result.Items)),
		zap.Int("dropped", len(skipped)),
		zap.String("priority", string(result.Priority)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// GenerateAsync runs Generate in a goroutine. The returned channel receives
// exactly one outcome and is then closed.
func (c *Client) GenerateAsync(ctx context.Context, p Prompt) <-chan GenerateOutcome {
	ch := make(chan GenerateOutcome, 1)
	go func() {
		defer close(ch)
		res, err := c.Generate(ctx, p)
		ch <- GenerateOutcome{Result: res, Err: err}
	}()
	return ch
}

// Summarize returns a short free-text briefing for a school context.
func (c *Client) Summarize(ctx context.Context, schoolContext string) (string, error) {
	raw, _, err := c.complete(ctx, RenderSummaryPrompt(schoolContext))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return strings.TrimSpace(raw), nil
}

var _ Generator = (*Client)(nil)
