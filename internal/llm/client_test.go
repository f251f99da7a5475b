package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/scrypster/schoolintel/internal/config"
	"github.com/scrypster/schoolintel/pkg/types"
)

func errorsIs(err, target error) bool { return errors.Is(err, target) }

type fakeBackend struct {
	reply string
	err   error
	calls atomic.Int32
	last  Prompt
}

func (f *fakeBackend) Complete(_ context.Context, p Prompt) (string, error) {
	f.calls.Add(1)
	f.last = p
	return f.reply, f.err
}
func (f *fakeBackend) Name() string  { return "fake" }
func (f *fakeBackend) Model() string { return "fake-1" }

func testLLMConfig() config.LLMConfig {
	return config.Default().LLM
}

func TestClient_Generate(t *testing.T) {
	fb := &fakeBackend{reply: threeStarters}
	c := NewClientWithBackend(fb, testLLMConfig(), zaptest.NewLogger(t))

	p, err := RenderStarterPrompt("ctx", 3)
	require.NoError(t, err)
	res, err := c.Generate(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
	assert.Equal(t, types.PriorityHigh, res.Priority)
	assert.Equal(t, int32(1), fb.calls.Load())
	assert.Equal(t, p, fb.last)
}

func TestClient_GenerateFailures(t *testing.T) {
	tests := []struct {
		name  string
		fb    *fakeBackend
		cause error
	}{
		{"backend error", &fakeBackend{err: ErrUnauthorized}, ErrUnauthorized},
		{"malformed output", &fakeBackend{reply: "sorry, no"}, ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClientWithBackend(tt.fb, testLLMConfig(), zaptest.NewLogger(t))
			res, err := c.Generate(context.Background(), Prompt{Human: "x"})
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrGenerationFailed)
			assert.ErrorIs(t, err, tt.cause)
			assert.Equal(t, int32(1), tt.fb.calls.Load(), "no retries")
		})
	}
}

func TestClient_BreakerOpens(t *testing.T) {
	cfg := testLLMConfig()
	cfg.BreakerMaxFailures = 2
	fb := &fakeBackend{err: errors.New("503")}
	c := NewClientWithBackend(fb, cfg, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		_, err := c.Generate(context.Background(), Prompt{})
		require.Error(t, err)
	}
	_, err := c.Generate(context.Background(), Prompt{})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), fb.calls.Load())
	assert.Equal(t, "open", c.BreakerState())
}

func TestClient_GenerateAsync(t *testing.T) {
	fb := &fakeBackend{reply: threeStarters}
	c := NewClientWithBackend(fb, testLLMConfig(), zaptest.NewLogger(t))

	ch := c.GenerateAsync(context.Background(), Prompt{})
	out, ok := <-ch
	require.True(t, ok)
	require.NoError(t, out.Err)
	assert.Len(t, out.Result.Items, 3)

	_, ok = <-ch
	assert.False(t, ok, "channel closed after one outcome")
}

func TestClient_Summarize(t *testing.T) {
	fb := &fakeBackend{reply: "  A nursery school. Led by Ms Holness.\n"}
	c := NewClientWithBackend(fb, testLLMConfig(), zaptest.NewLogger(t))

	s, err := c.Summarize(context.Background(), "ctx")
	require.NoError(t, err)
	assert.Equal(t, "A nursery school. Led by Ms Holness.", s)
	assert.Equal(t, SummarySystemPrompt, fb.last.System)
}

func TestClient_ConnectRequiresKey(t *testing.T) {
	cfg := testLLMConfig()
	cfg.AnthropicAPIKey = ""
	c := NewClient(cfg, zaptest.NewLogger(t))

	err := c.Connect()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = c.Generate(context.Background(), Prompt{})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestClient_LazyConnectOverHTTP(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"conversation_starters\":[{\"topic\":\"t\",\"detail\":\"d\"}],\"sales_priority\":\"LOW\"}"}}]}`))
	}))
	defer srv.Close()

	cfg := testLLMConfig()
	cfg.Provider = "openai"
	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIBaseURL = srv.URL
	c := NewClient(cfg, zaptest.NewLogger(t))
	assert.Equal(t, int32(0), hits.Load(), "construction makes no calls")

	res, err := c.Generate(context.Background(), Prompt{Human: "JSON please"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, types.PriorityLow, res.Priority)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_RateLimitCancelled(t *testing.T) {
	cfg := testLLMConfig()
	cfg.RateLimitRPM = 1
	cfg.RateLimitBurst = 1
	fb := &fakeBackend{reply: threeStarters}
	c := NewClientWithBackend(fb, cfg, zaptest.NewLogger(t))

	_, err := c.Generate(context.Background(), Prompt{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Generate(ctx, Prompt{})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, int32(1), fb.calls.Load())
}

func TestNewBackend(t *testing.T) {
	cfg := testLLMConfig()
	b, err := NewBackend(cfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", b.Name())

	cfg.Provider = "openai"
	b, err = NewBackend(cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai", b.Name())
	assert.Equal(t, "gpt-4o-mini", b.Model())

	cfg.Provider = "ollama"
	_, err = NewBackend(cfg)
	assert.Error(t, err)
}
