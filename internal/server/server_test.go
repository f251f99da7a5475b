package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/scrypster/schoolintel/internal/cache"
	"github.com/scrypster/schoolintel/internal/config"
	"github.com/scrypster/schoolintel/internal/intel"
	"github.com/scrypster/schoolintel/internal/llm"
	"github.com/scrypster/schoolintel/internal/metrics"
	"github.com/scrypster/schoolintel/internal/school"
	"github.com/scrypster/schoolintel/pkg/types"
)

type memSource []*types.School

func (m memSource) Name() string { return "test" }
func (m memSource) Load(context.Context) ([]*types.School, int, error) {
	out := make([]*types.School, len(m))
	copy(out, m)
	return out, 0, nil
}

type stubGenerator struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (g *stubGenerator) Generate(context.Context, llm.Prompt) (*types.GenerationResult, error) {
	g.calls.Add(1)
	if g.fail.Load() {
		return nil, fmt.Errorf("%w: backend down", llm.ErrGenerationFailed)
	}
	return &types.GenerationResult{
		Items:    []types.StarterItem{{Topic: "Agency spend", Detail: "You spend £102 per pupil.", RelevanceScore: 0.9}},
		Summary:  "Nursery school.",
		Priority: types.PriorityHigh,
	}, nil
}

func (g *stubGenerator) GenerateAsync(ctx context.Context, p llm.Prompt) <-chan llm.GenerateOutcome {
	ch := make(chan llm.GenerateOutcome, 1)
	res, err := g.Generate(ctx, p)
	ch <- llm.GenerateOutcome{Result: res, Err: err}
	close(ch)
	return ch
}

func (g *stubGenerator) Summarize(context.Context, string) (string, error) { return "summary", nil }

func newTestServer(t *testing.T) (*httptest.Server, *stubGenerator) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	gen := &stubGenerator{}

	cfg := config.Default()
	dir := school.NewDirectory(memSource{
		{URN: "100005", Name: "Thomas Coram Centre", Financial: &types.FinancialData{AgencySupplyCosts: "£102 per pupil"}},
		{URN: "100008", Name: "Argyle Primary School"},
	}, logger)
	svc := intel.NewService(intel.Deps{
		Directory: dir,
		Generator: gen,
		Cache:     cache.New(cache.NewMemoryStore(), 24*time.Hour, true),
		Logger:    logger,
		Metrics:   metrics.New(reg),
		Features:  cfg.Features,
	})

	srv := httptest.NewServer(New(svc, cfg.Server, reg, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, gen
}

func do(t *testing.T, method, url string, out interface{}) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	_ = do(t, http.MethodPost, srv.URL+"/api/schools/Thomas%20Coram%20Centre/starters", nil)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListAndGetSchools(t *testing.T) {
	srv, _ := newTestServer(t)

	var all []SchoolView
	resp := do(t, http.MethodGet, srv.URL+"/api/schools", &all)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, all, 2)

	var found []SchoolView
	_ = do(t, http.MethodGet, srv.URL+"/api/schools?q=coram", &found)
	require.Len(t, found, 1)
	assert.Equal(t, types.PriorityHigh, found[0].SalesPriority)

	var one SchoolView
	resp = do(t, http.MethodGet, srv.URL+"/api/schools/"+url.PathEscape("Argyle Primary School"), &one)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "100008", one.URN)

	var e ErrorResponse
	resp = do(t, http.MethodGet, srv.URL+"/api/schools/Nowhere", &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", e.Code)
}

func TestListSchools_AgencyFilter(t *testing.T) {
	srv, _ := newTestServer(t)

	var spenders []SchoolView
	resp := do(t, http.MethodGet, srv.URL+"/api/schools?agency=true", &spenders)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, spenders, 1)
	assert.Equal(t, "100005", spenders[0].URN)

	var none []SchoolView
	_ = do(t, http.MethodGet, srv.URL+"/api/schools?agency=true&q=argyle", &none)
	assert.Empty(t, none)

	var e ErrorResponse
	resp = do(t, http.MethodGet, srv.URL+"/api/schools?agency=maybe", &e)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BAD_REQUEST", e.Code)
}

func TestStarters_CachedSecondCall(t *testing.T) {
	srv, gen := newTestServer(t)
	target := srv.URL + "/api/schools/" + url.PathEscape("Thomas Coram Centre") + "/starters?count=3"

	var first StartersResponse
	resp := do(t, http.MethodPost, target, &first)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, intel.StateGenerated, first.State)
	assert.False(t, first.Cached)
	assert.Len(t, first.Starters, 1)
	assert.Equal(t, types.PriorityHigh, first.Priority)

	var second StartersResponse
	_ = do(t, http.MethodPost, target, &second)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Starters, second.Starters)
	assert.Equal(t, int32(1), gen.calls.Load())

	var forced StartersResponse
	_ = do(t, http.MethodPost, target+"&refresh=true", &forced)
	assert.Equal(t, intel.StateGenerated, forced.State)
	assert.Equal(t, int32(2), gen.calls.Load())
}

func TestStarters_DegradedIsStill200(t *testing.T) {
	srv, gen := newTestServer(t)
	gen.fail.Store(true)

	var got StartersResponse
	resp := do(t, http.MethodPost, srv.URL+"/api/schools/Argyle%20Primary%20School/starters", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, got.GenerationFailed)
	assert.Equal(t, intel.StateDegraded, got.State)
	assert.Empty(t, got.Starters)
	assert.NotNil(t, got.Starters)
	assert.Equal(t, "100008", got.School.URN)
	assert.NotEmpty(t, got.Error)
}

func TestStarters_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/schools/Argyle%20Primary%20School/starters?count=many", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/schools/Nowhere/starters", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPriorityAndStats(t *testing.T) {
	srv, _ := newTestServer(t)

	var top []SchoolView
	resp := do(t, http.MethodGet, srv.URL+"/api/priority?limit=1", &top)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, top, 1)
	assert.Equal(t, "Thomas Coram Centre", top[0].Name)

	resp = do(t, http.MethodGet, srv.URL+"/api/priority?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var st intel.Stats
	_ = do(t, http.MethodGet, srv.URL+"/api/stats", &st)
	assert.Equal(t, 2, st.Schools.Total)
	assert.True(t, st.CacheEnabled)
}

func TestClearCache(t *testing.T) {
	srv, _ := newTestServer(t)
	_ = do(t, http.MethodPost, srv.URL+"/api/schools/Thomas%20Coram%20Centre/starters", nil)
	_ = do(t, http.MethodPost, srv.URL+"/api/schools/Argyle%20Primary%20School/starters", nil)

	var removed map[string]int
	_ = do(t, http.MethodDelete, srv.URL+"/api/cache/Thomas%20Coram%20Centre", &removed)
	assert.Equal(t, 1, removed["removed"])

	_ = do(t, http.MethodDelete, srv.URL+"/api/cache/Nowhere", &removed)
	assert.Equal(t, 0, removed["removed"])

	_ = do(t, http.MethodDelete, srv.URL+"/api/cache", &removed)
	assert.Equal(t, 1, removed["removed"])
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
		codes[i] = rec.Code
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	cfg := config.Default().Server
	cfg.Port = 0
	s := New(nil, cfg, prometheus.NewRegistry(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	addr, done, err := s.Start(ctx)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.False(t, errors.Is(err, http.ErrServerClosed))
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
