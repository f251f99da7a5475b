// Package intel coordinates school lookup, the result cache and the model
// client. It is the only layer that turns failures into degraded results;
// nothing below it knows about caching.
package intel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/schoolintel/internal/cache"
	"github.com/scrypster/schoolintel/internal/config"
	"github.com/scrypster/schoolintel/internal/llm"
	"github.com/scrypster/schoolintel/internal/metrics"
	"github.com/scrypster/schoolintel/internal/school"
	"github.com/scrypster/schoolintel/pkg/types"
)

// Directory is the read side of the school record set.
type Directory interface {
	All(ctx context.Context) ([]*types.School, error)
	FindByName(ctx context.Context, name string) (*types.School, error)
	Search(ctx context.Context, query string) ([]*types.School, error)
	ByPriority(ctx context.Context, limit int) ([]*types.School, error)
	WithAgencySpend(ctx context.Context) ([]*types.School, error)
	Statistics(ctx context.Context) (school.Stats, error)
	Refresh(ctx context.Context) error
}

// State is the terminal state of one intelligence request.
type State string

// Request states. A request for an unknown school has no Intelligence.
const (
	StateFeatureOff State = "feature_off"
	StateCacheHit   State = "cache_hit"
	StateGenerated  State = "generated"
	StateDegraded   State = "degraded"
)

// Intelligence is a school plus whatever generated content is available.
// Result is nil when State is StateFeatureOff or StateDegraded.
type Intelligence struct {
	School *types.School           `json:"school"`
	Result *types.GenerationResult `json:"result,omitempty"`
	State  State                   `json:"state"`
	Cause  error                   `json:"-"`
}

// GenerationFailed reports whether generation was attempted and failed.
func (i *Intelligence) GenerationFailed() bool {
	return i.State == StateDegraded
}

// Deps are the collaborators of a Service.
type Deps struct {
	Directory Directory
	Generator llm.Generator
	Cache     *cache.ResultCache
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Features  config.FeaturesConfig
}

// Service answers intelligence requests. Build it once at startup and share it.
//
// Two concurrent cache misses for the same school both call the model and the
// later cache write wins. There is no per-school locking; the cost is a
// redundant generation, not a wrong result.
type Service struct {
	dir      Directory
	gen      llm.Generator
	cache    *cache.ResultCache
	logger   *zap.Logger
	metrics  *metrics.Metrics
	features config.FeaturesConfig
	now      func() time.Time
}

// NewService creates a Service. A nil Cache behaves as a disabled cache.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Cache == nil {
		d.Cache = cache.New(nil, 0, false)
	}
	return &Service{
		dir:      d.Directory,
		gen:      d.Generator,
		cache:    d.Cache,
		logger:   d.Logger.Named("intel"),
		metrics:  d.Metrics,
		features: d.Features,
		now:      time.Now,
	}
}

// ClampCount applies the configured starter-count policy. Values below one
// select the default.
func (s *Service) ClampCount(n int) int {
	f := s.features
	switch {
	case n < 1:
		n = f.DefaultStarters
	case n < f.MinStarters:
		n = f.MinStarters
	case f.MaxStarters > 0 && n > f.MaxStarters:
		n = f.MaxStarters
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (s *Service) lookup(ctx context.Context, name string) (*types.School, bool) {
	sch, err := s.dir.FindByName(ctx, name)
	if err == nil {
		return sch, true
	}
	if !errors.Is(err, school.ErrNotFound) {
		s.logger.Error("school lookup failed", zap.String("name", name), zap.Error(err))
	}
	s.metrics.Request(metrics.OutcomeNotFound)
	return nil, false
}

// GetIntelligence resolves name and attaches conversation starters, from the
// cache unless forceRefresh is set. ok is false when no school matches.
// Generation failures never surface as errors: the school is returned with
// StateDegraded and the cause attached.
func (s *Service) GetIntelligence(ctx context.Context, name string, forceRefresh bool, count int) (*Intelligence, bool) {
	sch, ok := s.lookup(ctx, name)
	if !ok {
		return nil, false
	}
	return s.resolve(ctx, sch, forceRefresh, count, s.gen.Generate), true
}

// AsyncIntelligence is delivered by GetIntelligenceAsync.
type AsyncIntelligence struct {
	Intelligence *Intelligence
	Found        bool
}

// GetIntelligenceAsync runs the same steps as GetIntelligence in the
// background. If ctx ends while the model call is pending the request
// degrades immediately and the late result is discarded without being cached.
func (s *Service) GetIntelligenceAsync(ctx context.Context, name string, forceRefresh bool, count int) <-chan AsyncIntelligence {
	ch := make(chan AsyncIntelligence, 1)
	go func() {
		defer close(ch)
		sch, ok := s.lookup(ctx, name)
		if !ok {
			ch <- AsyncIntelligence{}
			return
		}
		intel := s.resolve(ctx, sch, forceRefresh, count, s.awaitGenerate)
		ch <- AsyncIntelligence{Intelligence: intel, Found: true}
	}()
	return ch
}

func (s *Service) awaitGenerate(ctx context.Context, p llm.Prompt) (*types.GenerationResult, error) {
	select {
	case out := <-s.gen.GenerateAsync(ctx, p):
		return out.Result, out.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", llm.ErrGenerationFailed, ctx.Err())
	}
}

type generateFunc func(ctx context.Context, p llm.Prompt) (*types.GenerationResult, error)

func (s *Service) resolve(ctx context.Context, sch *types.School, forceRefresh bool, count int, generate generateFunc) *Intelligence {
	out := &Intelligence{School: sch}
	log := s.logger.With(zap.String("urn", sch.URN), zap.String("school", sch.Name))

	if !s.features.ConversationStarters {
		out.State = StateFeatureOff
		s.metrics.Request(metrics.OutcomeFeatureOff)
		return out
	}

	if !forceRefresh {
		// An entry with no starters is treated as a miss.
		if res, ok := s.cache.Get(ctx, sch.URN); ok && len(res.Items) > 0 {
			out.Result = res
			out.State = StateCacheHit
			s.metrics.Request(metrics.OutcomeCacheHit)
			log.Debug("serving cached starters", zap.Int("items", len(res.Items)))
			return out
		}
	}

	count = s.ClampCount(count)
	prompt, err := llm.RenderStarterPrompt(sch.LLMContext(), count)
	if err != nil {
		return s.degrade(out, log, err, 0)
	}

	start := s.now()
	res, err := generate(ctx, prompt)
	elapsed := s.now().Sub(start).Seconds()
	if err == nil && res == nil {
		err = fmt.Errorf("%w: empty result", llm.ErrGenerationFailed)
	}
	if err != nil {
		return s.degrade(out, log, err, elapsed)
	}
	res.Normalize()

	if len(res.Items) == 0 {
		log.Warn("model returned no usable starters, not caching")
	} else if err := s.cache.Set(ctx, sch.URN, res); err != nil && !errors.Is(err, cache.ErrDisabled) {
		s.metrics.CacheWriteFailed()
		log.Warn("could not cache generated starters", zap.Error(err))
	}

	out.Result = res
	out.State = StateGenerated
	s.metrics.Request(metrics.OutcomeGenerated)
	s.metrics.Generated(elapsed, len(res.Items))
	log.Info("generated starters",
		zap.Int("requested", count),
		zap.Int("items", len(res.Items)),
		zap.Bool("forced", forceRefresh))
	return out
}

func (s *Service) degrade(out *Intelligence, log *zap.Logger, err error, elapsed float64) *Intelligence {
	out.State = StateDegraded
	out.Cause = err
	out.Result = nil
	s.metrics.Request(metrics.OutcomeDegraded)
	s.metrics.GenerationFailed(elapsed, failureCause(err))
	log.Error("starter generation failed", zap.Error(err))
	return out
}

func failureCause(err error) string {
	switch {
	case errors.Is(err, llm.ErrUnauthorized), errors.Is(err, config.ErrInvalidConfig):
		return "unauthorized"
	case errors.Is(err, llm.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, llm.ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "backend"
	}
}

// BatchResult is one entry of GetIntelligenceBatch, in input order.
type BatchResult struct {
	Name         string
	Intelligence *Intelligence
	Found        bool
}

// GetIntelligenceBatch processes names concurrently, at most
// Features.BatchConcurrency at a time. Each name gets the same
// cache-before-model treatment as GetIntelligence.
func (s *Service) GetIntelligenceBatch(ctx context.Context, names []string, forceRefresh bool, count int) []BatchResult {
	results := make([]BatchResult, len(names))

	var g errgroup.Group
	limit := s.features.BatchConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			intel, ok := s.GetIntelligence(ctx, name, forceRefresh, count)
			results[i] = BatchResult{Name: name, Intelligence: intel, Found: ok}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// FindSchool returns the school called name.
func (s *Service) FindSchool(ctx context.Context, name string) (*types.School, error) {
	return s.dir.FindByName(ctx, name)
}

// Schools returns schools matching query, or all of them for an empty query.
func (s *Service) Schools(ctx context.Context, query string) ([]*types.School, error) {
	return s.dir.Search(ctx, query)
}

// HighPriority returns up to limit schools, highest sales priority first.
func (s *Service) HighPriority(ctx context.Context, limit int) ([]*types.School, error) {
	return s.dir.ByPriority(ctx, limit)
}

// WithAgencySpend returns schools that report agency supply spend.
func (s *Service) WithAgencySpend(ctx context.Context) ([]*types.School, error) {
	return s.dir.WithAgencySpend(ctx)
}

// Stats combines record-set and cache statistics.
type Stats struct {
	Schools      school.Stats `json:"schools"`
	Cache        cache.Stats  `json:"cache"`
	CacheEnabled bool         `json:"cache_enabled"`
	CacheTTL     string       `json:"cache_ttl"`
}

// Stats reports current statistics.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, err := s.dir.Statistics(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Schools:      st,
		Cache:        s.cache.Stats(),
		CacheEnabled: s.cache.Enabled(),
		CacheTTL:     s.cache.TTL().String(),
	}, nil
}

// ClearCache removes the cached result for the school called name. An
// unknown name removes nothing.
func (s *Service) ClearCache(ctx context.Context, name string) (int, error) {
	sch, err := s.dir.FindByName(ctx, name)
	if errors.Is(err, school.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := s.cache.Invalidate(ctx, sch.URN)
	if err != nil {
		return 0, err
	}
	s.logger.Info("cleared cached starters", zap.String("urn", sch.URN), zap.Int("removed", n))
	return n, nil
}

// ClearAllCache removes every cached result.
func (s *Service) ClearAllCache(ctx context.Context) (int, error) {
	n, err := s.cache.InvalidateAll(ctx)
	if err != nil {
		return n, err
	}
	s.logger.Info("cleared starter cache", zap.Int("removed", n))
	return n, nil
}

// RefreshData reloads school records from the source. Cached results are
// kept; they are keyed by URN, which survives a reload.
func (s *Service) RefreshData(ctx context.Context) error {
	return s.dir.Refresh(ctx)
}

// Summary returns a short model-written briefing for the school called name.
func (s *Service) Summary(ctx context.Context, name string) (string, error) {
	sch, err := s.dir.FindByName(ctx, name)
	if err != nil {
		return "", err
	}
	return s.gen.Summarize(ctx, sch.LLMContext())
}
