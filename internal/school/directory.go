// Package school provides read access to the school record set.
package school

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/scrypster/schoolintel/pkg/types"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("school not found")

// Stats summarises the loaded record set.
type Stats struct {
	Total           int    `json:"total_schools"`
	WithAgencySpend int    `json:"schools_with_agency_spend"`
	WithFinancial   int    `json:"schools_with_financial_data"`
	High            int    `json:"high_priority"`
	Medium          int    `json:"medium_priority"`
	Low             int    `json:"low_priority"`
	Unknown         int    `json:"unknown_priority"`
	Skipped         int    `json:"skipped_rows"`
	DataSource      string `json:"data_source"`
}

// Directory is an in-memory index over a Source. Records are loaded on first
// use and kept until Refresh.
type Directory struct {
	source Source
	logger *zap.Logger

	mu      sync.RWMutex
	loaded  bool
	skipped int
	schools []*types.School
	byName  map[string]*types.School
	byURN   map[string]*types.School
}

// NewDirectory creates a directory over src. Nothing is read until the first lookup.
func NewDirectory(src Source, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{source: src, logger: logger}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func (d *Directory) ensureLoaded(ctx context.Context) error {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if loaded {
		return nil
	}
	return d.reload(ctx, false)
}

func (d *Directory) reload(ctx context.Context, force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded && !force {
		return nil
	}

	schools, skipped, err := d.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load schools from %s: %w", d.source.Name(), err)
	}

	byName := make(map[string]*types.School, len(schools))
	byURN := make(map[string]*types.School, len(schools))
	kept := schools[:0]
	for _, s := range schools {
		if _, dup := byURN[s.URN]; dup {
			skipped++
			continue
		}
		byURN[s.URN] = s
		key := normalizeName(s.Name)
		if _, dup := byName[key]; !dup {
			byName[key] = s
		}
		kept = append(kept, s)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Name < kept[j].Name })

	d.schools = kept
	d.byName = byName
	d.byURN = byURN
	d.skipped = skipped
	d.loaded = true

	d.logger.Info("school records loaded",
		zap.String("source", d.source.Name()),
		zap.Int("count", len(kept)),
		zap.Int("skipped", skipped))
	return nil
}

// Refresh discards the index and reloads from the source.
func (d *Directory) Refresh(ctx context.Context) error {
	return d.reload(ctx, true)
}

// All returns every record ordered by name.
func (d *Directory) All(ctx context.Context) ([]*types.School, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*types.School, len(d.schools))
	copy(out, d.schools)
	return out, nil
}

// Names returns every school name in order.
func (d *Directory) Names(ctx context.Context) ([]string, error) {
	all, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.Name
	}
	return names, nil
}

// FindByName looks up a school by exact name, ignoring case and repeated spaces.
func (d *Directory) FindByName(ctx context.Context, name string) (*types.School, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if s, ok := d.byName[normalizeName(name)]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// FindByURN looks up a school by its unique reference number.
func (d *Directory) FindByURN(ctx context.Context, urn string) (*types.School, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if s, ok := d.byURN[strings.TrimSpace(urn)]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: urn %q", ErrNotFound, urn)
}

// Search returns schools whose name, town, postcode or trust contains query.
// An empty query returns everything.
func (d *Directory) Search(ctx context.Context, query string) ([]*types.School, error) {
	all, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	q := normalizeName(query)
	if q == "" {
		return all, nil
	}
	var out []*types.School
	for _, s := range all {
		for _, field := range []string{s.Name, s.Town, s.Postcode, s.TrustName, s.URN} {
			if strings.Contains(normalizeName(field), q) {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

// ByPriority returns schools ordered by sales priority then agency spend,
// highest first. A limit of zero or less returns all of them.
func (d *Directory) ByPriority(ctx context.Context, limit int) ([]*types.School, error) {
	all, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	spend := func(s *types.School) float64 {
		v, _ := s.Financial.AgencySpendPerPupil()
		return v
	}
	sort.SliceStable(all, func(i, j int) bool {
		ri, rj := all[i].SalesPriority().Rank(), all[j].SalesPriority().Rank()
		if ri != rj {
			return ri < rj
		}
		return spend(all[i]) > spend(all[j])
	})
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// WithAgencySpend returns schools that report any agency supply spend.
func (d *Directory) WithAgencySpend(ctx context.Context) ([]*types.School, error) {
	all, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []*types.School
	for _, s := range all {
		if s.Financial.HasAgencySpend() {
			out = append(out, s)
		}
	}
	return out, nil
}

// Statistics computes counts over the loaded set.
func (d *Directory) Statistics(ctx context.Context) (Stats, error) {
	all, err := d.All(ctx)
	if err != nil {
		return Stats{}, err
	}
	d.mu.RLock()
	st := Stats{Total: len(all), Skipped: d.skipped, DataSource: d.source.Name()}
	d.mu.RUnlock()
	for _, s := range all {
		if s.Financial != nil {
			st.WithFinancial++
		}
		if s.Financial.HasAgencySpend() {
			st.WithAgencySpend++
		}
		switch s.SalesPriority() {
		case types.PriorityHigh:
			st.High++
		case types.PriorityMedium:
			st.Medium++
		case types.PriorityLow:
			st.Low++
		default:
			st.Unknown++
		}
	}
	return st, nil
}
