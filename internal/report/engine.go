package report

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"possale/backend/internal/cache"
	"possale/backend/internal/domain"
)

// Reader is the read side of the repository the reports need.
type Reader interface {
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
}

type Engine struct {
	reader   Reader
	cache    cache.ReportCache
	cacheTTL time.Duration
	logger   log.FieldLogger
}

func NewEngine(reader Reader, cacheStore cache.ReportCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	return &Engine{
		reader:   reader,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		logger:   log.WithField("component", "report"),
	}
}

// Invalidate drops every cached report. It is called after any change to
// committed sales or stock.
func (e *Engine) Invalidate(ctx context.Context) error {
	return e.cache.Invalidate(ctx)
}

// Range is a half-open [From, To) window. A zero bound is open.
type Range struct {
	From time.Time
	To   time.Time
}

// ParseRange reads inclusive YYYY-MM-DD dates, so to=2024-05-10 covers the
// whole of that day.
func ParseRange(from, to string) (Range, error) {
	var r Range
	if from != "" {
		day, err := time.ParseInLocation(time.DateOnly, from, time.UTC)
		if err != nil {
			return Range{}, domain.NewValidation("from", "must be YYYY-MM-DD")
		}
		r.From = day
	}
	if to != "" {
		day, err := time.ParseInLocation(time.DateOnly, to, time.UTC)
		if err != nil {
			return Range{}, domain.NewValidation("to", "must be YYYY-MM-DD")
		}
		r.To = day.AddDate(0, 0, 1)
	}
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return Range{}, domain.NewValidation("to", "must not be before from")
	}
	return r, nil
}

func (r Range) filter(status string) domain.SaleFilter {
	f := domain.SaleFilter{Status: status}
	if !r.From.IsZero() {
		from := r.From
		f.From = &from
	}
	if !r.To.IsZero() {
		to := r.To
		f.To = &to
	}
	return f
}

func (r Range) key() string {
	format := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format(time.DateOnly)
	}
	return format(r.From) + ":" + format(r.To)
}

func (e *Engine) completedSales(ctx context.Context, r Range) ([]domain.Sale, error) {
	return e.reader.ListSales(ctx, r.filter(domain.SaleStatusCompleted))
}

func (e *Engine) productIndex(ctx context.Context) (map[int64]domain.Product, []domain.Product, error) {
	products, err := e.reader.ListProducts(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	index := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return index, products, nil
}

// cached serves a report from the cache when the current generation has it
// and stores a freshly built one otherwise. Cache failures only cost a rebuild.
func cached[T any](ctx context.Context, e *Engine, name string, key string, build func(context.Context) (T, error)) (T, error) {
	cacheKey := ""
	if gen, err := e.cache.Generation(ctx); err == nil {
		cacheKey = fmt.Sprintf("possale:reports:g%d:%s:%s", gen, name, key)
	} else {
		e.logger.WithError(err).Warn("report cache generation unavailable")
	}

	var out T
	if cacheKey != "" {
		hit, err := e.cache.Get(ctx, cacheKey, &out)
		if err != nil {
			e.logger.WithError(err).WithField("key", cacheKey).Warn("report cache read failed")
		} else if hit {
			return out, nil
		}
	}

	out, err := build(ctx)
	if err != nil {
		return out, err
	}
	if cacheKey != "" {
		if err := e.cache.Set(ctx, cacheKey, out, e.cacheTTL); err != nil {
			e.logger.WithError(err).WithField("key", cacheKey).Warn("report cache write failed")
		}
	}
	return out, nil
}
