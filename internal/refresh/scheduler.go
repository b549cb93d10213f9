// Package refresh re-checks the prices of the least recently checked
// merchant products and records history when a price drifts.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ahmethakanbesel/pricewatch/internal/catalog"
	"github.com/ahmethakanbesel/pricewatch/internal/metrics"
	"github.com/ahmethakanbesel/pricewatch/internal/scraper"
	"github.com/ahmethakanbesel/pricewatch/internal/vtex"
)

const (
	defaultBatchSize  = 500
	defaultGroupSize  = 10
	defaultGroupDelay = 500 * time.Millisecond
)

var defaultEpsilon = decimal.RequireFromString("0.01")

// Looker finds a single product by code at a storefront.
type Looker interface {
	Lookup(ctx context.Context, baseURL, code string) (*vtex.RawProduct, error)
}

type Store interface {
	ListStale(ctx context.Context, limit int) ([]catalog.MerchantProduct, error)
	UpdateSnapshot(ctx context.Context, mp *catalog.MerchantProduct) error
	MarkUnavailable(ctx context.Context, id int64, checkedAt time.Time) error
	AppendPriceHistory(ctx context.Context, e *catalog.PriceHistoryEntry) error
}

type Stats struct {
	Selected     int       `json:"selected"`
	Updated      int       `json:"updated"`
	PriceChanged int       `json:"priceChanged"`
	Unavailable  int       `json:"unavailable"`
	Errored      int       `json:"errored"`
	ElapsedMs    int64     `json:"elapsedMs"`
	CompletedAt  time.Time `json:"completedAt"`
}

type outcome int

const (
	outcomeUpdated outcome = iota
	outcomePriceChanged
	outcomeUnavailable
	outcomeErrored
)

func (o outcome) String() string {
	switch o {
	case outcomeUpdated:
		return "updated"
	case outcomePriceChanged:
		return "price_changed"
	case outcomeUnavailable:
		return "unavailable"
	default:
		return "errored"
	}
}

type Scheduler struct {
	client     Looker
	normalizer *vtex.Normalizer
	store      Store
	registry   *scraper.Registry
	batchSize  int
	groupSize  int
	groupDelay time.Duration
	epsilon    decimal.Decimal
	now        func() time.Time
	metrics    *metrics.Metrics
}

func New(client Looker, normalizer *vtex.Normalizer, store Store, registry *scraper.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		client:     client,
		normalizer: normalizer,
		store:      store,
		registry:   registry,
		batchSize:  defaultBatchSize,
		groupSize:  defaultGroupSize,
		groupDelay: defaultGroupDelay,
		epsilon:    defaultEpsilon,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Option func(*Scheduler)

func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithGroupSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.groupSize = n
		}
	}
}

func WithGroupDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.groupDelay = d }
}

// WithEpsilon sets the smallest price movement that is recorded as a change.
func WithEpsilon(eps float64) Option {
	return func(s *Scheduler) { s.epsilon = decimal.NewFromFloat(eps) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// PriceChanged reports whether the two prices differ by more than epsilon.
func (s *Scheduler) PriceChanged(oldPrice, newPrice float64) bool {
	return decimal.NewFromFloat(newPrice).Sub(decimal.NewFromFloat(oldPrice)).Abs().GreaterThan(s.epsilon)
}

// Run refreshes one batch. Groups run one after another; records inside a
// group are checked concurrently. Only failing to list the batch is an
// error: per-record failures are counted in Stats.
func (s *Scheduler) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()

	rows, err := s.store.ListStale(ctx, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list stale products: %w", err)
	}

	stats := &Stats{Selected: len(rows)}
	slog.Info("refresh: started", "selected", len(rows), "groupSize", s.groupSize)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.groupDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(s.groupDelay), 1)
	}

	groups := scraper.Chunk(rows, s.groupSize)
	for gi, group := range groups {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("refresh: %w", err)
		}

		outcomes := make([]outcome, len(group))
		g := new(errgroup.Group)
		for i := range group {
			g.Go(func() error {
				outcomes[i] = s.refreshOne(ctx, group[i])
				return nil
			})
		}
		_ = g.Wait()

		for _, o := range outcomes {
			s.metrics.RefreshRecord(o.String())
			switch o {
			case outcomeUpdated:
				stats.Updated++
			case outcomePriceChanged:
				stats.Updated++
				stats.PriceChanged++
			case outcomeUnavailable:
				stats.Unavailable++
			default:
				stats.Errored++
			}
		}

		slog.Debug("refresh: group done", "group", gi+1, "of", len(groups))
	}

	stats.CompletedAt = s.now()
	stats.ElapsedMs = time.Since(start).Milliseconds()

	slog.Info("refresh: finished", "selected", stats.Selected, "updated", stats.Updated,
		"priceChanged", stats.PriceChanged, "unavailable", stats.Unavailable,
		"errored", stats.Errored, "elapsedMs", stats.ElapsedMs)

	return stats, nil
}

func (s *Scheduler) refreshOne(ctx context.Context, row catalog.MerchantProduct) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("refresh: panic", "id", row.ID, "panic", r)
			out = outcomeErrored
		}
	}()

	merchant, err := s.registry.ByName(row.MerchantName)
	if err != nil {
		slog.Warn("refresh: no storefront for merchant", "id", row.ID, "merchant", row.MerchantName)
		return outcomeErrored
	}
	if row.ProductCode == "" {
		return outcomeErrored
	}

	raw, err := s.client.Lookup(ctx, merchant.BaseURL, row.ProductCode)
	if err != nil {
		slog.Warn("refresh: lookup failed", "id", row.ID, "code", row.ProductCode, "merchant", merchant.Key, "error", err)
		s.metrics.FetchError(merchant.Key)
		return outcomeErrored
	}

	checkedAt := s.now()

	var listing *catalog.Listing
	if raw != nil {
		listing = s.normalizer.Normalize(*raw, merchant.BaseURL).Listing
	}
	if listing == nil {
		if err := s.store.MarkUnavailable(ctx, row.ID, checkedAt); err != nil {
			slog.Error("refresh: mark unavailable", "id", row.ID, "error", err)
			return outcomeErrored
		}
		return outcomeUnavailable
	}

	changed := s.PriceChanged(row.Price, listing.Price)

	next := row
	next.ExternalID = listing.ExternalID
	next.Price = listing.Price
	next.ListPrice = listing.ListPrice
	next.ReferencePrice = listing.ReferencePrice
	next.ReferenceUnit = listing.ReferenceUnit
	next.IsAvailable = listing.Available
	next.LastCheckedAt = &checkedAt
	if err := s.store.UpdateSnapshot(ctx, &next); err != nil {
		slog.Error("refresh: update snapshot", "id", row.ID, "error", err)
		return outcomeErrored
	}

	if !changed {
		return outcomeUpdated
	}

	entry := &catalog.PriceHistoryEntry{
		MerchantProductID: row.ID,
		Price:             listing.Price,
		ListPrice:         listing.ListPrice,
		ObservedAt:        checkedAt,
	}
	if err := s.store.AppendPriceHistory(ctx, entry); err != nil {
		slog.Error("refresh: append history", "id", row.ID, "error", err)
		return outcomeErrored
	}
	slog.Debug("refresh: price changed", "id", row.ID, "code", row.ProductCode, "old", row.Price, "new", listing.Price)
	return outcomePriceChanged
}
