// Package catalogsync runs one sync pass: every term of a merchant is
// queried in order, results are normalized, deduplicated by product code,
// and handed to the merchant's save policy.
package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahmethakanbesel/pricewatch/internal/catalog"
	"github.com/ahmethakanbesel/pricewatch/internal/metrics"
	"github.com/ahmethakanbesel/pricewatch/internal/scraper"
	"github.com/ahmethakanbesel/pricewatch/internal/vtex"
)

type Mode string

const (
	ModeCategories Mode = "categories"
	ModeCodes      Mode = "codes"
)

var ErrNoCodes = errors.New("no product codes configured")

// ParseMode maps a request value to a Mode. Empty means categories; "eans"
// is accepted as an alias of codes.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeCategories):
		return ModeCategories, nil
	case string(ModeCodes), "eans":
		return ModeCodes, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be categories or codes", s)
	}
}

const defaultTermDelay = 200 * time.Millisecond

// Searcher runs one storefront query.
type Searcher interface {
	Search(ctx context.Context, baseURL, term string, count int) ([]vtex.RawProduct, error)
}

type Result struct {
	Success             bool                    `json:"success"`
	Source              string                  `json:"source"`
	Mode                Mode                    `json:"mode"`
	TotalUniqueProducts int                     `json:"totalUniqueProducts"`
	SavedCount          int                     `json:"savedCount"`
	SkippedCount        int                     `json:"skippedCount"`
	FailedCount         int                     `json:"failedCount"`
	TermsQueried        int                     `json:"termsQueried"`
	TermsFailed         int                     `json:"termsFailed"`
	NormalizationSkips  map[vtex.SkipReason]int `json:"normalizationSkips,omitempty"`
	CompletedAt         time.Time               `json:"completedAt"`
	Products            []catalog.Listing       `json:"products"`
}

type Engine struct {
	client     Searcher
	normalizer *vtex.Normalizer
	repo       catalog.Repository
	codes      []string
	termDelay  time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
}

func New(client Searcher, normalizer *vtex.Normalizer, repo catalog.Repository, opts ...Option) *Engine {
	e := &Engine{
		client:     client,
		normalizer: normalizer,
		repo:       repo,
		termDelay:  defaultTermDelay,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type Option func(*Engine)

// WithProductCodes sets the terms used in codes mode.
func WithProductCodes(codes []string) Option {
	return func(e *Engine) { e.codes = codes }
}

// WithTermDelay sets the pause between consecutive queries of one pass.
func WithTermDelay(d time.Duration) Option {
	return func(e *Engine) { e.termDelay = d }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func (e *Engine) terms(m scraper.Merchant, mode Mode) ([]string, int, error) {
	switch mode {
	case ModeCodes:
		if len(e.codes) == 0 {
			return nil, 0, ErrNoCodes
		}
		return e.codes, 1, nil
	case ModeCategories, "":
		return m.Terms, m.PageSize(), nil
	default:
		return nil, 0, fmt.Errorf("invalid mode %q", mode)
	}
}

func (e *Engine) limiter() *rate.Limiter {
	if e.termDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(e.termDelay), 1)
}

// Run executes one sync pass for the merchant. Fetch failures only count
// against TermsFailed; the returned error is reserved for failing to
// resolve the merchant and for cancellation.
func (e *Engine) Run(ctx context.Context, m scraper.Merchant, mode Mode) (*Result, error) {
	terms, count, err := e.terms(m, mode)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = ModeCategories
	}

	merchant, err := e.repo.FindOrCreateMerchant(ctx, m.Name)
	if err != nil {
		return nil, fmt.Errorf("resolve merchant %s: %w", m.Name, err)
	}

	policy := catalog.PolicyFor(m.Role, e.repo)
	limiter := e.limiter()
	seen := make(map[string]struct{})
	res := &Result{
		Source:             m.Key,
		Mode:               mode,
		NormalizationSkips: make(map[vtex.SkipReason]int),
		Products:           []catalog.Listing{},
	}

	slog.Info("sync: started", "source", m.Key, "role", m.Role, "mode", mode, "terms", len(terms))

	for i, term := range terms {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("sync %s: %w", m.Key, err)
		}
		res.TermsQueried++

		raws, err := e.client.Search(ctx, m.BaseURL, term, count)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("sync %s: %w", m.Key, ctx.Err())
			}
			slog.Warn("sync: term failed", "source", m.Key, "term", term, "error", err)
			res.TermsFailed++
			e.metrics.FetchError(m.Key)
			continue
		}

		added := 0
		for _, raw := range raws {
			norm := e.normalizer.Normalize(raw, m.BaseURL)
			if norm.Skipped() {
				res.NormalizationSkips[norm.Skip]++
				e.metrics.Skip(m.Key, string(norm.Skip))
				continue
			}

			l := *norm.Listing
			if _, dup := seen[l.Code]; dup {
				continue
			}
			seen[l.Code] = struct{}{}
			res.Products = append(res.Products, l)
			added++

			out := policy.Save(ctx, l, merchant.ID, e.now())
			switch {
			case out.Saved:
				res.SavedCount++
				e.metrics.Listing(m.Key, "saved")
			case out.Reason == catalog.ReasonNotInMaster:
				res.SkippedCount++
				e.metrics.Listing(m.Key, out.Reason)
			default:
				res.FailedCount++
				e.metrics.Listing(m.Key, out.Reason)
			}
		}

		slog.Debug("sync: term done", "source", m.Key, "term", term,
			"progress", fmt.Sprintf("%d/%d", i+1, len(terms)), "raw", len(raws), "new", added)
	}

	res.TotalUniqueProducts = len(seen)
	res.Success = true
	res.CompletedAt = e.now()

	slog.Info("sync: finished", "source", m.Key, "mode", mode,
		"unique", res.TotalUniqueProducts, "saved", res.SavedCount,
		"skipped", res.SkippedCount, "failed", res.FailedCount, "termsFailed", res.TermsFailed)

	return res, nil
}
