package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahmethakanbesel/pricewatch/internal/apperror"
)

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 365
)

type GetProductRequest struct {
	Code         string
	HistoryLimit int
}

func (r GetProductRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.Code) == "" {
		return apperror.New(apperror.BadRequest, "product code is required")
	}
	if r.HistoryLimit < 0 || r.HistoryLimit > maxHistoryLimit {
		return apperror.New(apperror.BadRequest, fmt.Sprintf("history must be between 0 and %d", maxHistoryLimit))
	}
	return nil
}

type Offer struct {
	MerchantProduct
	History []PriceHistoryEntry `json:"history"`
}

type ProductDetail struct {
	Product *Product `json:"product"`
	Offers  []Offer  `json:"offers"`
}

// Service is the read side of the catalog used by the HTTP layer.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetProduct returns the product with every merchant's current snapshot and
// its most recent price history, newest first.
func (s *Service) GetProduct(ctx context.Context, req GetProductRequest) (*ProductDetail, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	limit := req.HistoryLimit
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	p, err := s.repo.GetProduct(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if p == nil {
		return nil, apperror.New(apperror.NotFound, fmt.Sprintf("product %q not found", req.Code))
	}

	mps, err := s.repo.ListMerchantProducts(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("list merchant products: %w", err)
	}

	offers := make([]Offer, 0, len(mps))
	for _, mp := range mps {
		hist, err := s.repo.ListPriceHistory(ctx, mp.ID, limit)
		if err != nil {
			return nil, fmt.Errorf("list price history: %w", err)
		}
		if hist == nil {
			hist = []PriceHistoryEntry{}
		}
		offers = append(offers, Offer{MerchantProduct: mp, History: hist})
	}
	return &ProductDetail{Product: p, Offers: offers}, nil
}
