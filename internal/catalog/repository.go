package catalog

import (
	"context"
	"time"
)

// Repository is the persistence contract for the catalog. Upserts are keyed
// on the natural unique keys so concurrent writers converge.
type Repository interface {
	FindOrCreateMerchant(ctx context.Context, name string) (*Merchant, error)

	// GetProduct returns nil, nil when no product has the given code.
	GetProduct(ctx context.Context, code string) (*Product, error)
	UpsertProduct(ctx context.Context, p *Product) error

	// UpsertMerchantProduct inserts or refreshes the (code, merchant) row
	// and returns its id.
	UpsertMerchantProduct(ctx context.Context, mp *MerchantProduct) (int64, error)
	UpdateSnapshot(ctx context.Context, mp *MerchantProduct) error
	MarkUnavailable(ctx context.Context, id int64, checkedAt time.Time) error

	// ListStale returns up to limit rows, never-checked first, then oldest
	// last-checked first, with MerchantName populated.
	ListStale(ctx context.Context, limit int) ([]MerchantProduct, error)
	ListMerchantProducts(ctx context.Context, code string) ([]MerchantProduct, error)

	AppendPriceHistory(ctx context.Context, e *PriceHistoryEntry) error
	ListPriceHistory(ctx context.Context, merchantProductID int64, limit int) ([]PriceHistoryEntry, error)
}
