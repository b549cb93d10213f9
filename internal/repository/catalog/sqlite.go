package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	domain "github.com/ahmethakanbesel/pricewatch/internal/catalog"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

var _ domain.Repository = (*Repository)(nil)

func (r *Repository) FindOrCreateMerchant(ctx context.Context, name string) (*domain.Merchant, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO merchants (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name,
	); err != nil {
		return nil, fmt.Errorf("insert merchant: %w", err)
	}

	var m domain.Merchant
	if err := r.db.GetContext(ctx, &m, `SELECT id, name FROM merchants WHERE name = ?`, name); err != nil {
		return nil, fmt.Errorf("get merchant: %w", err)
	}
	return &m, nil
}

func (r *Repository) GetProduct(ctx context.Context, code string) (*domain.Product, error) {
	const query = `SELECT code, name, description, brand, image_url, images, category, product_url, created_at, updated_at
		FROM products WHERE code = ?`

	var p domain.Product
	if err := r.db.GetContext(ctx, &p, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (r *Repository) UpsertProduct(ctx context.Context, p *domain.Product) error {
	const query = `INSERT INTO products (code, name, description, brand, image_url, images, category, product_url)
		VALUES (:code, :name, :description, :brand, :image_url, :images, :category, :product_url)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			brand = excluded.brand,
			image_url = excluded.image_url,
			images = excluded.images,
			category = excluded.category,
			product_url = excluded.product_url,
			updated_at = CURRENT_TIMESTAMP`

	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (r *Repository) UpsertMerchantProduct(ctx context.Context, mp *domain.MerchantProduct) (int64, error) {
	const query = `INSERT INTO merchant_products
			(product_code, merchant_id, external_id, product_url, price, list_price,
			 reference_price, reference_unit, is_available, last_checked_at)
		VALUES
			(:product_code, :merchant_id, :external_id, :product_url, :price, :list_price,
			 :reference_price, :reference_unit, :is_available, :last_checked_at)
		ON CONFLICT(product_code, merchant_id) DO UPDATE SET
			external_id = excluded.external_id,
			product_url = excluded.product_url,
			price = excluded.price,
			list_price = excluded.list_price,
			reference_price = excluded.reference_price,
			reference_unit = excluded.reference_unit,
			is_available = excluded.is_available,
			last_checked_at = excluded.last_checked_at
		RETURNING id`

	q, args, err := sqlx.Named(query, mp)
	if err != nil {
		return 0, fmt.Errorf("bind merchant product: %w", err)
	}

	var id int64
	if err := r.db.GetContext(ctx, &id, q, args...); err != nil {
		return 0, fmt.Errorf("upsert merchant product: %w", err)
	}
	mp.ID = id
	return id, nil
}

func (r *Repository) UpdateSnapshot(ctx context.Context, mp *domain.MerchantProduct) error {
	const query = `UPDATE merchant_products SET
			external_id = :external_id,
			price = :price,
			list_price = :list_price,
			reference_price = :reference_price,
			reference_unit = :reference_unit,
			is_available = :is_available,
			last_checked_at = :last_checked_at
		WHERE id = :id`

	if _, err := r.db.NamedExecContext(ctx, query, mp); err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	return nil
}

func (r *Repository) MarkUnavailable(ctx context.Context, id int64, checkedAt time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE merchant_products SET is_available = 0, last_checked_at = ? WHERE id = ?`,
		checkedAt.UTC(), id,
	); err != nil {
		return fmt.Errorf("mark unavailable: %w", err)
	}
	return nil
}

const selectMerchantProducts = `SELECT mp.id, mp.product_code, mp.merchant_id, m.name AS merchant_name,
		mp.external_id, mp.product_url, mp.price, mp.list_price, mp.reference_price,
		mp.reference_unit, mp.is_available, mp.last_checked_at
	FROM merchant_products mp
	JOIN merchants m ON m.id = mp.merchant_id`

func (r *Repository) ListStale(ctx context.Context, limit int) ([]domain.MerchantProduct, error) {
	query := selectMerchantProducts + `
	ORDER BY mp.last_checked_at IS NOT NULL, mp.last_checked_at ASC, mp.id ASC
	LIMIT ?`

	var out []domain.MerchantProduct
	if err := r.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	return out, nil
}

func (r *Repository) ListMerchantProducts(ctx context.Context, code string) ([]domain.MerchantProduct, error) {
	query := selectMerchantProducts + `
	WHERE mp.product_code = ?
	ORDER BY m.name ASC`

	var out []domain.MerchantProduct
	if err := r.db.SelectContext(ctx, &out, query, code); err != nil {
		return nil, fmt.Errorf("list merchant products: %w", err)
	}
	return out, nil
}

func (r *Repository) AppendPriceHistory(ctx context.Context, e *domain.PriceHistoryEntry) error {
	const query = `INSERT INTO price_history (merchant_product_id, price, list_price, observed_at)
		VALUES (:merchant_product_id, :price, :list_price, :observed_at)`

	res, err := r.db.NamedExecContext(ctx, query, e)
	if err != nil {
		return fmt.Errorf("append price history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (r *Repository) ListPriceHistory(ctx context.Context, merchantProductID int64, limit int) ([]domain.PriceHistoryEntry, error) {
	const query = `SELECT id, merchant_product_id, price, list_price, observed_at
		FROM price_history
		WHERE merchant_product_id = ?
		ORDER BY observed_at DESC, id DESC
		LIMIT ?`

	var out []domain.PriceHistoryEntry
	if err := r.db.SelectContext(ctx, &out, query, merchantProductID, limit); err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	return out, nil
}
