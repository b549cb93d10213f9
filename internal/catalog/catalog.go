package catalog

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Merchant struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Product is the canonical catalog entry, one row per product code across
// all merchants.
type Product struct {
	Code        string     `db:"code" json:"code"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description"`
	Brand       string     `db:"brand" json:"brand"`
	ImageURL    string     `db:"image_url" json:"imageUrl"`
	Images      StringList `db:"images" json:"images"`
	Category    string     `db:"category" json:"category"`
	ProductURL  string     `db:"product_url" json:"productUrl"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

// MerchantProduct is the current price snapshot of a product at one merchant.
type MerchantProduct struct {
	ID             int64      `db:"id" json:"id"`
	ProductCode    string     `db:"product_code" json:"productCode"`
	MerchantID     int64      `db:"merchant_id" json:"merchantId"`
	MerchantName   string     `db:"merchant_name" json:"merchantName,omitempty"`
	ExternalID     string     `db:"external_id" json:"externalId"`
	ProductURL     string     `db:"product_url" json:"productUrl"`
	Price          float64    `db:"price" json:"price"`
	ListPrice      float64    `db:"list_price" json:"listPrice"`
	ReferencePrice *float64   `db:"reference_price" json:"referencePrice"`
	ReferenceUnit  string     `db:"reference_unit" json:"referenceUnit"`
	IsAvailable    bool       `db:"is_available" json:"isAvailable"`
	LastCheckedAt  *time.Time `db:"last_checked_at" json:"lastCheckedAt"`
}

type PriceHistoryEntry struct {
	ID                int64     `db:"id" json:"id"`
	MerchantProductID int64     `db:"merchant_product_id" json:"merchantProductId"`
	Price             float64   `db:"price" json:"price"`
	ListPrice         float64   `db:"list_price" json:"listPrice"`
	ObservedAt        time.Time `db:"observed_at" json:"observedAt"`
}

// Listing is a normalized vendor product, ready to be saved for one merchant.
type Listing struct {
	Code           string   `json:"code"`
	ExternalID     string   `json:"externalId"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Brand          string   `json:"brand,omitempty"`
	URL            string   `json:"url"`
	Images         []string `json:"images"`
	Categories     []string `json:"categories,omitempty"`
	Price          float64  `json:"price"`
	ListPrice      float64  `json:"listPrice"`
	ReferencePrice *float64 `json:"referencePrice"`
	ReferenceUnit  string   `json:"referenceUnit,omitempty"`
	Available      bool     `json:"available"`
}

// Product projects the descriptive part of the listing onto the canonical
// catalog entry.
func (l Listing) Product() Product {
	p := Product{
		Code:        l.Code,
		Name:        l.Name,
		Description: l.Description,
		Brand:       l.Brand,
		Images:      l.Images,
		ProductURL:  l.URL,
	}
	if p.Description == "" {
		p.Description = l.Name
	}
	if len(l.Images) > 0 {
		p.ImageURL = l.Images[0]
	}
	if len(l.Categories) > 0 {
		p.Category = l.Categories[0]
	}
	return p
}

// Snapshot projects the commercial part of the listing onto the merchant's
// current price row.
func (l Listing) Snapshot(merchantID int64, checkedAt time.Time) MerchantProduct {
	return MerchantProduct{
		ProductCode:    l.Code,
		MerchantID:     merchantID,
		ExternalID:     l.ExternalID,
		ProductURL:     l.URL,
		Price:          l.Price,
		ListPrice:      l.ListPrice,
		ReferencePrice: l.ReferencePrice,
		ReferenceUnit:  l.ReferenceUnit,
		IsAvailable:    l.Available,
		LastCheckedAt:  &checkedAt,
	}
}

// StringList is stored as a JSON array in a TEXT column.
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan string list: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(s))
}
