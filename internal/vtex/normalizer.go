package vtex

import (
	"strings"

	"github.com/ahmethakanbesel/pricewatch/internal/catalog"
)

type SkipReason string

const (
	SkipNoItems       SkipReason = "no_items"
	SkipNoImages      SkipReason = "no_images"
	SkipNoPriceRange  SkipReason = "no_price_range"
	SkipNoCode        SkipReason = "no_code"
	SkipExcludedBrand SkipReason = "excluded_brand"
)

// DefaultExcludedBrands are private labels that only exist at a single
// retailer and so cannot be compared across merchants.
var DefaultExcludedBrands = []string{
	"cuisine & co",
	"cuisine&co",
	"family care",
	"máxima",
	"maxima",
	"disco",
	"jumbo",
	"vea",
	"home care",
	"check",
}

// Result holds either a Listing or the reason the product was skipped.
type Result struct {
	Listing *catalog.Listing
	Skip    SkipReason
}

func (r Result) Skipped() bool { return r.Listing == nil }

type Normalizer struct {
	excluded map[string]struct{}
}

// NewNormalizer builds a normalizer that drops the given brands. Matching is
// case-insensitive and ignores surrounding spaces.
func NewNormalizer(excludedBrands []string) *Normalizer {
	n := &Normalizer{excluded: make(map[string]struct{}, len(excludedBrands))}
	for _, b := range excludedBrands {
		if b = normalizeBrand(b); b != "" {
			n.excluded[b] = struct{}{}
		}
	}
	return n
}

func normalizeBrand(b string) string {
	return strings.ToLower(strings.TrimSpace(b))
}

// Normalize maps a raw product to a Listing for the storefront at baseURL.
func (n *Normalizer) Normalize(raw RawProduct, baseURL string) Result {
	if _, ok := n.excluded[normalizeBrand(raw.Brand)]; ok && raw.Brand != "" {
		return Result{Skip: SkipExcludedBrand}
	}

	item, ok := raw.SelectItem()
	if !ok {
		return Result{Skip: SkipNoItems}
	}

	images := make([]string, 0, len(item.Images))
	for _, img := range item.Images {
		if img.ImageURL != "" {
			images = append(images, img.ImageURL)
		}
	}
	if len(images) == 0 {
		return Result{Skip: SkipNoImages}
	}

	if raw.PriceRange == nil || raw.PriceRange.SellingPrice == nil {
		return Result{Skip: SkipNoPriceRange}
	}

	code := strings.TrimSpace(item.EAN)
	if code == "" {
		return Result{Skip: SkipNoCode}
	}

	l := &catalog.Listing{
		Code:          code,
		ExternalID:    raw.ProductID,
		Name:          raw.ProductName,
		Description:   raw.Description,
		Brand:         raw.Brand,
		URL:           strings.TrimRight(baseURL, "/") + "/" + raw.LinkText + "/p",
		Images:        images,
		Categories:    raw.Categories,
		ReferenceUnit: item.MeasurementUnit,
		Available:     true,
	}

	seller, ok := item.SelectSeller()
	if ok && seller.CommertialOffer != nil {
		offer := seller.CommertialOffer
		l.Price = offer.Price
		l.ListPrice = offer.PriceWithoutDiscount
		l.Available = offer.AvailableQuantity > 0
	} else {
		l.Price = raw.PriceRange.SellingPrice.LowPrice
		if raw.PriceRange.ListPrice != nil {
			l.ListPrice = raw.PriceRange.ListPrice.LowPrice
		}
	}
	if l.ListPrice <= 0 {
		l.ListPrice = l.Price
	}

	if item.UnitMultiplier > 0 {
		ref := l.Price / item.UnitMultiplier
		l.ReferencePrice = &ref
	}

	return Result{Listing: l}
}
