package vtex

// RawProduct is one entry of the productSuggestions response. Only the
// fields the normalizer reads are decoded.
type RawProduct struct {
	ProductID   string      `json:"productId"`
	ProductName string      `json:"productName"`
	Brand       string      `json:"brand"`
	LinkText    string      `json:"linkText"`
	Description string      `json:"description"`
	Categories  []string    `json:"categories"`
	PriceRange  *PriceRange `json:"priceRange"`
	Items       []Item      `json:"items"`
}

type PriceRange struct {
	SellingPrice *PriceBand `json:"sellingPrice"`
	ListPrice    *PriceBand `json:"listPrice"`
}

type PriceBand struct {
	LowPrice  float64 `json:"lowPrice"`
	HighPrice float64 `json:"highPrice"`
}

type Item struct {
	ItemID          string   `json:"itemId"`
	EAN             string   `json:"ean"`
	IsDefault       bool     `json:"isDefault"`
	Images          []Image  `json:"images"`
	MeasurementUnit string   `json:"measurementUnit"`
	UnitMultiplier  float64  `json:"unitMultiplier"`
	Sellers         []Seller `json:"sellers"`
}

type Image struct {
	ImageURL string `json:"imageUrl"`
}

type Seller struct {
	SellerID      string `json:"sellerId"`
	SellerName    string `json:"sellerName"`
	SellerDefault bool   `json:"sellerDefault"`
	// The vendor API spells it this way.
	CommertialOffer *Offer `json:"commertialOffer"`
}

type Offer struct {
	Price                float64 `json:"Price"`
	PriceWithoutDiscount float64 `json:"PriceWithoutDiscount"`
	ListPrice            float64 `json:"ListPrice"`
	AvailableQuantity    int     `json:"AvailableQuantity"`
}

// SelectItem returns the item flagged as default, else the first one.
func (p RawProduct) SelectItem() (Item, bool) {
	if len(p.Items) == 0 {
		return Item{}, false
	}
	for _, it := range p.Items {
		if it.IsDefault {
			return it, true
		}
	}
	return p.Items[0], true
}

// SelectSeller returns the default seller, else the first one.
func (it Item) SelectSeller() (Seller, bool) {
	if len(it.Sellers) == 0 {
		return Seller{}, false
	}
	for _, s := range it.Sellers {
		if s.SellerDefault {
			return s, true
		}
	}
	return it.Sellers[0], true
}
