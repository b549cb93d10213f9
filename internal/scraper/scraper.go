package scraper

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ahmethakanbesel/pricewatch/internal/catalog"
)

var ErrUnknownMerchant = errors.New("unknown merchant")

// Merchant describes one storefront that speaks the product suggestions
// protocol.
type Merchant struct {
	Key     string       `yaml:"key" json:"key" validate:"required"`
	Name    string       `yaml:"name" json:"name" validate:"required"`
	Role    catalog.Role `yaml:"role" json:"role" validate:"required,oneof=master follower"`
	BaseURL string       `yaml:"baseUrl" json:"baseUrl" validate:"required,url"`
	Terms   []string     `yaml:"terms" json:"-" validate:"required,min=1,dive,required"`
	Count   int          `yaml:"count" json:"count" validate:"gte=0,lte=100"`
}

// PageSize is the result count requested per category term.
func (m Merchant) PageSize() int {
	if m.Count <= 0 {
		return DefaultCount
	}
	return m.Count
}

type Registry struct {
	mu        sync.RWMutex
	merchants map[string]Merchant
}

func NewRegistry(merchants ...Merchant) *Registry {
	r := &Registry{
		merchants: make(map[string]Merchant, len(merchants)),
	}
	for _, m := range merchants {
		r.Register(m)
	}
	return r
}

func (r *Registry) Register(m Merchant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merchants[m.Key] = m
}

func (r *Registry) Get(key string) (Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.merchants[key]
	if !ok {
		return Merchant{}, fmt.Errorf("%w: %s", ErrUnknownMerchant, key)
	}
	return m, nil
}

// ByName resolves a merchant by its display name, case-insensitively. Stored
// rows only carry the name.
func (r *Registry) ByName(name string) (Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.merchants {
		if strings.EqualFold(m.Name, name) {
			return m, nil
		}
	}
	return Merchant{}, fmt.Errorf("%w: %s", ErrUnknownMerchant, name)
}

// Merchants returns every registered merchant, master first, then by key.
func (r *Registry) Merchants() []Merchant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Merchant, 0, len(r.merchants))
	for _, m := range r.merchants {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Merchant) int {
		if a.Role != b.Role {
			if a.Role == catalog.RoleMaster {
				return -1
			}
			if b.Role == catalog.RoleMaster {
				return 1
			}
		}
		return strings.Compare(a.Key, b.Key)
	})
	return out
}

func (r *Registry) Keys() []string {
	ms := r.Merchants()
	keys := make([]string, len(ms))
	for i, m := range ms {
		keys[i] = m.Key
	}
	return keys
}
