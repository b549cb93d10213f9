// Package vtex queries storefronts that expose the persisted
// productSuggestions GraphQL operation and normalizes their products.
package vtex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	graphqlPath      = "/_v/segment/graphql/v1/"
	operationName    = "productSuggestions"
	defaultLocale    = "es-AR"
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// Client issues one suggestions query per call. It holds no per-merchant
// state, so a single Client serves every storefront.
type Client struct {
	client    *http.Client
	hash      string
	locale    string
	timeout   time.Duration
	userAgent string
}

// New returns ErrMissingQueryHash when hash is empty.
func New(hash string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(hash) == "" {
		return nil, ErrMissingQueryHash
	}
	c := &Client{
		client:    &http.Client{},
		hash:      hash,
		locale:    defaultLocale,
		timeout:   defaultTimeout,
		userAgent: defaultUserAgent,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type Option func(*Client)

func WithClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout bounds each query. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLocale(locale string) Option {
	return func(c *Client) {
		if locale != "" {
			c.locale = locale
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

type searchVariables struct {
	ProductOriginVtex    bool     `json:"productOriginVtex"`
	SimulationBehavior   string   `json:"simulationBehavior"`
	HideUnavailableItems bool     `json:"hideUnavailableItems"`
	FullText             string   `json:"fullText"`
	Count                int      `json:"count"`
	ShippingOptions      []string `json:"shippingOptions"`
	Variant              *string  `json:"variant"`
}

type persistedQuery struct {
	Version    int    `json:"version"`
	SHA256Hash string `json:"sha256Hash"`
	Sender     string `json:"sender"`
	Provider   string `json:"provider"`
}

type extensions struct {
	PersistedQuery persistedQuery `json:"persistedQuery"`
	Variables      string         `json:"variables"`
}

type searchResponse struct {
	Data *struct {
		ProductSuggestions *struct {
			Products *[]RawProduct `json:"products"`
		} `json:"productSuggestions"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// SearchURL builds the GET URL of a suggestions query.
func (c *Client) SearchURL(baseURL, term string, count int) (string, error) {
	vars, err := json.Marshal(searchVariables{
		ProductOriginVtex:    true,
		SimulationBehavior:   "default",
		HideUnavailableItems: true,
		FullText:             term,
		Count:                count,
		ShippingOptions:      []string{},
	})
	if err != nil {
		return "", fmt.Errorf("encode variables: %w", err)
	}
	ext, err := json.Marshal(extensions{
		PersistedQuery: persistedQuery{
			Version:    1,
			SHA256Hash: c.hash,
			Sender:     "vtex.store-resources@0.x",
			Provider:   "vtex.search-graphql@0.x",
		},
		Variables: base64.StdEncoding.EncodeToString(vars),
	})
	if err != nil {
		return "", fmt.Errorf("encode extensions: %w", err)
	}

	q := url.Values{}
	q.Set("workspace", "master")
	q.Set("maxAge", "medium")
	q.Set("appsEtag", "remove")
	q.Set("domain", "store")
	q.Set("locale", c.locale)
	q.Set("operationName", operationName)
	q.Set("variables", "{}")
	q.Set("extensions", string(ext))

	return strings.TrimRight(baseURL, "/") + graphqlPath + "?" + q.Encode(), nil
}

// Search runs one suggestions query. Every failure is returned as a
// *FetchError; there is no retry.
func (c *Client) Search(ctx context.Context, baseURL, term string, count int) ([]RawProduct, error) {
	products, err := c.search(ctx, baseURL, term, count)
	if err != nil {
		return nil, &FetchError{Source: baseURL, Term: term, Err: err}
	}
	slog.Debug("vtex: search", "source", baseURL, "term", term, "count", len(products))
	return products, nil
}

func (c *Client) search(ctx context.Context, baseURL, term string, count int) ([]RawProduct, error) {
	reqURL, err := c.SearchURL(baseURL, term, count)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req) //nolint:gosec // base URL from merchant config
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected HTTP %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("api error: %s", resp.Errors[0].Message)
	}
	if resp.Data == nil || resp.Data.ProductSuggestions == nil || resp.Data.ProductSuggestions.Products == nil {
		return nil, fmt.Errorf("unexpected response shape")
	}
	return *resp.Data.ProductSuggestions.Products, nil
}

// Lookup searches for a single product code and returns the product whose
// selected item carries that code, or nil when the storefront has none.
func (c *Client) Lookup(ctx context.Context, baseURL, code string) (*RawProduct, error) {
	products, err := c.Search(ctx, baseURL, code, 1)
	if err != nil {
		return nil, err
	}
	for i := range products {
		item, ok := products[i].SelectItem()
		if ok && SameCode(item.EAN, code) {
			return &products[i], nil
		}
	}
	return nil, nil
}

// SameCode compares product codes, ignoring leading zeros on numeric codes.
func SameCode(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if !isDigits(a) || !isDigits(b) {
		return false
	}
	return strings.TrimLeft(a, "0") == strings.TrimLeft(b, "0")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
