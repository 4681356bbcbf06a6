package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/donaldgifford/price-watch/internal/engine"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// productRequest contains only the fields the API accepts for create/update.
type productRequest struct {
	URL          string              `json:"url"`
	Name         string              `json:"name"`
	RuleName     string              `json:"rule_name,omitempty"`
	Selector     string              `json:"selector,omitempty"`
	SelectorType domain.SelectorType `json:"selector_type,omitempty"`
	FetchMode    domain.FetchMode    `json:"fetch_mode,omitempty"`
	Interval     string              `json:"interval,omitempty"`
	Enabled      *bool               `json:"enabled,omitempty"`
	TargetPrice  string              `json:"target_price,omitempty"`
	NotifyOnDrop *bool               `json:"notify_on_drop,omitempty"`
}

func newProductRequest(p *domain.TrackedProduct) productRequest {
	req := productRequest{
		URL:          p.URL,
		Name:         p.Name,
		RuleName:     p.RuleName,
		Selector:     p.Selector,
		SelectorType: p.SelectorType,
		FetchMode:    p.FetchMode,
		Enabled:      &p.Enabled,
		NotifyOnDrop: &p.NotifyOnDrop,
	}
	if p.Interval > 0 {
		req.Interval = p.Interval.String()
	}
	if p.TargetPrice != nil {
		req.TargetPrice = p.TargetPrice.String()
	}
	return req
}

// ListProducts returns all products, or only enabled ones.
func (c *Client) ListProducts(ctx context.Context, enabledOnly bool) ([]domain.TrackedProduct, error) {
	path := "/api/v1/products"
	if enabledOnly {
		path += "?enabled=true"
	}
	var products []domain.TrackedProduct
	if err := c.get(ctx, path, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetProduct returns a single product by ID.
func (c *Client) GetProduct(ctx context.Context, id string) (*domain.TrackedProduct, error) {
	var p domain.TrackedProduct
	if err := c.get(ctx, "/api/v1/products/"+url.PathEscape(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct starts tracking a product.
func (c *Client) CreateProduct(ctx context.Context, p *domain.TrackedProduct) (*domain.TrackedProduct, error) {
	var created domain.TrackedProduct
	if err := c.post(ctx, "/api/v1/products", newProductRequest(p), &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateProduct replaces a product's settings.
func (c *Client) UpdateProduct(ctx context.Context, p *domain.TrackedProduct) (*domain.TrackedProduct, error) {
	var updated domain.TrackedProduct
	if err := c.put(ctx, "/api/v1/products/"+url.PathEscape(p.ID), newProductRequest(p), &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteProduct stops tracking a product.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.del(ctx, "/api/v1/products/"+url.PathEscape(id), nil)
}

// SetProductEnabled enables or disables a product.
func (c *Client) SetProductEnabled(ctx context.Context, id string, enabled bool) error {
	body := map[string]bool{"enabled": enabled}
	return c.put(ctx, fmt.Sprintf("/api/v1/products/%s/enabled", url.PathEscape(id)), body, nil)
}

// SetProductInterval changes a product's polling interval.
func (c *Client) SetProductInterval(ctx context.Context, id string, interval time.Duration) error {
	body := map[string]string{"interval": interval.String()}
	return c.put(ctx, fmt.Sprintf("/api/v1/products/%s/interval", url.PathEscape(id)), body, nil)
}

// CheckProduct runs a check immediately.
func (c *Client) CheckProduct(ctx context.Context, id string) (*engine.CheckResult, error) {
	var res engine.CheckResult
	if err := c.post(ctx, fmt.Sprintf("/api/v1/products/%s/check", url.PathEscape(id)), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// History returns up to limit of a product's newest observations, oldest first.
func (c *Client) History(ctx context.Context, id string, limit int) ([]domain.Observation, error) {
	path := fmt.Sprintf("/api/v1/products/%s/history", url.PathEscape(id))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Observations []domain.Observation `json:"observations"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Observations, nil
}

// Latest returns a product's newest observation, or nil before the
// first successful check.
func (c *Client) Latest(ctx context.Context, id string) (*domain.Observation, error) {
	var o domain.Observation
	err := c.get(ctx, fmt.Sprintf("/api/v1/products/%s/latest", url.PathEscape(id)), &o)
	if IsNotFound(err) {
		if _, perr := c.GetProduct(ctx, id); perr != nil {
			return nil, perr
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
