package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// ProductService manages tracked products.
type ProductService interface {
	Products(ctx context.Context, enabledOnly bool) ([]domain.TrackedProduct, error)
	Product(ctx context.Context, id string) (*domain.TrackedProduct, error)
	AddProduct(ctx context.Context, p *domain.TrackedProduct) error
	UpdateProduct(ctx context.Context, p *domain.TrackedProduct) error
	RemoveProduct(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	SetInterval(ctx context.Context, id string, interval time.Duration) error
}

// ProductHandler handles tracked product CRUD operations.
type ProductHandler struct {
	products ProductService
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(s ProductService) *ProductHandler {
	return &ProductHandler{products: s}
}

// --- Input/Output types ---

// ProductBody contains the fields the API accepts for create and update.
type ProductBody struct {
	URL          string              `json:"url"                      doc:"Product page URL"                       minLength:"1"`
	Name         string              `json:"name"                     doc:"Display name"                           minLength:"1"`
	RuleName     string              `json:"rule_name,omitempty"      doc:"Site rule name; empty resolves by domain"`
	Selector     string              `json:"selector,omitempty"       doc:"Per-product price selector"`
	SelectorType domain.SelectorType `json:"selector_type,omitempty"  doc:"Selector language"                      enum:"css,xpath"`
	FetchMode    domain.FetchMode    `json:"fetch_mode,omitempty"     doc:"Fetch mode"                             enum:"auto,http,browser"`
	Interval     string              `json:"interval,omitempty"       doc:"Polling interval (Go duration)"         example:"1h"`
	Enabled      *bool               `json:"enabled,omitempty"        doc:"Poll this product (default true)"`
	TargetPrice  string              `json:"target_price,omitempty"   doc:"Alert when the price reaches this"      example:"199.99"`
	NotifyOnDrop *bool               `json:"notify_on_drop,omitempty" doc:"Notify on every drop (default true)"`
}

// apply copies the body onto p, keeping p's current values for omitted
// optional flags.
func (b *ProductBody) apply(p *domain.TrackedProduct) error {
	p.URL = b.URL
	p.Name = b.Name
	p.RuleName = b.RuleName
	p.Selector = b.Selector
	p.SelectorType = b.SelectorType
	p.FetchMode = b.FetchMode

	p.Interval = 0
	if b.Interval != "" {
		d, err := time.ParseDuration(b.Interval)
		if err != nil {
			return huma.Error422UnprocessableEntity(fmt.Sprintf("invalid interval %q", b.Interval))
		}
		p.Interval = d
	}

	p.TargetPrice = nil
	if b.TargetPrice != "" {
		d, err := decimal.NewFromString(b.TargetPrice)
		if err != nil {
			return huma.Error422UnprocessableEntity(fmt.Sprintf("invalid target price %q", b.TargetPrice))
		}
		p.TargetPrice = &d
	}

	if b.Enabled != nil {
		p.Enabled = *b.Enabled
	}
	if b.NotifyOnDrop != nil {
		p.NotifyOnDrop = *b.NotifyOnDrop
	}
	return nil
}

// ListProductsInput filters the product list.
type ListProductsInput struct {
	Enabled bool `query:"enabled" doc:"Only return enabled products"`
}

// ListProductsOutput is the response for listing products.
type ListProductsOutput struct {
	Body []domain.TrackedProduct
}

// ProductIDInput identifies a product by path.
type ProductIDInput struct {
	ID string `path:"id" doc:"Product UUID"`
}

// ProductOutput is the response for a single product.
type ProductOutput struct {
	Body *domain.TrackedProduct
}

// CreateProductInput is the request for creating a product.
type CreateProductInput struct {
	Body ProductBody
}

// UpdateProductInput is the request for updating a product.
type UpdateProductInput struct {
	ID   string `path:"id" doc:"Product UUID"`
	Body ProductBody
}

// SetEnabledInput toggles polling of a product.
type SetEnabledInput struct {
	ID   string `path:"id" doc:"Product UUID"`
	Body struct {
		Enabled bool `json:"enabled" example:"true" doc:"Whether the product is polled"`
	}
}

// SetIntervalInput changes a product's polling interval.
type SetIntervalInput struct {
	ID   string `path:"id" doc:"Product UUID"`
	Body struct {
		Interval string `json:"interval" example:"30m" doc:"Polling interval (Go duration)" minLength:"1"`
	}
}

// --- Handlers ---

// List returns all products, optionally only the enabled ones.
func (h *ProductHandler) List(ctx context.Context, input *ListProductsInput) (*ListProductsOutput, error) {
	products, err := h.products.Products(ctx, input.Enabled)
	if err != nil {
		return nil, apiError(err, "listing products")
	}
	if products == nil {
		products = []domain.TrackedProduct{}
	}
	return &ListProductsOutput{Body: products}, nil
}

// Get returns a single product.
func (h *ProductHandler) Get(ctx context.Context, input *ProductIDInput) (*ProductOutput, error) {
	p, err := h.products.Product(ctx, input.ID)
	if err != nil {
		return nil, apiError(err, "getting product")
	}
	return &ProductOutput{Body: p}, nil
}

// Create adds a product and schedules its first check.
func (h *ProductHandler) Create(ctx context.Context, input *CreateProductInput) (*ProductOutput, error) {
	p := &domain.TrackedProduct{Enabled: true, NotifyOnDrop: true}
	if err := input.Body.apply(p); err != nil {
		return nil, err
	}
	if err := h.products.AddProduct(ctx, p); err != nil {
		return nil, apiError(err, "creating product")
	}
	return &ProductOutput{Body: p}, nil
}

// Update replaces a product's settings.
func (h *ProductHandler) Update(ctx context.Context, input *UpdateProductInput) (*ProductOutput, error) {
	p, err := h.products.Product(ctx, input.ID)
	if err != nil {
		return nil, apiError(err, "getting product")
	}
	if err := input.Body.apply(p); err != nil {
		return nil, err
	}
	if err := h.products.UpdateProduct(ctx, p); err != nil {
		return nil, apiError(err, "updating product")
	}
	return &ProductOutput{Body: p}, nil
}

// Delete stops tracking a product.
func (h *ProductHandler) Delete(ctx context.Context, input *ProductIDInput) (*struct{}, error) {
	if err := h.products.RemoveProduct(ctx, input.ID); err != nil {
		return nil, apiError(err, "deleting product")
	}
	return &struct{}{}, nil
}

// SetEnabled pauses or resumes polling.
func (h *ProductHandler) SetEnabled(ctx context.Context, input *SetEnabledInput) (*StatusOutput, error) {
	if err := h.products.SetEnabled(ctx, input.ID, input.Body.Enabled); err != nil {
		return nil, apiError(err, "setting product enabled")
	}
	return statusOutput("updated"), nil
}

// SetInterval changes the polling interval.
func (h *ProductHandler) SetInterval(ctx context.Context, input *SetIntervalInput) (*StatusOutput, error) {
	d, err := time.ParseDuration(input.Body.Interval)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("invalid interval %q", input.Body.Interval))
	}
	if err := h.products.SetInterval(ctx, input.ID, d); err != nil {
		return nil, apiError(err, "setting product interval")
	}
	return statusOutput("updated"), nil
}

// RegisterProductRoutes registers product endpoints with the Huma API.
func RegisterProductRoutes(api huma.API, h *ProductHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-products",
		Method:      http.MethodGet,
		Path:        "/api/v1/products",
		Summary:     "List products",
		Description: "Returns all tracked products, optionally only the enabled ones.",
		Tags:        []string{"products"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "get-product",
		Method:      http.MethodGet,
		Path:        "/api/v1/products/{id}",
		Summary:     "Get a product by ID",
		Tags:        []string{"products"},
		Errors:      []int{http.StatusNotFound},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "create-product",
		Method:        http.MethodPost,
		Path:          "/api/v1/products",
		Summary:       "Track a product",
		Description:   "Validates and stores a product. Its first check is due immediately.",
		Tags:          []string{"products"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict, http.StatusUnprocessableEntity},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "update-product",
		Method:      http.MethodPut,
		Path:        "/api/v1/products/{id}",
		Summary:     "Update a product",
		Tags:        []string{"products"},
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-product",
		Method:        http.MethodDelete,
		Path:          "/api/v1/products/{id}",
		Summary:       "Stop tracking a product",
		Tags:          []string{"products"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "set-product-enabled",
		Method:      http.MethodPut,
		Path:        "/api/v1/products/{id}/enabled",
		Summary:     "Enable or disable a product",
		Tags:        []string{"products"},
		Errors:      []int{http.StatusNotFound},
	}, h.SetEnabled)

	huma.Register(api, huma.Operation{
		OperationID: "set-product-interval",
		Method:      http.MethodPut,
		Path:        "/api/v1/products/{id}/interval",
		Summary:     "Change a product's polling interval",
		Tags:        []string{"products"},
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, h.SetInterval)
}
