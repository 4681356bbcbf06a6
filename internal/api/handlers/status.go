package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/price-watch/internal/engine"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// Checker runs manual checks and reports schedule state.
type Checker interface {
	CheckNow(ctx context.Context, id string) (*engine.CheckResult, error)
	Status(ctx context.Context) (*engine.Status, error)
	ProductStatus(id string) (domain.ProductStatus, bool)
}

// StatusHandler serves scheduler state and manual checks.
type StatusHandler struct {
	checker Checker
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(c Checker) *StatusHandler {
	return &StatusHandler{checker: c}
}

// SchedulerStatusOutput is the response for GET /api/v1/status.
type SchedulerStatusOutput struct {
	Body *engine.Status
}

// ProductStatusOutput is one product's schedule state.
type ProductStatusOutput struct {
	Body domain.ProductStatus
}

// CheckOutput is the result of a manual check.
type CheckOutput struct {
	Body *engine.CheckResult
}

// Status returns the schedule state of every product plus aggregate counts.
func (h *StatusHandler) Status(ctx context.Context, _ *struct{}) (*SchedulerStatusOutput, error) {
	st, err := h.checker.Status(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get status")
	}
	if st.Products == nil {
		st.Products = []domain.ProductStatus{}
	}
	return &SchedulerStatusOutput{Body: st}, nil
}

// ProductStatus returns one product's schedule state.
func (h *StatusHandler) ProductStatus(_ context.Context, input *ProductIDInput) (*ProductStatusOutput, error) {
	st, ok := h.checker.ProductStatus(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("product not scheduled")
	}
	return &ProductStatusOutput{Body: st}, nil
}

// Check runs the pipeline for a product right away.
func (h *StatusHandler) Check(ctx context.Context, input *ProductIDInput) (*CheckOutput, error) {
	res, err := h.checker.CheckNow(ctx, input.ID)
	if err != nil {
		return nil, apiError(err, "checking product")
	}
	return &CheckOutput{Body: res}, nil
}

// RegisterStatusRoutes registers status and manual check routes on the Huma API.
func RegisterStatusRoutes(api huma.API, h *StatusHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Get scheduler status",
		Description: "Returns every product's schedule state, including degraded products, and aggregate counts.",
		Tags:        []string{"system"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "get-product-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/products/{id}/status",
		Summary:     "Get a product's schedule state",
		Tags:        []string{"system"},
		Errors:      []int{http.StatusNotFound},
	}, h.ProductStatus)

	huma.Register(api, huma.Operation{
		OperationID: "check-product",
		Method:      http.MethodPost,
		Path:        "/api/v1/products/{id}/check",
		Summary:     "Check a product now",
		Description: "Fetches and extracts the product page immediately. " +
			"Fetch and extraction failures are reported in the result body.",
		Tags:   []string{"products"},
		Errors: []int{http.StatusNotFound, http.StatusConflict},
	}, h.Check)
}
