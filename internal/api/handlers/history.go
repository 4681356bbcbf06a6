package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/price-watch/internal/store"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// HistoryReader reads stored observations and change events.
type HistoryReader interface {
	Product(ctx context.Context, id string) (*domain.TrackedProduct, error)
	History(ctx context.Context, id string, limit int) ([]domain.Observation, error)
	Latest(ctx context.Context, id string) (*domain.Observation, error)
	Events(ctx context.Context, q *store.EventQuery) ([]domain.ChangeEvent, error)
}

// HistoryHandler serves price history and change events.
type HistoryHandler struct {
	reader HistoryReader
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(r HistoryReader) *HistoryHandler {
	return &HistoryHandler{reader: r}
}

const defaultHistoryLimit = 100

// GetHistoryInput selects a product's history.
type GetHistoryInput struct {
	ID    string `path:"id"     doc:"Product UUID"`
	Limit int    `query:"limit" doc:"Number of newest observations (default 100)" minimum:"0" maximum:"10000"`
}

// GetHistoryOutput is a product's history, oldest first.
type GetHistoryOutput struct {
	Body struct {
		ProductID    string               `json:"product_id"`
		Observations []domain.Observation `json:"observations"`
	}
}

// LatestOutput is a product's newest observation.
type LatestOutput struct {
	Body *domain.Observation
}

// ListEventsInput filters change events.
type ListEventsInput struct {
	ProductID string   `query:"product_id" doc:"Filter by product UUID"`
	Kind      []string `query:"kind"       doc:"Filter by change kind"                     enum:"baseline,price_drop,price_rise,back_in_stock,out_of_stock,parse_error"`
	Limit     int      `query:"limit"      doc:"Number of results (default 50)"            minimum:"0" maximum:"1000"`
	Offset    int      `query:"offset"     doc:"Pagination offset"                         minimum:"0"`
}

// ListEventsOutput lists change events, newest first.
type ListEventsOutput struct {
	Body []domain.ChangeEvent
}

// History returns a product's observations.
func (h *HistoryHandler) History(ctx context.Context, input *GetHistoryInput) (*GetHistoryOutput, error) {
	if _, err := h.reader.Product(ctx, input.ID); err != nil {
		return nil, apiError(err, "getting product")
	}
	limit := input.Limit
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	obs, err := h.reader.History(ctx, input.ID, limit)
	if err != nil {
		return nil, apiError(err, "reading history")
	}
	if obs == nil {
		obs = []domain.Observation{}
	}

	resp := &GetHistoryOutput{}
	resp.Body.ProductID = input.ID
	resp.Body.Observations = obs
	return resp, nil
}

// Latest returns a product's newest observation.
func (h *HistoryHandler) Latest(ctx context.Context, input *ProductIDInput) (*LatestOutput, error) {
	if _, err := h.reader.Product(ctx, input.ID); err != nil {
		return nil, apiError(err, "getting product")
	}
	obs, err := h.reader.Latest(ctx, input.ID)
	if err != nil {
		return nil, apiError(err, "reading latest observation")
	}
	if obs == nil {
		return nil, huma.Error404NotFound("no observations yet")
	}
	return &LatestOutput{Body: obs}, nil
}

// Events lists stored change events.
func (h *HistoryHandler) Events(ctx context.Context, input *ListEventsInput) (*ListEventsOutput, error) {
	q := &store.EventQuery{Limit: input.Limit, Offset: input.Offset}
	if input.ProductID != "" {
		q.ProductID = &input.ProductID
	}
	for _, k := range input.Kind {
		q.Kinds = append(q.Kinds, domain.ChangeKind(k))
	}

	events, err := h.reader.Events(ctx, q)
	if err != nil {
		return nil, apiError(err, "listing events")
	}
	if events == nil {
		events = []domain.ChangeEvent{}
	}
	return &ListEventsOutput{Body: events}, nil
}

// RegisterHistoryRoutes registers history and event endpoints with the Huma API.
func RegisterHistoryRoutes(api huma.API, h *HistoryHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-product-history",
		Method:      http.MethodGet,
		Path:        "/api/v1/products/{id}/history",
		Summary:     "Get price history",
		Description: "Returns a product's newest observations, oldest first.",
		Tags:        []string{"history"},
		Errors:      []int{http.StatusNotFound},
	}, h.History)

	huma.Register(api, huma.Operation{
		OperationID: "get-product-latest",
		Method:      http.MethodGet,
		Path:        "/api/v1/products/{id}/latest",
		Summary:     "Get the latest observation",
		Tags:        []string{"history"},
		Errors:      []int{http.StatusNotFound},
	}, h.Latest)

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/api/v1/events",
		Summary:     "List change events",
		Description: "Returns stored change events, newest first.",
		Tags:        []string{"events"},
	}, h.Events)
}
