package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/price-watch/pkg/extract"
	"github.com/donaldgifford/price-watch/pkg/rules"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// RuleService lists site rules and previews selectors.
type RuleService interface {
	Rules() []*rules.SiteRule
	Preview(ctx context.Context, rawURL string, s rules.Strategy, mode domain.FetchMode) (*extract.PreviewResult, error)
}

// RulesHandler serves site rules and selector previews.
type RulesHandler struct {
	rules RuleService
}

// NewRulesHandler creates a RulesHandler.
func NewRulesHandler(s RuleService) *RulesHandler {
	return &RulesHandler{rules: s}
}

// ListRulesOutput lists the active site rules.
type ListRulesOutput struct {
	Body []*rules.SiteRule
}

// PreviewInput describes a selector to try against a live page.
type PreviewInput struct {
	Body struct {
		URL       string             `json:"url"                  doc:"Page to fetch"                 minLength:"1"`
		Kind      rules.StrategyKind `json:"kind"                 doc:"Strategy kind"                 enum:"css,xpath,jsonld,meta"`
		Selector  string             `json:"selector,omitempty"   doc:"Selector, XPath or meta property"`
		Attr      string             `json:"attr,omitempty"       doc:"Read this attribute instead of node text"`
		FetchMode domain.FetchMode   `json:"fetch_mode,omitempty" doc:"Fetch mode"                    enum:"auto,http,browser"`
	}
}

// PreviewOutput is what the selector found.
type PreviewOutput struct {
	Body *extract.PreviewResult
}

// List returns the active site rules with their current strategy order.
func (h *RulesHandler) List(_ context.Context, _ *struct{}) (*ListRulesOutput, error) {
	return &ListRulesOutput{Body: h.rules.Rules()}, nil
}

// Preview fetches a page and evaluates one strategy against it.
func (h *RulesHandler) Preview(ctx context.Context, input *PreviewInput) (*PreviewOutput, error) {
	s := rules.Strategy{
		Name:     "preview",
		Kind:     input.Body.Kind,
		Selector: input.Body.Selector,
		Attr:     input.Body.Attr,
	}
	res, err := h.rules.Preview(ctx, input.Body.URL, s, input.Body.FetchMode)
	if err != nil {
		return nil, apiError(err, "previewing selector")
	}
	return &PreviewOutput{Body: res}, nil
}

// RegisterRuleRoutes registers rule endpoints with the Huma API.
func RegisterRuleRoutes(api huma.API, h *RulesHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/api/v1/rules",
		Summary:     "List site rules",
		Description: "Returns the active site rules, including promoted strategy order.",
		Tags:        []string{"rules"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "preview-rule",
		Method:      http.MethodPost,
		Path:        "/api/v1/rules/preview",
		Summary:     "Preview a selector",
		Description: "Fetches a page and reports what a single strategy extracts from it.",
		Tags:        []string{"rules"},
		Errors:      []int{http.StatusUnprocessableEntity, http.StatusBadGateway},
	}, h.Preview)
}
