package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/donaldgifford/price-watch/internal/engine"
	"github.com/donaldgifford/price-watch/pkg/extract"
	"github.com/donaldgifford/price-watch/pkg/rules"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// EventFilter narrows ListEvents.
type EventFilter struct {
	ProductID string
	Kinds     []domain.ChangeKind
	Limit     int
	Offset    int
}

func (f EventFilter) query() string {
	v := url.Values{}
	if f.ProductID != "" {
		v.Set("product_id", f.ProductID)
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		v.Set("kind", strings.Join(kinds, ","))
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		v.Set("offset", strconv.Itoa(f.Offset))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// ListEvents returns stored change events, newest first.
func (c *Client) ListEvents(ctx context.Context, f EventFilter) ([]domain.ChangeEvent, error) {
	var events []domain.ChangeEvent
	if err := c.get(ctx, "/api/v1/events"+f.query(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// StreamEvents calls fn for every change event the server pushes until ctx
// is done, the server closes the stream, or fn returns an error.
func (c *Client) StreamEvents(ctx context.Context, productID string, fn func(domain.ChangeEvent) error) error {
	req := c.rc.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true)
	if productID != "" {
		req.SetQueryParam("product_id", productID)
	}

	resp, err := req.Get("/api/v1/events/stream")
	if err != nil {
		if isConnectionRefused(err) {
			return fmt.Errorf("API server not running at %s", c.baseURL)
		}
		return fmt.Errorf("opening event stream: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return &APIError{Status: resp.StatusCode(), Body: "event stream unavailable"}
	}

	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var ev domain.ChangeEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			return fmt.Errorf("decoding event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}

// Status returns the scheduler view of every product.
func (c *Client) Status(ctx context.Context) (*engine.Status, error) {
	var st engine.Status
	if err := c.get(ctx, "/api/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListRules returns the active site rules.
func (c *Client) ListRules(ctx context.Context) ([]rules.SiteRule, error) {
	var out []rules.SiteRule
	if err := c.get(ctx, "/api/v1/rules", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PreviewRequest is a selector to try against a live page.
type PreviewRequest struct {
	URL       string             `json:"url"`
	Kind      rules.StrategyKind `json:"kind"`
	Selector  string             `json:"selector,omitempty"`
	Attr      string             `json:"attr,omitempty"`
	FetchMode domain.FetchMode   `json:"fetch_mode,omitempty"`
}

// Preview fetches a page on the server and evaluates one selector.
func (c *Client) Preview(ctx context.Context, req *PreviewRequest) (*extract.PreviewResult, error) {
	var res extract.PreviewResult
	if err := c.post(ctx, "/api/v1/rules/preview", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListJobs returns the most recent run of each scheduled job.
func (c *Client) ListJobs(ctx context.Context) ([]domain.JobRun, error) {
	var runs []domain.JobRun
	if err := c.get(ctx, "/api/v1/jobs", &runs); err != nil {
		return nil, err
	}
	return runs, nil
}
