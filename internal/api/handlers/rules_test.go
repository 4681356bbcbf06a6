package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/price-watch/pkg/extract"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

func TestRulesHandler_List(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	resp := env.api.Get("/api/v1/rules")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"name":"generic"`)
}

func TestRulesHandler_Preview(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	env.fetcher.set("https://shop.example.com/widget", shopPage("49.90"))

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		check      func(*testing.T, extract.PreviewResult)
	}{
		{
			name: "css selector matches",
			body: map[string]any{
				"url": "https://shop.example.com/widget", "kind": "css", "selector": "span.price",
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, res extract.PreviewResult) {
				t.Helper()
				require.NotNil(t, res.Amount)
				assert.Equal(t, "49.9", res.Amount.String())
				assert.Equal(t, "Widget", res.Title)
				require.Len(t, res.Matches, 1)
				assert.Contains(t, res.Matches[0], "49.90")
			},
		},
		{
			name: "selector without matches",
			body: map[string]any{
				"url": "https://shop.example.com/widget", "kind": "css", "selector": ".nope",
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, res extract.PreviewResult) {
				t.Helper()
				assert.Nil(t, res.Amount)
				assert.Equal(t, extract.KindNoStrategyMatched, res.ErrorKind)
			},
		},
		{
			name: "page fetch fails",
			body: map[string]any{
				"url": "https://shop.example.com/gone", "kind": "jsonld",
			},
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "invalid url",
			body: map[string]any{
				"url": "not a url", "kind": "css", "selector": "span",
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown kind",
			body: map[string]any{
				"url": "https://shop.example.com/widget", "kind": "regex",
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.api.Post("/api/v1/rules/preview", tt.body)
			require.Equal(t, tt.wantStatus, resp.Code, resp.Body.String())
			if tt.check != nil {
				var res extract.PreviewResult
				require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &res))
				tt.check(t, res)
			}
		})
	}
}

func TestStreamHandler(t *testing.T) {
	t.Parallel()

	env := newAPIEnv(t)
	feed := env.eng.Feed()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan string, 1)
	go func() {
		resp := env.api.GetCtx(ctx, "/api/v1/events/stream?product_id=p1")
		done <- resp.Body.String()
	}()

	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	feed.Publish(domain.ChangeEvent{ID: "e-other", ProductID: "p2", Kind: domain.ChangePriceRise})
	feed.Publish(domain.ChangeEvent{ID: "e-1", ProductID: "p1", Kind: domain.ChangePriceDrop})
	feed.Close()

	body := <-done
	assert.Contains(t, body, "event: change")
	assert.Contains(t, body, `"id":"e-1"`)
	assert.NotContains(t, body, "e-other")
}
