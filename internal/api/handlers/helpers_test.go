package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/price-watch/internal/api/handlers"
	"github.com/donaldgifford/price-watch/internal/engine"
	"github.com/donaldgifford/price-watch/internal/fetch"
	"github.com/donaldgifford/price-watch/internal/history"
	"github.com/donaldgifford/price-watch/internal/store"
	"github.com/donaldgifford/price-watch/pkg/extract"
	"github.com/donaldgifford/price-watch/pkg/rules"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func shopPage(price string) string {
	return fmt.Sprintf(`<html lang="en"><head><title>Widget</title></head><body>
<meta itemprop="price" content="%s">
<meta itemprop="priceCurrency" content="EUR">
<link itemprop="availability" href="https://schema.org/InStock">
<span class="price">%s €</span>
</body></html>`, price, price)
}

// pageFetcher serves canned pages and answers 404 for anything else.
type pageFetcher struct {
	mu    sync.Mutex
	pages map[string]string
}

func (f *pageFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = body
}

func (f *pageFetcher) Fetch(_ context.Context, rawURL string, _ domain.FetchMode) (*domain.RawPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, &fetch.Error{Kind: fetch.KindHTTP, URL: rawURL, Status: http.StatusNotFound}
	}
	return &domain.RawPage{
		URL:        rawURL,
		FinalURL:   rawURL,
		StatusCode: http.StatusOK,
		Body:       []byte(body),
		Mode:       domain.FetchModeHTTP,
		FetchedAt:  time.Now(),
	}, nil
}

type apiEnv struct {
	api     humatest.TestAPI
	eng     *engine.Engine
	store   *store.MemoryStore
	fetcher *pageFetcher
}

// newAPIEnv wires a real engine over the in-memory store and registers
// every huma route on a test API.
func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	ms := store.NewMemoryStore()
	h, err := history.New(ms, 10*time.Minute, history.WithLogger(quietLogger()))
	require.NoError(t, err)
	reg, err := rules.NewRegistry(2, nil, rules.WithLogger(quietLogger()))
	require.NoError(t, err)
	x := extract.New(extract.WithReporter(reg), extract.WithLogger(quietLogger()))
	pf := &pageFetcher{pages: make(map[string]string)}

	eng := engine.NewEngine(ms, h, reg, x, pf, nil,
		engine.WithLogger(quietLogger()),
		engine.WithIntervals(time.Minute, time.Hour),
	)

	_, api := humatest.New(t)
	registerAll(api, eng, ms)
	return &apiEnv{api: api, eng: eng, store: ms, fetcher: pf}
}

func registerAll(api huma.API, eng *engine.Engine, s store.Store) {
	handlers.RegisterProductRoutes(api, handlers.NewProductHandler(eng))
	handlers.RegisterHistoryRoutes(api, handlers.NewHistoryHandler(eng))
	handlers.RegisterStatusRoutes(api, handlers.NewStatusHandler(eng))
	handlers.RegisterRuleRoutes(api, handlers.NewRulesHandler(eng))
	handlers.RegisterJobRoutes(api, handlers.NewJobsHandler(s))
	handlers.RegisterStreamRoutes(api, handlers.NewStreamHandler(eng.Feed()))
}

// createProduct adds a product through the API and returns it.
func (env *apiEnv) createProduct(t *testing.T, url string) domain.TrackedProduct {
	t.Helper()
	resp := env.api.Post("/api/v1/products", map[string]any{
		"url":  url,
		"name": "Widget",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var p domain.TrackedProduct
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &p))
	return p
}
