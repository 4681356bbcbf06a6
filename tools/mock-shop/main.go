// Package main implements a mock web shop for local development.
// It serves product pages in several layouts (JSON-LD, CSS-only, meta tags,
// bot walls, flaky upstreams) whose prices and stock can be changed at
// runtime, so price-watch can be exercised end to end without real sites.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Page layouts. Each one exercises a different extraction path.
const (
	layoutJSONLD  = "jsonld"
	layoutCSS     = "css"
	layoutMeta    = "meta"
	layoutBlocked = "blocked"
	layoutFlaky   = "flaky"
)

type item struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	InStock  bool            `json:"in_stock"`
	Layout   string          `json:"layout"`
}

type shop struct {
	mu    sync.Mutex
	items map[string]*item
	hits  map[string]int
}

func defaultCatalog() []item {
	return []item{
		{ID: "espresso", Name: "Espresso Machine", Price: decimal.RequireFromString("349.00"), Currency: "EUR", InStock: true, Layout: layoutJSONLD},
		{ID: "headphones", Name: "Noise Cancelling Headphones", Price: decimal.RequireFromString("199.99"), Currency: "USD", InStock: true, Layout: layoutCSS},
		{ID: "kettle", Name: "Gooseneck Kettle", Price: decimal.RequireFromString("59.50"), Currency: "GBP", InStock: false, Layout: layoutMeta},
		{ID: "walled", Name: "Limited Sneaker", Price: decimal.RequireFromString("180.00"), Currency: "USD", InStock: true, Layout: layoutBlocked},
		{ID: "flaky", Name: "Budget Keyboard", Price: decimal.RequireFromString("24.99"), Currency: "USD", InStock: true, Layout: layoutFlaky},
	}
}

func newShop(catalog []item) *shop {
	s := &shop{items: make(map[string]*item, len(catalog)), hits: make(map[string]int)}
	for i := range catalog {
		it := catalog[i]
		s.items[it.ID] = &it
	}
	return s
}

func main() {
	port := flag.Int("port", 8090, "port to listen on")
	catalogFile := flag.String("catalog", "", "optional JSON file with the initial catalog")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	catalog := defaultCatalog()
	if *catalogFile != "" {
		var err error
		catalog, err = loadCatalog(*catalogFile)
		if err != nil {
			logger.Error("failed to load catalog", "path", *catalogFile, "error", err)
			os.Exit(1)
		}
	}
	logger.Info("loaded catalog", "items", len(catalog))

	s := newShop(catalog)
	addr := fmt.Sprintf(":%d", *port)
	logger.Info("starting mock shop", "addr", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      requestLogger(logger, s.routes(logger)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func (s *shop) routes(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /p/{id}", s.productHandler(logger))
	mux.HandleFunc("GET /admin/items", s.listHandler())
	mux.HandleFunc("POST /admin/items/{id}", s.updateHandler(logger))
	return mux
}

func loadCatalog(path string) ([]item, error) {
	data, err := os.ReadFile(path) //nolint:gosec // catalog path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var items []item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	for i := range items {
		if items[i].ID == "" {
			return nil, fmt.Errorf("catalog item %d: id is required", i)
		}
		if items[i].Layout == "" {
			items[i].Layout = layoutJSONLD
		}
		if items[i].Currency == "" {
			items[i].Currency = "USD"
		}
	}
	return items, nil
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("request", "method", r.Method, "path", r.URL.Path, "ua", r.UserAgent())
		next.ServeHTTP(w, r)
	})
}

// snapshot returns a copy of the item and its hit count after this request.
func (s *shop) snapshot(id string) (item, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return item{}, 0, false
	}
	s.hits[id]++
	return *it, s.hits[id], true
}

func (s *shop) productHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		it, hits, ok := s.snapshot(r.PathValue("id"))
		if !ok {
			http.NotFound(w, r)
			return
		}

		switch it.Layout {
		case layoutBlocked:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("cf-mitigated", "challenge")
			w.WriteHeader(http.StatusForbidden)
			//nolint:errcheck,gosec // best-effort write to HTTP response in mock server
			w.Write([]byte(blockedPage))
			logger.Info("served challenge", "id", it.ID)
			return
		case layoutFlaky:
			// Every other request fails.
			if hits%2 == 0 {
				http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
				logger.Info("served failure", "id", it.ID, "hits", hits)
				return
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := renderProduct(w, &it); err != nil {
			logger.Error("rendering page", "id", it.ID, "error", err)
			return
		}
		logger.Info("served product", "id", it.ID, "layout", it.Layout, "price", it.Price.StringFixed(2), "in_stock", it.InStock)
	}
}

func (s *shop) listHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		out := make([]item, 0, len(s.items))
		for _, it := range s.items {
			out = append(out, *it)
		}
		s.mu.Unlock()
		slices.SortFunc(out, func(a, b item) int { return strings.Compare(a.ID, b.ID) })

		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck,gosec // best-effort write to HTTP response in mock server
		json.NewEncoder(w).Encode(out)
	}
}

// itemUpdate changes an item in place; omitted fields are left alone.
type itemUpdate struct {
	Price   *decimal.Decimal `json:"price"`
	InStock *bool            `json:"in_stock"`
	Layout  *string          `json:"layout"`
}

func (s *shop) updateHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var upd itemUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if upd.Price != nil && upd.Price.IsNegative() {
			http.Error(w, "price must not be negative", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		it, ok := s.items[r.PathValue("id")]
		if ok {
			if upd.Price != nil {
				it.Price = *upd.Price
			}
			if upd.InStock != nil {
				it.InStock = *upd.InStock
			}
			if upd.Layout != nil {
				it.Layout = *upd.Layout
			}
		}
		var cp item
		if ok {
			cp = *it
		}
		s.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck,gosec // best-effort write to HTTP response in mock server
		json.NewEncoder(w).Encode(cp)
		logger.Info("updated item", "id", cp.ID, "price", cp.Price.StringFixed(2), "in_stock", cp.InStock)
	}
}

type pageData struct {
	Item         *item
	Price        string
	Availability string
	Layout       string
	JSONLD       template.JS
}

func renderProduct(w http.ResponseWriter, it *item) error {
	availability := "https://schema.org/OutOfStock"
	if it.InStock {
		availability = "https://schema.org/InStock"
	}
	data := pageData{
		Item:         it,
		Price:        it.Price.StringFixed(2),
		Availability: availability,
		Layout:       it.Layout,
	}
	if it.Layout == layoutJSONLD || it.Layout == layoutFlaky {
		ld, err := json.Marshal(map[string]any{
			"@context": "https://schema.org",
			"@type":    "Product",
			"name":     it.Name,
			"sku":      it.ID,
			"offers": map[string]any{
				"@type":         "Offer",
				"price":         data.Price,
				"priceCurrency": it.Currency,
				"availability":  availability,
			},
		})
		if err != nil {
			return err
		}
		data.JSONLD = template.JS(ld) //nolint:gosec // marshalled from trusted catalog data
	}
	return productTmpl.Execute(w, data)
}

var productTmpl = template.Must(template.New("product").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Item.Name}} | Mock Shop</title>
{{- if eq .Layout "meta"}}
<meta property="og:title" content="{{.Item.Name}}">
<meta property="product:price:amount" content="{{.Price}}">
<meta property="product:price:currency" content="{{.Item.Currency}}">
<meta property="og:availability" content="{{if .Item.InStock}}instock{{else}}oos{{end}}">
{{- end}}
{{- if .JSONLD}}
<script type="application/ld+json">{{.JSONLD}}</script>
{{- end}}
</head>
<body>
<h1 class="product-title">{{.Item.Name}}</h1>
{{- if eq .Layout "css"}}
<div class="price-box">
  <span class="price-was">Was {{.Item.Currency}} 999.99</span>
  <span class="price-now" data-price="{{.Price}}">{{.Item.Currency}} {{.Price}}</span>
</div>
<p class="stock">{{if .Item.InStock}}In stock{{else}}Currently unavailable{{end}}</p>
{{- end}}
<footer>Mock Shop</footer>
</body>
</html>
`))

const blockedPage = `<!doctype html>
<html><head><title>Just a moment...</title></head>
<body>
<div id="cf-browser-verification">Checking your browser before accessing the shop.</div>
<script src="/cdn-cgi/challenge-platform/h/b/orchestrate/chl_page/v1"></script>
</body></html>
`
