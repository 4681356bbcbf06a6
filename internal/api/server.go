// Package api assembles the HTTP surface of price-watch: huma operations
// mounted on echo, probes, and the Prometheus scrape endpoint.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/donaldgifford/price-watch/internal/api/handlers"
	mw "github.com/donaldgifford/price-watch/internal/api/middleware"
	"github.com/donaldgifford/price-watch/internal/engine"
	"github.com/donaldgifford/price-watch/internal/store"
)

// Options configures the server.
type Options struct {
	Engine         *engine.Engine
	Store          store.Store
	Logger         *slog.Logger
	Version        string
	TracerProvider trace.TracerProvider
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// New builds the echo instance with every route registered.
func New(o Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = o.ReadTimeout
	// The event stream is long-lived, so a write timeout would cut it off.
	e.Server.WriteTimeout = 0

	e.Use(mw.Recovery(o.Logger))
	e.Use(mw.RequestLog(o.Logger))
	e.Use(mw.Tracing(o.TracerProvider))
	e.Use(mw.Metrics())

	health := handlers.NewHealthHandler(o.Store)
	e.GET("/healthz", health.Healthz)
	e.GET("/readyz", health.Readyz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	Register(NewHumaAPI(e, o.Version), o.Engine, o.Store, o.WriteTimeout)
	return e
}

// NewHumaAPI mounts a huma API on e. It serves /openapi.json and /docs.
func NewHumaAPI(e *echo.Echo, version string) huma.API {
	cfg := huma.DefaultConfig("price-watch API", version)
	cfg.Info.Description = "Tracks product prices, stores their history and reports changes."
	return humaecho.New(e, cfg)
}

// Register adds every price-watch operation to api. Operations other
// than the event stream are bounded by opTimeout when it is positive.
func Register(api huma.API, eng *engine.Engine, s store.Store, opTimeout time.Duration) {
	if opTimeout > 0 {
		api.UseMiddleware(timeoutMiddleware(opTimeout))
	}
	handlers.RegisterProductRoutes(api, handlers.NewProductHandler(eng))
	handlers.RegisterHistoryRoutes(api, handlers.NewHistoryHandler(eng))
	handlers.RegisterStatusRoutes(api, handlers.NewStatusHandler(eng))
	handlers.RegisterRuleRoutes(api, handlers.NewRulesHandler(eng))
	handlers.RegisterJobRoutes(api, handlers.NewJobsHandler(s))
	handlers.RegisterStreamRoutes(api, handlers.NewStreamHandler(eng.Feed()))
}

func timeoutMiddleware(d time.Duration) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if ctx.Operation().Path == handlers.StreamPath {
			next(ctx)
			return
		}
		c, cancel := context.WithTimeout(ctx.Context(), d)
		defer cancel()
		next(huma.WithContext(ctx, c))
	}
}
