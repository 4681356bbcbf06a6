// Package fetch retrieves product pages over plain HTTP or through a
// pooled headless browser.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/donaldgifford/price-watch/internal/metrics"
	"github.com/donaldgifford/price-watch/pkg/logger"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

const tracerName = "github.com/donaldgifford/price-watch/internal/fetch"

// PageFetcher retrieves a single page in one way.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*domain.RawPage, error)
}

// Router picks the fetch path for a mode. It makes exactly one attempt per
// path and never retries on its own; the only second request is the
// browser fallback for a blocked lightweight fetch.
type Router struct {
	http     PageFetcher
	browser  PageFetcher
	limiter  *HostLimiter
	fallback bool
	maxWait  time.Duration
	tracer   trace.Tracer
	log      *slog.Logger
}

// RouterOption configures the Router.
type RouterOption func(*Router)

// WithBrowser enables browser fetching.
func WithBrowser(f PageFetcher) RouterOption {
	return func(r *Router) {
		r.browser = f
	}
}

// WithHostLimiter applies per-host politeness to both paths.
func WithHostLimiter(l *HostLimiter) RouterOption {
	return func(r *Router) {
		r.limiter = l
	}
}

// WithBrowserFallback retries a blocked lightweight fetch in the browser.
func WithBrowserFallback(enabled bool) RouterOption {
	return func(r *Router) {
		r.fallback = enabled
	}
}

// WithMaxWait bounds how long a fetch may queue behind the per-host limiter.
func WithMaxWait(d time.Duration) RouterOption {
	return func(r *Router) {
		r.maxWait = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		r.log = l
	}
}

// NewRouter creates a Router over the lightweight fetcher.
func NewRouter(httpFetcher PageFetcher, opts ...RouterOption) *Router {
	r := &Router{
		http:   httpFetcher,
		tracer: otel.Tracer(tracerName),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.Component(r.log, "fetch")
	return r
}

// BrowserEnabled reports whether browser fetching is configured.
func (r *Router) BrowserEnabled() bool {
	return r.browser != nil
}

// Fetch retrieves rawURL. FetchModeAuto behaves like FetchModeHTTP.
func (r *Router) Fetch(ctx context.Context, rawURL string, mode domain.FetchMode) (*domain.RawPage, error) {
	ctx, span := r.tracer.Start(ctx, "fetch.Fetch", trace.WithAttributes(
		attribute.String("url", rawURL),
		attribute.String("mode", string(mode)),
	))
	defer span.End()

	page, err := r.fetch(ctx, rawURL, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("status", page.StatusCode),
		attribute.String("served_by", string(page.Mode)),
	)
	return page, nil
}

func (r *Router) fetch(ctx context.Context, rawURL string, mode domain.FetchMode) (*domain.RawPage, error) {
	host, err := validateURL(rawURL)
	if err != nil {
		metrics.FetchErrorsTotal.WithLabelValues(string(mode), string(KindInvalidURL)).Inc()
		return nil, err
	}

	if mode == domain.FetchModeBrowser {
		return r.attempt(ctx, host, rawURL, domain.FetchModeBrowser)
	}

	page, err := r.attempt(ctx, host, rawURL, domain.FetchModeHTTP)
	if err == nil || !IsBlocked(err) || !r.fallback || r.browser == nil {
		return page, err
	}

	metrics.BrowserFallbacksTotal.Inc()
	r.log.Info("lightweight fetch blocked, retrying in browser", "url", rawURL)
	return r.attempt(ctx, host, rawURL, domain.FetchModeBrowser)
}

func (r *Router) attempt(
	ctx context.Context,
	host, rawURL string,
	mode domain.FetchMode,
) (*domain.RawPage, error) {
	f := r.http
	if mode == domain.FetchModeBrowser {
		f = r.browser
	}
	if f == nil {
		err := &Error{Kind: KindBrowserCrash, URL: rawURL, Err: ErrBrowserUnavailable}
		metrics.FetchErrorsTotal.WithLabelValues(string(mode), string(err.Kind)).Inc()
		return nil, err
	}

	if err := r.wait(ctx, host); err != nil {
		fe := &Error{Kind: KindTimeout, URL: rawURL, Err: err}
		metrics.FetchErrorsTotal.WithLabelValues(string(mode), string(fe.Kind)).Inc()
		return nil, fe
	}

	start := time.Now()
	page, err := f.Fetch(ctx, rawURL)
	metrics.FetchDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	if err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			fe = &Error{Kind: classifyTransport(err), URL: rawURL, Err: err}
		}
		metrics.FetchErrorsTotal.WithLabelValues(string(mode), string(fe.Kind)).Inc()
		r.log.Debug("fetch failed", "url", rawURL, "mode", mode, "kind", fe.Kind, "error", err)
		return nil, fe
	}
	return page, nil
}

// wait blocks on the host limiter for at most maxWait.
func (r *Router) wait(ctx context.Context, host string) error {
	if r.maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.maxWait)
		defer cancel()
	}
	return r.limiter.Wait(ctx, host)
}

func validateURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", &Error{Kind: KindInvalidURL, URL: rawURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &Error{
			Kind: KindInvalidURL,
			URL:  rawURL,
			Err:  fmt.Errorf("unsupported scheme %q", u.Scheme),
		}
	}
	if u.Hostname() == "" {
		return "", &Error{Kind: KindInvalidURL, URL: rawURL, Err: errors.New("missing host")}
	}
	return u.Hostname(), nil
}

// ValidateURL checks that rawURL can be fetched.
func ValidateURL(rawURL string) error {
	_, err := validateURL(rawURL)
	return err
}
