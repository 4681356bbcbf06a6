package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"

	"github.com/donaldgifford/price-watch/pkg/logger"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 8 << 20
	defaultMaxRedirects = 10
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// browserHeaders are sent on every lightweight request so shops serve the
// same markup they give a desktop browser.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "bg-BG,bg;q=0.9,en-US;q=0.8,en;q=0.7",
	"Cache-Control":             "no-cache",
	"Pragma":                    "no-cache",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
}

// HTTPFetcher retrieves pages without rendering them.
type HTTPFetcher struct {
	client       *resty.Client
	maxBodyBytes int64
	log          *slog.Logger
}

// HTTPOption configures the HTTPFetcher.
type HTTPOption func(*httpSettings)

type httpSettings struct {
	timeout          time.Duration
	maxBodyBytes     int64
	maxRedirects     int
	userAgent        string
	acceptLanguage   string
	cloudflareBypass bool
	transport        http.RoundTripper
	log              *slog.Logger
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *httpSettings) {
		s.timeout = d
	}
}

// WithMaxBodyBytes caps how much of a response body is kept.
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(s *httpSettings) {
		s.maxBodyBytes = n
	}
}

// WithMaxRedirects caps the redirect chain length.
func WithMaxRedirects(n int) HTTPOption {
	return func(s *httpSettings) {
		s.maxRedirects = n
	}
}

// WithUserAgent overrides the default desktop Chrome user agent.
func WithUserAgent(ua string) HTTPOption {
	return func(s *httpSettings) {
		s.userAgent = ua
	}
}

// WithAcceptLanguage overrides the Accept-Language header.
func WithAcceptLanguage(v string) HTTPOption {
	return func(s *httpSettings) {
		s.acceptLanguage = v
	}
}

// WithCloudflareBypass wraps the transport so its TLS and header
// fingerprint resemble a browser.
func WithCloudflareBypass(enabled bool) HTTPOption {
	return func(s *httpSettings) {
		s.cloudflareBypass = enabled
	}
}

// WithTransport overrides the underlying round tripper.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(s *httpSettings) {
		s.transport = rt
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(s *httpSettings) {
		s.log = l
	}
}

// NewHTTPFetcher creates a lightweight fetcher. The client keeps a cookie
// jar so session cookies set by a shop survive between checks.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	s := httpSettings{
		timeout:      defaultTimeout,
		maxBodyBytes: defaultMaxBodyBytes,
		maxRedirects: defaultMaxRedirects,
		userAgent:    defaultUserAgent,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	client := resty.New().
		SetTimeout(s.timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(s.maxRedirects)).
		SetHeaders(browserHeaders).
		SetHeader("User-Agent", s.userAgent)
	if s.acceptLanguage != "" {
		client.SetHeader("Accept-Language", s.acceptLanguage)
	}
	if s.transport != nil {
		client.SetTransport(s.transport)
	}
	if s.cloudflareBypass {
		client.SetTransport(cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport))
	}

	return &HTTPFetcher{
		client:       client,
		maxBodyBytes: s.maxBodyBytes,
		log:          logger.Component(s.log, "fetch.http"),
	}
}

// Fetch performs a single GET of rawURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*domain.RawPage, error) {
	start := time.Now()

	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, &Error{Kind: classifyTransport(err), URL: rawURL, Err: err}
	}

	raw := resp.RawBody()
	defer raw.Close()

	body, err := io.ReadAll(io.LimitReader(raw, f.maxBodyBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(ctxErr, err)
		}
		return nil, &Error{
			Kind: classifyTransport(err),
			URL:  rawURL,
			Err:  fmt.Errorf("reading body: %w", err),
		}
	}

	status := resp.StatusCode()
	finalURL := rawURL
	if rr := resp.RawResponse; rr != nil && rr.Request != nil && rr.Request.URL != nil {
		finalURL = rr.Request.URL.String()
	}

	if IsBlockPage(status, resp.Header(), body) {
		return nil, &Error{Kind: KindBlocked, URL: rawURL, Status: status}
	}
	if status >= http.StatusBadRequest {
		return nil, &Error{Kind: KindHTTP, URL: rawURL, Status: status}
	}

	f.log.Debug("page fetched", "url", rawURL, "final_url", finalURL, "status", status, "bytes", len(body))

	return &domain.RawPage{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: status,
		Body:       body,
		Mode:       domain.FetchModeHTTP,
		FetchedAt:  time.Now().UTC(),
		Elapsed:    time.Since(start),
	}, nil
}
