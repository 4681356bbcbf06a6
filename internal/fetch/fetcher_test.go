package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/price-watch/internal/fetch"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

type stubFetcher struct {
	mode  domain.FetchMode
	err   error
	calls atomic.Int32
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) (*domain.RawPage, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.RawPage{URL: rawURL, FinalURL: rawURL, StatusCode: http.StatusOK, Mode: s.mode}, nil
}

func blocked(url string) error {
	return &fetch.Error{Kind: fetch.KindBlocked, URL: url, Status: http.StatusForbidden}
}

func TestRouter_Fetch(t *testing.T) {
	t.Parallel()

	const url = "https://shop.test/p/1"

	tests := []struct {
		name        string
		mode        domain.FetchMode
		httpErr     error
		browser     bool
		fallback    bool
		wantMode    domain.FetchMode
		wantKind    fetch.ErrorKind
		wantHTTP    int32
		wantBrowser int32
	}{
		{
			name:     "http",
			mode:     domain.FetchModeHTTP,
			wantMode: domain.FetchModeHTTP,
			wantHTTP: 1,
		},
		{
			name:     "auto behaves like http",
			mode:     domain.FetchModeAuto,
			browser:  true,
			wantMode: domain.FetchModeHTTP,
			wantHTTP: 1,
		},
		{
			name:        "browser",
			mode:        domain.FetchModeBrowser,
			browser:     true,
			wantMode:    domain.FetchModeBrowser,
			wantBrowser: 1,
		},
		{
			name:     "browser not configured",
			mode:     domain.FetchModeBrowser,
			wantKind: fetch.KindBrowserCrash,
		},
		{
			name:        "blocked falls back to browser",
			mode:        domain.FetchModeHTTP,
			httpErr:     blocked(url),
			browser:     true,
			fallback:    true,
			wantMode:    domain.FetchModeBrowser,
			wantHTTP:    1,
			wantBrowser: 1,
		},
		{
			name:     "blocked without fallback",
			mode:     domain.FetchModeHTTP,
			httpErr:  blocked(url),
			browser:  true,
			wantKind: fetch.KindBlocked,
			wantHTTP: 1,
		},
		{
			name:     "non-block errors do not fall back",
			mode:     domain.FetchModeHTTP,
			httpErr:  &fetch.Error{Kind: fetch.KindHTTP, URL: url, Status: 500},
			browser:  true,
			fallback: true,
			wantKind: fetch.KindHTTP,
			wantHTTP: 1,
		},
		{
			name:     "untyped errors are classified",
			mode:     domain.FetchModeHTTP,
			httpErr:  errors.New("connection reset"),
			wantKind: fetch.KindNetwork,
			wantHTTP: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hf := &stubFetcher{mode: domain.FetchModeHTTP, err: tt.httpErr}
			bf := &stubFetcher{mode: domain.FetchModeBrowser}
			opts := []fetch.RouterOption{fetch.WithBrowserFallback(tt.fallback)}
			if tt.browser {
				opts = append(opts, fetch.WithBrowser(bf))
			}
			r := fetch.NewRouter(hf, opts...)

			page, err := r.Fetch(context.Background(), url, tt.mode)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, fetch.KindOf(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantMode, page.Mode)
			}
			assert.Equal(t, tt.wantHTTP, hf.calls.Load())
			assert.Equal(t, tt.wantBrowser, bf.calls.Load())
		})
	}
}

func TestRouter_InvalidURL(t *testing.T) {
	t.Parallel()

	hf := &stubFetcher{mode: domain.FetchModeHTTP}
	r := fetch.NewRouter(hf)

	for _, u := range []string{"", "ftp://shop.test/p", "not a url", "https://", "://missing"} {
		_, err := r.Fetch(context.Background(), u, domain.FetchModeHTTP)
		require.Error(t, err, u)
		assert.Equal(t, fetch.KindInvalidURL, fetch.KindOf(err), u)
	}
	assert.Zero(t, hf.calls.Load())
}

func TestRouter_HostLimiterCancelled(t *testing.T) {
	t.Parallel()

	hf := &stubFetcher{mode: domain.FetchModeHTTP}
	r := fetch.NewRouter(hf, fetch.WithHostLimiter(fetch.NewHostLimiter(0.001, 1)))

	_, err := r.Fetch(context.Background(), "https://shop.test/a", domain.FetchModeHTTP)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Fetch(ctx, "https://shop.test/b", domain.FetchModeHTTP)
	require.Error(t, err)
	assert.Equal(t, fetch.KindTimeout, fetch.KindOf(err))
	assert.Equal(t, int32(1), hf.calls.Load())
}

func TestRouter_HostLimiterBoundedByMaxWait(t *testing.T) {
	t.Parallel()

	hf := &stubFetcher{mode: domain.FetchModeHTTP}
	r := fetch.NewRouter(hf,
		fetch.WithHostLimiter(fetch.NewHostLimiter(0.001, 1)),
		fetch.WithMaxWait(30*time.Millisecond),
	)

	_, err := r.Fetch(context.Background(), "https://shop.test/a", domain.FetchModeHTTP)
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Fetch(context.Background(), "https://shop.test/b", domain.FetchModeHTTP)
	require.Error(t, err)
	assert.Equal(t, fetch.KindTimeout, fetch.KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(1), hf.calls.Load())
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	err := &fetch.Error{Kind: fetch.KindHTTP, URL: "https://shop.test", Status: 502, Err: errors.New("bad gateway")}
	assert.Equal(t, "fetching https://shop.test: http_error (HTTP 502): bad gateway", err.Error())
	assert.True(t, fetch.IsBlocked(blocked("x")))
	assert.False(t, fetch.IsBlocked(err))
	assert.Empty(t, fetch.KindOf(errors.New("plain")))
}
