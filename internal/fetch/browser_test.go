package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/price-watch/internal/fetch"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

type fakeSession struct {
	render func(ctx context.Context, url string) (*fetch.Rendered, error)
	closed atomic.Bool
}

func (s *fakeSession) Render(ctx context.Context, url string) (*fetch.Rendered, error) {
	return s.render(ctx, url)
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	render   func(ctx context.Context, url string) (*fetch.Rendered, error)
	err      error
}

func (f *fakeFactory) New(context.Context) (fetch.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSession{render: f.render}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) started() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func okRender(_ context.Context, url string) (*fetch.Rendered, error) {
	return &fetch.Rendered{
		FinalURL: url,
		Status:   http.StatusOK,
		HTML:     `<html><span class="price">42.00</span></html>`,
	}, nil
}

func TestBrowserPool_ReusesSessions(t *testing.T) {
	t.Parallel()

	ff := &fakeFactory{render: okRender}
	pool := fetch.NewBrowserPool(2, ff.New, nil)
	defer pool.Close()

	for range 5 {
		err := pool.With(context.Background(), func(s fetch.Session) error {
			_, err := s.Render(context.Background(), "https://shop.test/p")
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, ff.started())
}

func TestBrowserPool_DiscardsCrashedSession(t *testing.T) {
	t.Parallel()

	ff := &fakeFactory{render: func(context.Context, string) (*fetch.Rendered, error) {
		return nil, fetch.ErrSessionCrashed
	}}
	pool := fetch.NewBrowserPool(1, ff.New, nil)
	defer pool.Close()

	for range 2 {
		err := pool.With(context.Background(), func(s fetch.Session) error {
			_, err := s.Render(context.Background(), "https://shop.test/p")
			return err
		})
		require.ErrorIs(t, err, fetch.ErrSessionCrashed)
	}

	require.Equal(t, 2, ff.started())
	assert.True(t, ff.sessions[0].closed.Load())
	assert.True(t, ff.sessions[1].closed.Load())
}

func TestBrowserPool_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inUse, peak atomic.Int32
	ff := &fakeFactory{render: func(ctx context.Context, url string) (*fetch.Rendered, error) {
		n := inUse.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inUse.Add(-1)
		return okRender(ctx, url)
	}}
	pool := fetch.NewBrowserPool(3, ff.New, nil)
	defer pool.Close()

	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.With(context.Background(), func(s fetch.Session) error {
				_, err := s.Render(context.Background(), "https://shop.test/p")
				return err
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.LessOrEqual(t, ff.started(), 3)
}

func TestBrowserPool_AcquireHonoursContext(t *testing.T) {
	t.Parallel()

	ff := &fakeFactory{render: okRender}
	pool := fetch.NewBrowserPool(1, ff.New, nil)
	defer pool.Close()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(s, false)
	s2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(s2, false)
}

func TestBrowserPool_ReleaseOnPanic(t *testing.T) {
	t.Parallel()

	ff := &fakeFactory{render: okRender}
	pool := fetch.NewBrowserPool(1, ff.New, nil)
	defer pool.Close()

	assert.Panics(t, func() {
		_ = pool.With(context.Background(), func(fetch.Session) error {
			panic("boom")
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(s, false)
	assert.Equal(t, 2, ff.started())
}

func TestBrowserPool_FactoryError(t *testing.T) {
	t.Parallel()

	ff := &fakeFactory{err: errors.New("chrome not found")}
	pool := fetch.NewBrowserPool(1, ff.New, nil)
	defer pool.Close()

	_, err := pool.Acquire(context.Background())
	require.Error(t, err)

	// The slot was returned, so a later attempt is not blocked.
	ff.mu.Lock()
	ff.err = nil
	ff.render = okRender
	ff.mu.Unlock()
	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(s, false)
}

func TestBrowserPool_Close(t *testing.T) {
	t.Parallel()

	ff := &fakeFactory{render: okRender}
	pool := fetch.NewBrowserPool(2, ff.New, nil)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(s, false)

	require.NoError(t, pool.Close())
	assert.True(t, ff.sessions[0].closed.Load())

	_, err = pool.Acquire(context.Background())
	require.ErrorIs(t, err, fetch.ErrPoolClosed)
}

func TestBrowserFetcher_Fetch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		render   func(ctx context.Context, url string) (*fetch.Rendered, error)
		wantKind fetch.ErrorKind
	}{
		{name: "rendered", render: okRender},
		{
			name: "crash",
			render: func(context.Context, string) (*fetch.Rendered, error) {
				return nil, errors.Join(fetch.ErrSessionCrashed, errors.New("target closed"))
			},
			wantKind: fetch.KindBrowserCrash,
		},
		{
			name: "timeout",
			render: func(ctx context.Context, _ string) (*fetch.Rendered, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			wantKind: fetch.KindTimeout,
		},
		{
			name: "challenge",
			render: func(_ context.Context, url string) (*fetch.Rendered, error) {
				return &fetch.Rendered{
					FinalURL: url,
					Status:   http.StatusForbidden,
					HTML:     "<html>Please complete the captcha</html>",
				}, nil
			},
			wantKind: fetch.KindBlocked,
		},
		{
			name: "http error",
			render: func(_ context.Context, url string) (*fetch.Rendered, error) {
				return &fetch.Rendered{FinalURL: url, Status: http.StatusNotFound, HTML: "<html></html>"}, nil
			},
			wantKind: fetch.KindHTTP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ff := &fakeFactory{render: tt.render}
			pool := fetch.NewBrowserPool(1, ff.New, nil)
			defer pool.Close()

			f := fetch.NewBrowserFetcher(pool, 50*time.Millisecond)
			page, err := f.Fetch(context.Background(), "https://shop.test/p")
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, fetch.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.FetchModeBrowser, page.Mode)
			assert.Contains(t, string(page.Body), "42.00")
		})
	}
}

func TestBrowserFetcher_StartupBoundedByTimeout(t *testing.T) {
	t.Parallel()

	var cancelled atomic.Bool
	hung := func(ctx context.Context) (fetch.Session, error) {
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	}
	pool := fetch.NewBrowserPool(1, hung, nil)
	defer pool.Close()

	f := fetch.NewBrowserFetcher(pool, 50*time.Millisecond)
	start := time.Now()
	_, err := f.Fetch(context.Background(), "https://shop.test/p")
	require.Error(t, err)
	assert.Equal(t, fetch.KindTimeout, fetch.KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, cancelled.Load(), "the launch context is cancelled")
}
