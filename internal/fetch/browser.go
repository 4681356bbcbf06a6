package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/donaldgifford/price-watch/internal/metrics"
	"github.com/donaldgifford/price-watch/pkg/logger"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// ErrSessionCrashed marks a render failure after which the browser
// session can no longer be used.
var ErrSessionCrashed = errors.New("browser session crashed")

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("browser pool closed")

// Rendered is the DOM snapshot of a page after scripts ran.
type Rendered struct {
	FinalURL string
	Status   int
	Header   http.Header
	HTML     string
}

// Session is one running browser able to render pages one at a time.
type Session interface {
	Render(ctx context.Context, url string) (*Rendered, error)
	Close() error
}

// SessionFactory launches a new browser session. The context bounds the
// session's whole lifetime; the pool cancels it early if the caller gives
// up during startup.
type SessionFactory func(ctx context.Context) (Session, error)

// BrowserPool hands out at most size sessions at a time. Sessions start
// lazily, are reused after a clean checkin and are thrown away after a
// crash.
type BrowserPool struct {
	factory SessionFactory
	slots   chan struct{}
	log     *slog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu     sync.Mutex
	idle   []Session
	closed bool
}

// NewBrowserPool creates a pool of up to size sessions.
func NewBrowserPool(size int, factory SessionFactory, log *slog.Logger) *BrowserPool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BrowserPool{
		factory:    factory,
		slots:      make(chan struct{}, size),
		log:        logger.Component(log, "fetch.browser_pool"),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
}

// Size returns the pool capacity.
func (p *BrowserPool) Size() int {
	return cap(p.slots)
}

// Acquire checks out a session, blocking while all are busy. Every
// successful Acquire must be paired with a Release.
func (p *BrowserPool) Acquire(ctx context.Context) (Session, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for browser session: %w", ctx.Err())
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		metrics.BrowserSessionsInUse.Inc()
		return s, nil
	}
	p.mu.Unlock()

	s, err := p.launch(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	metrics.BrowserSessionsStartedTotal.Inc()
	metrics.BrowserSessionsInUse.Inc()
	p.log.Debug("browser session started")
	return s, nil
}

// launch starts a session that lives as long as the pool. ctx bounds only
// the startup: when it ends first the launch is cancelled.
func (p *BrowserPool) launch(ctx context.Context) (Session, error) {
	launchCtx, cancel := context.WithCancel(p.baseCtx)
	stop := context.AfterFunc(ctx, cancel)

	s, err := p.factory(launchCtx)
	if !stop() {
		if err == nil {
			_ = s.Close()
		}
		cancel()
		return nil, fmt.Errorf("launching browser session: %w", ctx.Err())
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("launching browser session: %w", err)
	}
	return &pooledSession{Session: s, cancel: cancel}, nil
}

// pooledSession releases the launch context when the session closes.
type pooledSession struct {
	Session
	cancel context.CancelFunc
}

func (s *pooledSession) Close() error {
	err := s.Session.Close()
	s.cancel()
	return err
}

// Release checks a session back in. Broken sessions are closed instead of
// being reused.
func (p *BrowserPool) Release(s Session, broken bool) {
	defer func() { <-p.slots }()
	metrics.BrowserSessionsInUse.Dec()

	p.mu.Lock()
	if !broken && !p.closed {
		p.idle = append(p.idle, s)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if broken {
		metrics.BrowserSessionsDiscardedTotal.Inc()
		p.log.Warn("discarding crashed browser session")
	}
	if err := s.Close(); err != nil {
		p.log.Debug("closing browser session", "error", err)
	}
}

// With runs fn with a checked-out session and always checks it back in.
func (p *BrowserPool) With(ctx context.Context, fn func(Session) error) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	broken := true
	defer func() { p.Release(s, broken) }()

	err = fn(s)
	broken = errors.Is(err, ErrSessionCrashed)
	return err
}

// Close shuts down idle sessions and marks the pool closed. Sessions still
// checked out are closed when they are released.
func (p *BrowserPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range idle {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.cancelBase()
	return errors.Join(errs...)
}

// BrowserFetcher renders pages in pooled browser sessions.
type BrowserFetcher struct {
	pool    *BrowserPool
	timeout time.Duration
}

// NewBrowserFetcher creates a fetcher over pool. timeout bounds each
// render including the wait for a free session.
func NewBrowserFetcher(pool *BrowserPool, timeout time.Duration) *BrowserFetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &BrowserFetcher{pool: pool, timeout: timeout}
}

// Fetch renders rawURL and returns the resulting DOM.
func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (*domain.RawPage, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var out *Rendered
	err := f.pool.With(ctx, func(s Session) error {
		r, err := s.Render(ctx, rawURL)
		out = r
		return err
	})
	if err != nil {
		kind := classifyTransport(err)
		if errors.Is(err, ErrSessionCrashed) || errors.Is(err, ErrPoolClosed) {
			kind = KindBrowserCrash
		}
		return nil, &Error{Kind: kind, URL: rawURL, Err: err}
	}

	body := []byte(out.HTML)
	if IsBlockPage(out.Status, out.Header, body) {
		return nil, &Error{Kind: KindBlocked, URL: rawURL, Status: out.Status}
	}
	if out.Status >= http.StatusBadRequest {
		return nil, &Error{Kind: KindHTTP, URL: rawURL, Status: out.Status}
	}

	finalURL := out.FinalURL
	if finalURL == "" {
		finalURL = rawURL
	}
	return &domain.RawPage{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: out.Status,
		Body:       body,
		Mode:       domain.FetchModeBrowser,
		FetchedAt:  time.Now().UTC(),
		Elapsed:    time.Since(start),
	}, nil
}

// ChromeOptions configures chromedp sessions.
type ChromeOptions struct {
	ExecPath  string
	Headless  bool
	UserAgent string
	// Settle is how long to wait after the DOM is ready for late
	// price widgets to render.
	Settle time.Duration
}

// ChromeSessionFactory returns a factory launching one Chrome process per
// session.
func ChromeSessionFactory(o ChromeOptions) SessionFactory {
	return func(ctx context.Context) (Session, error) {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts,
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("headless", o.Headless),
		)
		if o.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(o.ExecPath))
		}
		ua := o.UserAgent
		if ua == "" {
			ua = defaultUserAgent
		}
		opts = append(opts, chromedp.UserAgent(ua))

		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

		// An empty Run starts the browser.
		if err := chromedp.Run(browserCtx); err != nil {
			cancelBrowser()
			cancelAlloc()
			return nil, fmt.Errorf("starting chrome: %w", err)
		}

		return &chromeSession{
			browserCtx: browserCtx,
			cancel: func() {
				cancelBrowser()
				cancelAlloc()
			},
			settle: o.Settle,
		}, nil
	}
}

type chromeSession struct {
	browserCtx context.Context
	cancel     context.CancelFunc
	settle     time.Duration
}

func (s *chromeSession) Render(ctx context.Context, url string) (*Rendered, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(url))
	var html, location string
	if err == nil {
		actions := []chromedp.Action{chromedp.WaitReady("body", chromedp.ByQuery)}
		if s.settle > 0 {
			actions = append(actions, chromedp.Sleep(s.settle))
		}
		actions = append(actions,
			chromedp.Location(&location),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
		err = chromedp.Run(tabCtx, actions...)
	}
	if err != nil {
		if s.browserCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrSessionCrashed, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("rendering %s: %w", url, ctxErr)
		}
		return nil, fmt.Errorf("rendering %s: %w", url, err)
	}

	r := &Rendered{FinalURL: location, HTML: html, Header: http.Header{}}
	if resp != nil {
		r.Status = int(resp.Status)
		for k, v := range resp.Headers {
			r.Header.Set(k, fmt.Sprint(v))
		}
	}
	return r, nil
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}
