// Package engine runs the price-observation pipeline: it keeps the
// per-product schedule, dispatches due products to bounded worker pools,
// and turns fetched pages into stored observations and change events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/donaldgifford/price-watch/internal/fetch"
	"github.com/donaldgifford/price-watch/internal/history"
	"github.com/donaldgifford/price-watch/internal/metrics"
	"github.com/donaldgifford/price-watch/internal/notify"
	"github.com/donaldgifford/price-watch/internal/store"
	"github.com/donaldgifford/price-watch/pkg/extract"
	"github.com/donaldgifford/price-watch/pkg/rules"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

// ErrProductNotFound is returned for unknown product IDs. It matches
// store.ErrNotFound under errors.Is.
var ErrProductNotFound = store.ErrNotFound

// ErrInvalidProduct wraps product validation failures.
var ErrInvalidProduct = errors.New("invalid product")

// ErrNotRunning is returned by Start-dependent calls before Start.
var ErrNotRunning = errors.New("engine is not running")

// Engine owns the scheduler state and the pipeline for all products.
type Engine struct {
	store     store.Store
	history   *history.Store
	registry  *rules.Registry
	extractor *extract.Extractor
	fetcher   Fetcher
	notifier  notify.Notifier
	feed      *Feed
	tracker   *Tracker
	pipeline  *pipeline
	log       *slog.Logger
	now       func() time.Time

	workers         int
	browserWorkers  int
	minInterval     time.Duration
	defaultInterval time.Duration
	backoffCeiling  time.Duration
	degradedAfter   int
	shutdownGrace   time.Duration
	abandonAfter    time.Duration
	purgeOnDelete   bool
	retention       time.Duration
	batchThreshold  int

	// removeMu keeps RemoveProduct from interleaving with CheckNow
	// registering and starting a product.
	removeMu sync.RWMutex

	mu         sync.Mutex
	running    bool
	httpQ      chan string
	browserQ   chan string
	stop       chan struct{}
	workCtx    context.Context
	cancelWork context.CancelFunc
	wg         sync.WaitGroup
}

// NewEngine creates a new Engine with injected dependencies.
func NewEngine(
	s store.Store,
	h *history.Store,
	reg *rules.Registry,
	x *extract.Extractor,
	f Fetcher,
	n notify.Notifier,
	opts ...EngineOption,
) *Engine {
	eng := &Engine{
		store:           s,
		history:         h,
		registry:        reg,
		extractor:       x,
		fetcher:         f,
		notifier:        n,
		log:             slog.Default(),
		now:             time.Now,
		workers:         4,
		browserWorkers:  1,
		minInterval:     time.Minute,
		defaultInterval: time.Hour,
		backoffCeiling:  24 * time.Hour,
		degradedAfter:   5,
		shutdownGrace:   30 * time.Second,
		abandonAfter:    5 * time.Second,
		batchThreshold:  defaultBatchThreshold,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.notifier == nil {
		eng.notifier = notify.NewNoOpNotifier(eng.log)
	}
	if eng.feed == nil {
		eng.feed = NewFeed()
	}
	eng.tracker = NewTracker(eng.backoffCeiling, eng.degradedAfter)
	eng.tracker.onDegraded = func(id string, failures int, kind string) {
		eng.log.Warn("product degraded",
			"product_id", id,
			"consecutive_failures", failures,
			"last_error_kind", kind,
		)
	}
	eng.pipeline = newPipeline(f, reg, x, h, s, eng.feed, eng.log)
	eng.pipeline.now = eng.now
	return eng
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithWorkers sets the sizes of the lightweight and browser worker pools.
func WithWorkers(httpWorkers, browserWorkers int) EngineOption {
	return func(e *Engine) {
		e.workers = httpWorkers
		e.browserWorkers = browserWorkers
	}
}

// WithIntervals sets the minimum and default polling intervals.
func WithIntervals(minInterval, defaultInterval time.Duration) EngineOption {
	return func(e *Engine) {
		e.minInterval = minInterval
		e.defaultInterval = defaultInterval
	}
}

// WithBackoff sets the backoff ceiling and the consecutive failure count
// at which a product is reported degraded.
func WithBackoff(ceiling time.Duration, degradedThreshold int) EngineOption {
	return func(e *Engine) {
		e.backoffCeiling = ceiling
		e.degradedAfter = degradedThreshold
	}
}

// WithShutdownGrace sets how long Stop waits for in-flight checks.
func WithShutdownGrace(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.shutdownGrace = d
	}
}

// WithPurgeOnDelete removes a product's history when it is deleted.
func WithPurgeOnDelete(purge bool) EngineOption {
	return func(e *Engine) {
		e.purgeOnDelete = purge
	}
}

// WithRetention sets how long observations are kept. Zero keeps them
// forever.
func WithRetention(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.retention = d
	}
}

// WithBatchThreshold sets the pending event count at which a product's
// notifications are batched.
func WithBatchThreshold(n int) EngineOption {
	return func(e *Engine) {
		e.batchThreshold = n
	}
}

// WithFeed sets the event feed.
func WithFeed(f *Feed) EngineOption {
	return func(e *Engine) {
		e.feed = f
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// Feed returns the change event feed.
func (eng *Engine) Feed() *Feed {
	return eng.feed
}

// Retention returns the configured observation retention.
func (eng *Engine) Retention() time.Duration {
	return eng.retention
}

// Load registers every stored product with the scheduler.
func (eng *Engine) Load(ctx context.Context) (int, error) {
	products, err := eng.store.ListProducts(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("listing products: %w", err)
	}
	now := eng.now()
	for i := range products {
		eng.track(&products[i], now)
	}
	eng.log.Info("products loaded", "count", len(products))
	return len(products), nil
}

func (eng *Engine) track(p *domain.TrackedProduct, now time.Time) {
	eng.tracker.Upsert(p, fetchMode(p, eng.registry.ForProduct(p)), now)
}

// Start launches the worker pools. In-flight checks run on a context that
// outlives ctx so that Stop can give them a grace period.
func (eng *Engine) Start(ctx context.Context) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.running {
		return
	}

	eng.workCtx, eng.cancelWork = context.WithCancel(context.WithoutCancel(ctx))
	eng.stop = make(chan struct{})
	eng.httpQ = make(chan string, max(eng.workers, 1))
	eng.browserQ = make(chan string, max(eng.browserWorkers, 1))

	for i := range max(eng.workers, 1) {
		eng.wg.Add(1)
		go eng.worker(eng.httpQ, fmt.Sprintf("http-%d", i))
	}
	for i := range max(eng.browserWorkers, 1) {
		eng.wg.Add(1)
		go eng.worker(eng.browserQ, fmt.Sprintf("browser-%d", i))
	}
	eng.running = true
	eng.log.Info("engine started", "workers", eng.workers, "browser_workers", eng.browserWorkers)
}

// Stop stops taking new work and waits up to the shutdown grace period for
// in-flight checks, then cancels them. Checks that still have not returned
// shortly after the cancel are abandoned. Cancelled checks never persist a
// partial observation.
func (eng *Engine) Stop() {
	eng.mu.Lock()
	if !eng.running {
		eng.mu.Unlock()
		return
	}
	eng.running = false
	close(eng.stop)
	eng.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eng.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(eng.shutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		eng.log.Warn("shutdown grace expired, cancelling in-flight checks", "grace", eng.shutdownGrace)
		eng.cancelWork()
		select {
		case <-done:
		case <-time.After(eng.abandonAfter):
			eng.log.Error("in-flight checks ignored cancellation, abandoning them", "waited", eng.abandonAfter)
		}
	}
	eng.cancelWork()
	eng.feed.Close()
	eng.log.Info("engine stopped")
}

// Scan dispatches every due product to its worker pool and returns how
// many were dispatched. A full pool leaves the product due for the next
// scan.
func (eng *Engine) Scan(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.SchedulerScanDuration.Observe(time.Since(start).Seconds())
		metrics.SchedulerLastScanTimestamp.Set(float64(time.Now().Unix()))
	}()

	eng.mu.Lock()
	running, stop := eng.running, eng.stop
	httpQ, browserQ := eng.httpQ, eng.browserQ
	eng.mu.Unlock()
	if !running {
		return 0, ErrNotRunning
	}

	dispatched := 0
	for _, id := range eng.tracker.Due(eng.now()) {
		if ctx.Err() != nil {
			eng.tracker.Unqueue(id)
			continue
		}
		q := httpQ
		if eng.tracker.Mode(id) == domain.FetchModeBrowser {
			q = browserQ
		}
		select {
		case q <- id:
			dispatched++
		case <-stop:
			eng.tracker.Unqueue(id)
		default:
			eng.tracker.Unqueue(id)
		}
	}
	if dispatched > 0 {
		eng.log.Debug("scan dispatched products", "count", dispatched)
	}
	return dispatched, ctx.Err()
}

func (eng *Engine) worker(q <-chan string, name string) {
	defer eng.wg.Done()
	log := eng.log.With("worker", name)
	for {
		select {
		case <-eng.stop:
			return
		case id := <-q:
			eng.runScheduled(id, log)
		}
	}
}

func (eng *Engine) runScheduled(id string, log *slog.Logger) {
	if err := eng.tracker.Begin(id, false, eng.now()); err != nil {
		eng.tracker.Unqueue(id)
		log.Debug("skipping product", "product_id", id, "reason", err)
		return
	}

	p, err := eng.store.GetProduct(eng.workCtx, id)
	if errors.Is(err, store.ErrNotFound) {
		eng.tracker.Remove(id)
		eng.finish(id, Outcome{At: eng.now()})
		return
	}
	if err != nil {
		log.Error("loading product", "product_id", id, "error", err)
		eng.finish(id, Outcome{At: eng.now(), Err: err, ErrorKind: "storage"})
		return
	}

	res, err := eng.pipeline.run(eng.workCtx, p)
	eng.finish(id, Outcome{At: eng.now(), Err: err, ErrorKind: res.ErrorKind})
}

// finish reports an attempt to the tracker. A product removed while the
// attempt ran has its history purged now that nothing else writes to it.
func (eng *Engine) finish(id string, out Outcome) {
	if !eng.tracker.Finish(id, out) || !eng.purgeOnDelete {
		return
	}
	if err := eng.store.PurgeProductHistory(context.Background(), id); err != nil {
		eng.log.Error("purging history of removed product", "product_id", id, "error", err)
		return
	}
	eng.log.Info("history purged after in-flight check", "product_id", id)
}

// CheckNow runs the pipeline for one product immediately, outside its
// schedule. It fails with ErrCheckInProgress if a check is already running.
// Pipeline failures are reported in the result and count against the
// product's schedule like a scheduled attempt.
func (eng *Engine) CheckNow(ctx context.Context, id string) (*CheckResult, error) {
	p, err := eng.beginManual(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := eng.pipeline.run(ctx, p)
	eng.finish(id, Outcome{At: eng.now(), Err: err, ErrorKind: res.ErrorKind})
	return res, nil
}

func (eng *Engine) beginManual(ctx context.Context, id string) (*domain.TrackedProduct, error) {
	eng.removeMu.RLock()
	defer eng.removeMu.RUnlock()

	p, err := eng.store.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %s: %w", id, err)
	}
	if _, known := eng.tracker.Status(id); !known {
		eng.track(p, eng.now())
	}
	if err := eng.tracker.Begin(id, true, eng.now()); err != nil {
		return nil, err
	}
	return p, nil
}

// RunAlerts delivers pending notifications.
func (eng *Engine) RunAlerts(ctx context.Context) (int, error) {
	return ProcessAlerts(ctx, eng.store, eng.notifier, eng.batchThreshold)
}

// RunRetention purges observations older than the retention period.
func (eng *Engine) RunRetention(ctx context.Context) (int, error) {
	n, err := eng.history.Purge(ctx, eng.retention)
	if err != nil {
		return 0, fmt.Errorf("purging history: %w", err)
	}
	if n > 0 {
		eng.log.Info("old observations purged", "count", n, "retention", eng.retention)
	}
	return n, nil
}

// Preview fetches rawURL and evaluates a single strategy against it.
func (eng *Engine) Preview(
	ctx context.Context,
	rawURL string,
	s rules.Strategy,
	mode domain.FetchMode,
) (*extract.PreviewResult, error) {
	if mode == "" {
		mode = domain.FetchModeAuto
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown fetch mode %q", ErrInvalidProduct, mode)
	}
	if err := fetch.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProduct, err)
	}
	page, err := eng.fetcher.Fetch(ctx, rawURL, mode)
	if err != nil {
		return nil, err
	}
	res := extract.Preview(page.Body, s)
	return &res, nil
}

// Rules returns the current site rules.
func (eng *Engine) Rules() []*rules.SiteRule {
	return eng.registry.List()
}
