package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/donaldgifford/price-watch/internal/config"
	"github.com/donaldgifford/price-watch/internal/engine"
	"github.com/donaldgifford/price-watch/internal/fetch"
	"github.com/donaldgifford/price-watch/internal/history"
	"github.com/donaldgifford/price-watch/internal/metrics"
	"github.com/donaldgifford/price-watch/internal/notify"
	"github.com/donaldgifford/price-watch/internal/store"
	"github.com/donaldgifford/price-watch/pkg/extract"
	"github.com/donaldgifford/price-watch/pkg/logger"
	"github.com/donaldgifford/price-watch/pkg/rules"
)

// app holds the components shared by serve and check.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    store.Store
	registry *rules.Registry
	pool     *fetch.BrowserPool
	notifier notify.Notifier
	engine   *engine.Engine
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logger.New(cfg.Logging.Level, cfg.Logging.Format), nil
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	st, err := openStore(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	a.store = st

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	a.registry, err = loadRegistry(&cfg.Rules, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	h, err := history.New(st, cfg.History.DedupWindow, history.WithLogger(log))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating history store: %w", err)
	}

	var router *fetch.Router
	router, a.pool = newFetcher(&cfg.Fetch, log)
	a.notifier = newNotifier(&cfg.Notifications, log)

	x := extract.New(extract.WithReporter(a.registry), extract.WithLogger(log))

	s := &cfg.Scheduler
	a.engine = engine.NewEngine(st, h, a.registry, x, router, a.notifier,
		engine.WithLogger(log),
		engine.WithWorkers(s.Workers, s.BrowserWorkers),
		engine.WithIntervals(s.MinInterval, s.DefaultInterval),
		engine.WithBackoff(s.BackoffCeiling, s.DegradedThreshold),
		engine.WithShutdownGrace(s.ShutdownGrace),
		engine.WithPurgeOnDelete(cfg.History.PurgeOnDelete),
		engine.WithRetention(cfg.History.Retention()),
		engine.WithBatchThreshold(cfg.Alerts.BatchThreshold),
	)
	return a, nil
}

// Close releases the browser pool and the store.
func (a *app) Close() error {
	var errs []error
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg *config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := store.NewPostgresStore(ctx, cfg.DSN(), int32(min(cfg.PoolSize, 1<<15))) //nolint:gosec // bounded above
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return st, nil
	case config.DriverSQLite:
		st, err := store.NewSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		return st, nil
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func loadRegistry(cfg *config.RulesConfig, log *slog.Logger) (*rules.Registry, error) {
	var siteRules []rules.SiteRule
	if cfg.Path != "" {
		var err error
		siteRules, err = rules.LoadFile(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("loading site rules: %w", err)
		}
	}

	reg, err := rules.NewRegistry(cfg.PromotionThreshold, siteRules,
		rules.WithLogger(log),
		rules.WithPromotionHook(func(rule, _ string) {
			metrics.RulePromotionsTotal.WithLabelValues(rule).Inc()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("building rule registry: %w", err)
	}
	log.Info("site rules loaded", "count", len(siteRules), "path", cfg.Path)
	return reg, nil
}

func newFetcher(cfg *config.FetchConfig, log *slog.Logger) (*fetch.Router, *fetch.BrowserPool) {
	httpOpts := []fetch.HTTPOption{
		fetch.WithTimeout(cfg.Timeout),
		fetch.WithMaxBodyBytes(cfg.MaxBodyBytes),
		fetch.WithMaxRedirects(cfg.MaxRedirects),
		fetch.WithCloudflareBypass(cfg.CloudflareBypass),
		fetch.WithHTTPLogger(log),
	}
	if cfg.UserAgent != "" {
		httpOpts = append(httpOpts, fetch.WithUserAgent(cfg.UserAgent))
	}
	if cfg.AcceptLanguage != "" {
		httpOpts = append(httpOpts, fetch.WithAcceptLanguage(cfg.AcceptLanguage))
	}

	routerOpts := []fetch.RouterOption{
		fetch.WithLogger(log),
		fetch.WithHostLimiter(fetch.NewHostLimiter(cfg.HostRate.PerSecond, cfg.HostRate.Burst)),
		fetch.WithMaxWait(cfg.Timeout),
	}

	var pool *fetch.BrowserPool
	if cfg.Browser.Enabled {
		pool = fetch.NewBrowserPool(cfg.Browser.PoolSize, fetch.ChromeSessionFactory(fetch.ChromeOptions{
			ExecPath:  cfg.Browser.ExecPath,
			Headless:  !cfg.Browser.Headful,
			UserAgent: cfg.UserAgent,
			Settle:    cfg.Browser.Settle,
		}), log)
		routerOpts = append(routerOpts,
			fetch.WithBrowser(fetch.NewBrowserFetcher(pool, cfg.Timeout)),
			fetch.WithBrowserFallback(cfg.BrowserFallback),
		)
	}

	return fetch.NewRouter(fetch.NewHTTPFetcher(httpOpts...), routerOpts...), pool
}

// newNotifier fans out to every enabled backend, or logs alerts when none
// is configured.
func newNotifier(cfg *config.NotificationsConfig, log *slog.Logger) notify.Notifier {
	var m notify.Multi
	if cfg.Discord.Enabled {
		m = append(m, notify.NewDiscordNotifier(cfg.Discord.WebhookURL))
	}
	if e := cfg.Email; e.Enabled {
		m = append(m, notify.NewEmailNotifier(notify.SMTPConfig{
			Host:     e.Host,
			Port:     e.Port,
			Username: e.Username,
			Password: e.Password,
			From:     e.From,
			To:       e.To,
			StartTLS: e.StartTLS,
		}))
	}

	switch len(m) {
	case 0:
		log.Info("no notification backends enabled, alerts will only be logged")
		return notify.NewNoOpNotifier(log)
	case 1:
		return m[0]
	default:
		return m
	}
}
