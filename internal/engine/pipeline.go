package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/donaldgifford/price-watch/internal/detect"
	"github.com/donaldgifford/price-watch/internal/fetch"
	"github.com/donaldgifford/price-watch/internal/history"
	"github.com/donaldgifford/price-watch/internal/metrics"
	"github.com/donaldgifford/price-watch/internal/store"
	"github.com/donaldgifford/price-watch/pkg/extract"
	"github.com/donaldgifford/price-watch/pkg/rules"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

const tracerName = "github.com/donaldgifford/price-watch/internal/engine"

// Check outcomes, used as the ChecksTotal label.
const (
	outcomeChanged   = "changed"
	outcomeUnchanged = "unchanged"
	outcomeCoalesced = "coalesced"
	outcomeFetch     = "fetch_failed"
	outcomeExtract   = "extract_failed"
	outcomeStorage   = "storage_failed"
)

// Fetcher retrieves a page in a given mode. *fetch.Router implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, mode domain.FetchMode) (*domain.RawPage, error)
}

// CheckResult is the outcome of one pipeline run for a product.
type CheckResult struct {
	ProductID   string              `json:"product_id"`
	Outcome     string              `json:"outcome"`
	Observation *domain.Observation `json:"observation,omitempty"`
	Event       *domain.ChangeEvent `json:"event,omitempty"`
	ErrorKind   string              `json:"error_kind,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// pipeline runs fetch, extract, append, classify and publish for a single
// product.
type pipeline struct {
	fetcher   Fetcher
	registry  *rules.Registry
	extractor *extract.Extractor
	history   *history.Store
	store     store.Store
	feed      *Feed
	tracer    trace.Tracer
	log       *slog.Logger
	now       func() time.Time

	// OTel mirrors of the Prometheus check metrics, exported over OTLP
	// when telemetry is enabled.
	checks        metric.Int64Counter
	checkDuration metric.Float64Histogram
}

func newPipeline(
	f Fetcher,
	reg *rules.Registry,
	x *extract.Extractor,
	h *history.Store,
	s store.Store,
	feed *Feed,
	log *slog.Logger,
) *pipeline {
	pl := &pipeline{
		fetcher:   f,
		registry:  reg,
		extractor: x,
		history:   h,
		store:     s,
		feed:      feed,
		tracer:    otel.Tracer(tracerName),
		log:       log,
		now:       time.Now,
	}

	// The global meter hands back usable no-op instruments on error.
	meter := otel.Meter(tracerName)
	pl.checks, _ = meter.Int64Counter("price_watch.checks",
		metric.WithDescription("Product checks by outcome."))
	pl.checkDuration, _ = meter.Float64Histogram("price_watch.check.duration",
		metric.WithDescription("Duration of a full product check."),
		metric.WithUnit("s"))
	return pl
}

// fetchMode picks the mode for p. A product's explicit mode wins; auto
// defers to the site rule.
func fetchMode(p *domain.TrackedProduct, rule *rules.SiteRule) domain.FetchMode {
	if p.FetchMode == domain.FetchModeHTTP || p.FetchMode == domain.FetchModeBrowser {
		return p.FetchMode
	}
	if rule.Mode == domain.FetchModeBrowser {
		return domain.FetchModeBrowser
	}
	return domain.FetchModeAuto
}

// run checks one product. The returned error is the failure that should
// count against the product's schedule; the result is always non-nil.
func (pl *pipeline) run(ctx context.Context, p *domain.TrackedProduct) (*CheckResult, error) {
	ctx, span := pl.tracer.Start(ctx, "engine.Check", trace.WithAttributes(
		attribute.String("product.id", p.ID),
		attribute.String("product.url", p.URL),
	))
	defer span.End()

	start := time.Now()
	res, err := pl.check(ctx, p)
	elapsed := time.Since(start).Seconds()
	metrics.CheckDuration.Observe(elapsed)
	metrics.ChecksTotal.WithLabelValues(res.Outcome).Inc()
	outcome := metric.WithAttributes(attribute.String("outcome", res.Outcome))
	pl.checks.Add(ctx, 1, outcome)
	pl.checkDuration.Record(ctx, elapsed, outcome)

	span.SetAttributes(attribute.String("outcome", res.Outcome))
	if err != nil {
		res.ErrorKind = errorKind(err)
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (pl *pipeline) check(ctx context.Context, p *domain.TrackedProduct) (*CheckResult, error) {
	res := &CheckResult{ProductID: p.ID}
	rule := pl.registry.ForProduct(p)
	mode := fetchMode(p, rule)

	page, err := pl.fetcher.Fetch(ctx, p.URL, mode)
	if err != nil {
		res.Outcome = outcomeFetch
		pl.log.Warn("fetch failed",
			"product_id", p.ID,
			"url", p.URL,
			"mode", mode,
			"kind", fetch.KindOf(err),
			"error", err,
		)
		return res, err
	}

	extracted, err := pl.extract(ctx, page, rule)
	if err != nil {
		res.Outcome = outcomeExtract
		pl.log.Warn("extraction failed",
			"product_id", p.ID,
			"rule", rule.Name,
			"kind", extract.KindOf(err),
			"error", err,
		)
		if ev := pl.recordParseError(ctx, p, err); ev != nil {
			res.Event = ev
		}
		return res, err
	}

	// A check cancelled mid-flight must not persist anything.
	if err := ctx.Err(); err != nil {
		res.Outcome = outcomeFetch
		return res, &fetch.Error{Kind: fetch.KindTimeout, URL: p.URL, Err: err}
	}

	obs := extracted.Observation(p.ID, page.FetchedAt, page.Mode)
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = pl.now()
	}

	prev, appended, err := pl.history.Record(ctx, &obs)
	if err != nil {
		res.Outcome = outcomeStorage
		pl.log.Error("appending observation failed", "product_id", p.ID, "error", err)
		return res, err
	}
	if !appended {
		res.Outcome = outcomeCoalesced
		res.Observation = prev
		return res, nil
	}
	res.Observation = &obs

	ev := detect.NewEvent(p, prev, &obs, "", pl.now())
	if ev.Kind == domain.ChangeNoChange {
		res.Outcome = outcomeUnchanged
		return res, nil
	}

	res.Outcome = outcomeChanged
	if err := pl.publish(ctx, ev); err != nil {
		res.Outcome = outcomeStorage
		return res, err
	}
	res.Event = ev
	pl.log.Info("price change detected",
		"product_id", p.ID,
		"kind", ev.Kind,
		"old", ev.OldAmount,
		"new", ev.NewAmount,
		"currency", ev.Currency,
		"target_reached", ev.TargetReached,
	)
	return res, nil
}

func (pl *pipeline) extract(ctx context.Context, page *domain.RawPage, rule *rules.SiteRule) (*extract.Result, error) {
	_, span := pl.tracer.Start(ctx, "extract.Extract", trace.WithAttributes(
		attribute.String("rule", rule.Name),
		attribute.Int64("rule.version", int64(rule.Version)),
	))
	defer span.End()

	start := time.Now()
	res, err := pl.extractor.Extract(page, rule)
	metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExtractionFailuresTotal.WithLabelValues(string(extract.KindOf(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("strategy", res.Strategy))
	return res, nil
}

// recordParseError stores a parse-error marker referencing the latest good
// observation. Failing to store the marker is logged but does not change
// the cycle's outcome.
func (pl *pipeline) recordParseError(ctx context.Context, p *domain.TrackedProduct, cause error) *domain.ChangeEvent {
	prev, err := pl.history.Latest(ctx, p.ID)
	if err != nil {
		pl.log.Error("reading latest observation for parse error", "product_id", p.ID, "error", err)
	}
	failed := &domain.Observation{ProductID: p.ID, Availability: domain.AvailabilityUnknown}
	ev := detect.NewEvent(p, prev, failed, string(extract.KindOf(cause)), pl.now())
	if err := pl.publish(ctx, ev); err != nil {
		return nil
	}
	return ev
}

func (pl *pipeline) publish(ctx context.Context, ev *domain.ChangeEvent) error {
	if err := pl.store.InsertEvent(ctx, ev); err != nil {
		metrics.StorageErrorsTotal.WithLabelValues(string(history.WriteFailed)).Inc()
		pl.log.Error("storing change event failed", "product_id", ev.ProductID, "kind", ev.Kind, "error", err)
		return &history.StorageError{
			Kind:      history.WriteFailed,
			ProductID: ev.ProductID,
			Err:       fmt.Errorf("inserting %s event: %w", ev.Kind, err),
		}
	}
	metrics.ChangeEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	pl.feed.Publish(*ev)
	return nil
}

// errorKind names the failure class of a pipeline error for status output.
func errorKind(err error) string {
	if k := fetch.KindOf(err); k != "" {
		return string(k)
	}
	if k := extract.KindOf(err); k != "" {
		return string(k)
	}
	var se *history.StorageError
	if errors.As(err, &se) {
		return "storage_" + string(se.Kind)
	}
	switch {
	case errors.Is(err, history.ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}
