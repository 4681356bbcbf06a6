package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/donaldgifford/price-watch/internal/store"
)

// Job names recorded in job_runs.
const (
	jobAlerts    = "alerts"
	jobRetention = "retention"
)

// Scheduler drives the engine from cron: the due-product scan, alert
// delivery and history retention.
type Scheduler struct {
	cron   *cron.Cron
	engine *Engine
	store  store.Store
	log    *slog.Logger

	scanEntryID      cron.EntryID
	alertsEntryID    cron.EntryID
	retentionEntryID cron.EntryID
}

// NewScheduler creates a new Scheduler. The retention job is only
// registered when the engine has a retention period and retentionSpec is
// set.
func NewScheduler(
	eng *Engine,
	s store.Store,
	scanInterval time.Duration,
	alertInterval time.Duration,
	retentionSpec string,
	log *slog.Logger,
) (*Scheduler, error) {
	c := cron.New()

	sched := &Scheduler{
		cron:   c,
		engine: eng,
		store:  s,
		log:    log,
	}

	var err error
	sched.scanEntryID, err = c.AddFunc("@every "+scanInterval.String(), sched.runScan)
	if err != nil {
		return nil, fmt.Errorf("adding scan job: %w", err)
	}

	if alertInterval > 0 {
		sched.alertsEntryID, err = c.AddFunc("@every "+alertInterval.String(), sched.runAlerts)
		if err != nil {
			return nil, fmt.Errorf("adding alerts job: %w", err)
		}
	}

	if eng.Retention() > 0 && retentionSpec != "" {
		sched.retentionEntryID, err = c.AddFunc(retentionSpec, sched.runRetention)
		if err != nil {
			return nil, fmt.Errorf("adding retention job: %w", err)
		}
	}

	return sched, nil
}

// Start begins running scheduled tasks.
func (s *Scheduler) Start() {
	s.log.Info("scheduler started")
	s.cron.Start()
}

// Stop stops the cron loop. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("scheduler stopping")
	return s.cron.Stop()
}

// Entries returns the registered cron entries for inspection.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) runScan() {
	if _, err := s.engine.Scan(context.Background()); err != nil {
		s.log.Error("scan failed", "error", err)
	}
}

func (s *Scheduler) runAlerts() {
	if err := s.runJob(context.Background(), jobAlerts, s.engine.RunAlerts); err != nil {
		s.log.Error("alert delivery failed", "error", err)
	}
}

func (s *Scheduler) runRetention() {
	if err := s.runJob(context.Background(), jobRetention, s.engine.RunRetention); err != nil {
		s.log.Error("retention purge failed", "error", err)
	}
}

// runJob records a job run around fn. Failing to record the run does not
// stop the job.
func (s *Scheduler) runJob(
	ctx context.Context,
	name string,
	fn func(context.Context) (int, error),
) error {
	runID, err := s.store.InsertJobRun(ctx, name)
	if err != nil {
		s.log.Warn("recording job start", "job", name, "error", err)
	}

	rows, jobErr := fn(ctx)

	if runID != "" {
		status, errText := store.JobSucceeded, ""
		if jobErr != nil {
			status, errText = store.JobFailed, jobErr.Error()
		}
		if err := s.store.CompleteJobRun(ctx, runID, status, errText, rows); err != nil {
			s.log.Warn("recording job completion", "job", name, "error", err)
		}
	}
	return jobErr
}
