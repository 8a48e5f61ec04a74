// Package scan drives scan lifecycles: it creates scan records, runs the crawl
// executor against a competitor's site and records the outcome.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/crawl"
	"github.com/JakeFAU/competitor-watch/internal/logging"
	"github.com/JakeFAU/competitor-watch/internal/metrics"
	"github.com/JakeFAU/competitor-watch/internal/progress"
	"github.com/JakeFAU/competitor-watch/internal/store"
)

const finalizeTimeout = 10 * time.Second

// ErrNotRunnable is returned when a scan is already in a terminal state.
var ErrNotRunnable = errors.New("scan is not runnable")

// Crawler runs one crawl session.
type Crawler interface {
	StartCrawl(ctx context.Context, s crawl.Session) (crawl.Result, error)
}

// Config tunes the Runner.
type Config struct {
	// MaxPages is stored on new scans; zero leaves the executor default.
	MaxPages int
}

// Runner owns scan status transitions. It is safe for concurrent use.
type Runner struct {
	crawler     Crawler
	scans       store.ScanRepository
	competitors store.CompetitorRepository
	alerts      store.AlertRepository
	events      progress.Emitter
	ids         store.IDGenerator
	clock       store.Clock
	cfg         Config
	logger      *zap.Logger
}

// NewRunner builds a Runner. events may be nil.
func NewRunner(crawler Crawler, repos store.Repositories, events progress.Emitter, ids store.IDGenerator, clock store.Clock, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		crawler:     crawler,
		scans:       repos.Scans,
		competitors: repos.Competitors,
		alerts:      repos.Alerts,
		events:      events,
		ids:         ids,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
	}
}

// Create records a pending scan for competitorID.
func (r *Runner) Create(ctx context.Context, competitorID string) (store.Scan, error) {
	if _, err := r.competitors.GetCompetitor(ctx, competitorID); err != nil {
		return store.Scan{}, fmt.Errorf("load competitor %s: %w", competitorID, err)
	}
	id, err := r.ids.NewID()
	if err != nil {
		return store.Scan{}, fmt.Errorf("scan id: %w", err)
	}
	scan := store.Scan{
		ID:           id,
		CompetitorID: competitorID,
		Status:       store.ScanPending,
		MaxPages:     r.cfg.MaxPages,
		CreatedAt:    r.clock.Now(),
	}
	if err := r.scans.CreateScan(ctx, scan); err != nil {
		return store.Scan{}, fmt.Errorf("create scan: %w", err)
	}
	return scan, nil
}

// Start creates a pending scan for competitorID and runs it to the end.
func (r *Runner) Start(ctx context.Context, competitorID string) (store.Scan, error) {
	scan, err := r.Create(ctx, competitorID)
	if err != nil {
		return store.Scan{}, err
	}
	if _, err := r.Run(ctx, scan.ID); err != nil {
		return r.current(ctx, scan), err
	}
	return r.current(ctx, scan), nil
}

// Run executes the scan identified by scanID. A scan that was started before
// and interrupted resumes from its checkpoint.
func (r *Runner) Run(ctx context.Context, scanID string) (crawl.Result, error) {
	scan, err := r.scans.GetScan(ctx, scanID)
	if err != nil {
		return crawl.Result{}, fmt.Errorf("%w: load scan %s: %v", crawl.ErrSessionFatal, scanID, err)
	}
	if scan.Status.Terminal() && scan.Status != store.ScanCancelled {
		return crawl.Result{}, fmt.Errorf("%w: %s is %s", ErrNotRunnable, scanID, scan.Status)
	}
	competitor, err := r.competitors.GetCompetitor(ctx, scan.CompetitorID)
	if err != nil {
		err = fmt.Errorf("%w: load competitor %s: %v", crawl.ErrSessionFatal, scan.CompetitorID, err)
		r.finish(ctx, scan, crawl.Result{}, err)
		return crawl.Result{}, err
	}

	logger := logging.ForScan(r.logger, scan.ID, competitor.ID)
	resume := scan.StartedAt != nil
	started := r.clock.Now()
	if scan.StartedAt == nil {
		scan.StartedAt = &started
	}
	scan.Status = store.ScanRunning
	scan.ErrorMessage = ""
	if err := r.scans.UpdateScan(ctx, scan); err != nil {
		return crawl.Result{}, fmt.Errorf("mark scan running: %w", err)
	}
	metrics.ObserveScan(string(store.ScanRunning))
	r.emit(progress.Event{ScanID: scan.ID, CompetitorID: competitor.ID, TS: started, Stage: progress.StageScanStart, URL: competitor.Website})
	logger.Info("scan started", zap.String("website", competitor.Website), zap.Bool("resume", resume))

	res, err := r.crawler.StartCrawl(ctx, crawl.Session{
		ScanID:       scan.ID,
		CompetitorID: competitor.ID,
		SeedURL:      competitor.Website,
		MaxPages:     scan.MaxPages,
		Resume:       resume,
		Progress:     r.progressFunc(ctx, scan, logger),
	})
	r.finish(ctx, scan, res, err)
	if err != nil {
		return res, fmt.Errorf("crawl scan %s: %w", scan.ID, err)
	}
	return res, nil
}

func (r *Runner) progressFunc(ctx context.Context, scan store.Scan, logger *zap.Logger) func(crawl.Progress) {
	return func(p crawl.Progress) {
		if err := r.scans.UpdateProgress(ctx, scan.ID, p.Percent, p.URL, p.PagesCrawled); err != nil && ctx.Err() == nil {
			logger.Warn("persist scan progress failed", zap.Error(err))
		}
		r.emit(progress.Event{
			ScanID:       scan.ID,
			CompetitorID: scan.CompetitorID,
			TS:           r.clock.Now(),
			Stage:        progress.StageScanProgress,
			URL:          p.URL,
			Percent:      p.Percent,
			PagesCrawled: p.PagesCrawled,
		})
	}
}

// finish writes the terminal state. It runs detached from ctx so an
// interrupted scan is still recorded as cancelled.
func (r *Runner) finish(ctx context.Context, scan store.Scan, res crawl.Result, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	// Progress and CurrentURL were persisted by the progress callback.
	if latest, err := r.scans.GetScan(ctx, scan.ID); err == nil {
		scan.CurrentURL = latest.CurrentURL
		scan.Progress = latest.Progress
	}
	now := r.clock.Now()
	scan.PagesCrawled = res.PagesCrawled
	evt := progress.Event{ScanID: scan.ID, CompetitorID: scan.CompetitorID, TS: now, PagesCrawled: res.PagesCrawled}
	if scan.StartedAt != nil {
		evt.Dur = now.Sub(*scan.StartedAt)
	}

	var alert *store.Alert
	switch {
	case runErr == nil:
		scan.Status = store.ScanCompleted
		scan.Progress = 100
		scan.CompletedAt = &now
		evt.Stage = progress.StageScanDone
		evt.Percent = 100
		alert = r.newAlert(scan, now, store.AlertScanCompleted, store.SeverityLow,
			"Scan Completed", fmt.Sprintf("Crawled %d pages (%d skipped, %d failed)", res.PagesCrawled, res.Skipped, res.Failed))
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		scan.Status = store.ScanCancelled
		scan.ErrorMessage = runErr.Error()
		evt.Stage = progress.StageScanError
		evt.Note = runErr.Error()
	default:
		scan.Status = store.ScanFailed
		scan.ErrorMessage = runErr.Error()
		scan.CompletedAt = &now
		evt.Stage = progress.StageScanError
		evt.Note = runErr.Error()
		alert = r.newAlert(scan, now, store.AlertScanFailed, store.SeverityHigh, "Scan Failed", runErr.Error())
	}

	if err := r.scans.UpdateScan(ctx, scan); err != nil {
		r.logger.Error("record scan outcome failed", zap.String("scan_id", scan.ID), zap.Error(err))
	}
	metrics.ObserveScan(string(scan.Status))
	r.emit(evt)
	if alert != nil && r.alerts != nil {
		if err := r.alerts.AddAlert(ctx, *alert); err != nil {
			r.logger.Warn("persist scan alert failed", zap.String("scan_id", scan.ID), zap.Error(err))
		}
	}
	r.logger.Info("scan finished",
		zap.String("scan_id", scan.ID),
		zap.String("status", string(scan.Status)),
		zap.Int("pages", res.PagesCrawled),
		zap.Duration("elapsed", evt.Dur),
	)
}

func (r *Runner) newAlert(scan store.Scan, now time.Time, typ store.AlertType, sev store.Severity, title, msg string) *store.Alert {
	id, err := r.ids.NewID()
	if err != nil {
		r.logger.Warn("scan alert id failed", zap.Error(err))
		return nil
	}
	return &store.Alert{
		ID:           id,
		CompetitorID: scan.CompetitorID,
		ScanID:       scan.ID,
		Type:         typ,
		Severity:     sev,
		Title:        title,
		Message:      msg,
		EntityID:     scan.ID,
		CreatedAt:    now,
	}
}

func (r *Runner) current(ctx context.Context, fallback store.Scan) store.Scan {
	scan, err := r.scans.GetScan(context.WithoutCancel(ctx), fallback.ID)
	if err != nil {
		return fallback
	}
	return scan
}

func (r *Runner) emit(evt progress.Event) {
	if r.events != nil {
		r.events.Emit(evt)
	}
}

// MonitorSummary reports a MonitorAll pass.
type MonitorSummary struct {
	Monitored int      `json:"monitored"`
	Failed    []string `json:"failed,omitempty"`
}

// MonitorAll scans every active competitor with monitoring enabled, one after
// another. A failing competitor does not stop the pass.
func (r *Runner) MonitorAll(ctx context.Context) (MonitorSummary, error) {
	competitors, err := r.competitors.ListMonitored(ctx)
	if err != nil {
		return MonitorSummary{}, fmt.Errorf("list monitored competitors: %w", err)
	}
	var summary MonitorSummary
	for _, c := range competitors {
		if ctx.Err() != nil {
			return summary, fmt.Errorf("monitor pass interrupted: %w", ctx.Err())
		}
		if _, err := r.Start(ctx, c.ID); err != nil {
			r.logger.Error("monitoring scan failed", zap.String("competitor_id", c.ID), zap.String("name", c.Name), zap.Error(err))
			summary.Failed = append(summary.Failed, c.ID)
			continue
		}
		summary.Monitored++
	}
	r.logger.Info("monitor pass finished", zap.Int("monitored", summary.Monitored), zap.Int("failed", len(summary.Failed)))
	return summary, nil
}

// Cleanup deletes scans created more than olderThan ago.
func (r *Runner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := r.clock.Now().Add(-olderThan)
	deleted, err := r.scans.DeleteScansBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete scans before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	r.logger.Info("old scans removed", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	return deleted, nil
}
