package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/crawl"
	"github.com/JakeFAU/competitor-watch/internal/progress"
	"github.com/JakeFAU/competitor-watch/internal/storage/memory"
	"github.com/JakeFAU/competitor-watch/internal/store"
)

type mockCrawler struct {
	mock.Mock
}

func (m *mockCrawler) StartCrawl(ctx context.Context, s crawl.Session) (crawl.Result, error) {
	args := m.Called(ctx, s)
	return args.Get(0).(crawl.Result), args.Error(1)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type recorder struct {
	mu     sync.Mutex
	stages []progress.Stage
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, evt.Stage)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Runner, *memory.Store, *mockCrawler, *recorder) {
	t.Helper()
	mem := memory.NewStore()
	for _, c := range []store.Competitor{
		{ID: "acme", Name: "Acme", Website: "https://acme.test", Active: true, MonitorEnabled: true},
		{ID: "globex", Name: "Globex", Website: "https://globex.test", Active: true, MonitorEnabled: true},
		{ID: "initech", Name: "Initech", Website: "https://initech.test", Active: false, MonitorEnabled: true},
	} {
		require.NoError(t, mem.SaveCompetitor(context.Background(), c))
	}
	crawler := &mockCrawler{}
	events := &recorder{}
	runner := NewRunner(crawler, mem.Repositories(), events, &seqIDs{},
		store.ClockFunc(func() time.Time { return fixedNow }), Config{MaxPages: 25}, zap.NewNop())
	return runner, mem, crawler, events
}

func TestStartCompletesScan(t *testing.T) {
	t.Parallel()

	runner, mem, crawler, events := setup(t)
	crawler.On("StartCrawl", mock.Anything, mock.MatchedBy(func(s crawl.Session) bool {
		return s.CompetitorID == "acme" && s.SeedURL == "https://acme.test" && s.MaxPages == 25 && !s.Resume
	})).Run(func(args mock.Arguments) {
		s := args.Get(1).(crawl.Session)
		s.Progress(crawl.Progress{Percent: 40, URL: "https://acme.test/pricing", PagesCrawled: 10})
	}).Return(crawl.Result{PagesCrawled: 12, Skipped: 2}, nil).Once()

	scan, err := runner.Start(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, store.ScanCompleted, scan.Status)
	require.Equal(t, 100, scan.Progress)
	require.Equal(t, 12, scan.PagesCrawled)
	require.Equal(t, "https://acme.test/pricing", scan.CurrentURL)
	require.NotNil(t, scan.StartedAt)
	require.NotNil(t, scan.CompletedAt)
	crawler.AssertExpectations(t)

	alerts, err := mem.ListAlerts(context.Background(), "acme", 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, store.AlertScanCompleted, alerts[0].Type)
	require.Equal(t, "Crawled 12 pages (2 skipped, 0 failed)", alerts[0].Message)
	require.Equal(t, []progress.Stage{progress.StageScanStart, progress.StageScanProgress, progress.StageScanDone}, events.stages)
}

func TestRunRecordsFailure(t *testing.T) {
	t.Parallel()

	runner, mem, crawler, events := setup(t)
	crawler.On("StartCrawl", mock.Anything, mock.Anything).
		Return(crawl.Result{}, fmt.Errorf("%w: seed url: bad", crawl.ErrSessionFatal)).Once()

	scan, err := runner.Start(context.Background(), "acme")
	require.ErrorIs(t, err, crawl.ErrSessionFatal)
	require.Equal(t, store.ScanFailed, scan.Status)
	require.Contains(t, scan.ErrorMessage, "seed url")

	alerts, err := mem.ListAlerts(context.Background(), "acme", 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, store.AlertScanFailed, alerts[0].Type)
	require.Equal(t, store.SeverityHigh, alerts[0].Severity)
	require.Equal(t, progress.StageScanError, events.stages[len(events.stages)-1])
}

func TestRunResumesCancelledScan(t *testing.T) {
	t.Parallel()

	runner, mem, crawler, _ := setup(t)
	crawler.On("StartCrawl", mock.Anything, mock.MatchedBy(func(s crawl.Session) bool { return !s.Resume })).
		Run(func(args mock.Arguments) {
			s := args.Get(1).(crawl.Session)
			s.Progress(crawl.Progress{Percent: 30, URL: "https://acme.test/blog", PagesCrawled: 3})
		}).
		Return(crawl.Result{PagesCrawled: 3}, fmt.Errorf("crawl interrupted: %w", context.Canceled)).Once()
	crawler.On("StartCrawl", mock.Anything, mock.MatchedBy(func(s crawl.Session) bool { return s.Resume })).
		Return(crawl.Result{PagesCrawled: 9}, nil).Once()

	scan, err := runner.Start(context.Background(), "acme")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, store.ScanCancelled, scan.Status)
	require.Equal(t, 30, scan.Progress, "progress saved before the interruption is kept")
	require.Equal(t, "https://acme.test/blog", scan.CurrentURL)
	require.Nil(t, scan.CompletedAt)

	alerts, err := mem.ListAlerts(context.Background(), "acme", 0)
	require.NoError(t, err)
	require.Empty(t, alerts)

	res, err := runner.Run(context.Background(), scan.ID)
	require.NoError(t, err)
	require.Equal(t, 9, res.PagesCrawled)
	got, err := mem.GetScan(context.Background(), scan.ID)
	require.NoError(t, err)
	require.Equal(t, store.ScanCompleted, got.Status)
	require.Empty(t, got.ErrorMessage)
	crawler.AssertExpectations(t)
}

func TestRunRejectsFinishedScan(t *testing.T) {
	t.Parallel()

	runner, mem, crawler, _ := setup(t)
	require.NoError(t, mem.CreateScan(context.Background(), store.Scan{ID: "done", CompetitorID: "acme", Status: store.ScanCompleted}))

	_, err := runner.Run(context.Background(), "done")
	require.ErrorIs(t, err, ErrNotRunnable)
	_, err = runner.Run(context.Background(), "missing")
	require.ErrorIs(t, err, crawl.ErrSessionFatal)
	crawler.AssertNotCalled(t, "StartCrawl", mock.Anything, mock.Anything)
}

func TestRunFailsScanWithMissingCompetitor(t *testing.T) {
	t.Parallel()

	runner, mem, _, _ := setup(t)
	require.NoError(t, mem.CreateScan(context.Background(), store.Scan{ID: "orphan", CompetitorID: "gone", Status: store.ScanPending}))

	_, err := runner.Run(context.Background(), "orphan")
	require.ErrorIs(t, err, crawl.ErrSessionFatal)
	got, err := mem.GetScan(context.Background(), "orphan")
	require.NoError(t, err)
	require.Equal(t, store.ScanFailed, got.Status)
}

func TestCreateRequiresCompetitor(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := setup(t)
	_, err := runner.Create(context.Background(), "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)

	scan, err := runner.Create(context.Background(), "globex")
	require.NoError(t, err)
	require.Equal(t, store.ScanPending, scan.Status)
	require.Equal(t, 25, scan.MaxPages)
	require.Equal(t, fixedNow, scan.CreatedAt)
}

func TestMonitorAllContinuesPastFailures(t *testing.T) {
	t.Parallel()

	runner, _, crawler, _ := setup(t)
	crawler.On("StartCrawl", mock.Anything, mock.MatchedBy(func(s crawl.Session) bool { return s.CompetitorID == "acme" })).
		Return(crawl.Result{}, errors.New("boom")).Once()
	crawler.On("StartCrawl", mock.Anything, mock.MatchedBy(func(s crawl.Session) bool { return s.CompetitorID == "globex" })).
		Return(crawl.Result{PagesCrawled: 4}, nil).Once()

	summary, err := runner.MonitorAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Monitored)
	require.Equal(t, []string{"acme"}, summary.Failed)
	crawler.AssertExpectations(t)
}

func TestCleanupDeletesOldScans(t *testing.T) {
	t.Parallel()

	runner, mem, _, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, mem.CreateScan(ctx, store.Scan{ID: "old", CompetitorID: "acme", CreatedAt: fixedNow.AddDate(0, 0, -45)}))
	require.NoError(t, mem.CreateScan(ctx, store.Scan{ID: "recent", CompetitorID: "acme", CreatedAt: fixedNow.AddDate(0, 0, -2)}))

	deleted, err := runner.Cleanup(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
	_, err = mem.GetScan(ctx, "old")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = mem.GetScan(ctx, "recent")
	require.NoError(t, err)
}
