// Package crawl runs crawl sessions: it seeds a frontier from the start URL
// and the site's sitemaps, fetches pages on a bounded worker pool under robots
// and politeness rules, hands every page to the change pipeline and follows
// same-origin links.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/competitor-watch/internal/change"
	"github.com/JakeFAU/competitor-watch/internal/checkpoint"
	"github.com/JakeFAU/competitor-watch/internal/fetcher"
	"github.com/JakeFAU/competitor-watch/internal/frontier"
	"github.com/JakeFAU/competitor-watch/internal/metrics"
	"github.com/JakeFAU/competitor-watch/internal/politeness"
	"github.com/JakeFAU/competitor-watch/internal/priority"
	"github.com/JakeFAU/competitor-watch/internal/progress"
	"github.com/JakeFAU/competitor-watch/internal/robots"
	"github.com/JakeFAU/competitor-watch/internal/sitemap"
	"github.com/JakeFAU/competitor-watch/internal/store"
	"github.com/JakeFAU/competitor-watch/internal/urlnorm"
)

const (
	instrumentationName = "github.com/JakeFAU/competitor-watch/internal/crawl"
	defaultConcurrency  = 5
	defaultMaxPages     = 100
	defaultSitemapURLs  = 500
	idlePoll            = 25 * time.Millisecond
	checkpointTimeout   = 10 * time.Second
)

// ErrSessionFatal marks failures that abort a whole session, such as an
// unusable seed URL.
var ErrSessionFatal = errors.New("crawl session fatal")

// RobotsGate answers robots.txt questions.
type RobotsGate interface {
	Allowed(ctx context.Context, rawURL string) bool
	Policy(ctx context.Context, origin string) robots.Policy
}

// SitemapDiscoverer finds sitemap URLs for an origin.
type SitemapDiscoverer interface {
	Discover(ctx context.Context, origin string) []string
}

// SitemapParser reads entries from a sitemap URL.
type SitemapParser interface {
	Parse(ctx context.Context, sitemapURL string, maxURLs int) []sitemap.Entry
}

// Waiter spaces requests per origin.
type Waiter interface {
	Wait(ctx context.Context, rawURL string, crawlDelay time.Duration) error
}

// PageProcessor runs change detection on a fetched page.
type PageProcessor interface {
	Process(ctx context.Context, obs change.Observation) []change.Event
}

// Config tunes the executor. Zero values select defaults.
type Config struct {
	Concurrency int
	MaxPages    int
	Frontier    frontier.Config
	// UseSitemaps seeds the frontier from discovered sitemaps.
	UseSitemaps    bool
	SitemapMaxURLs int
	// ArchiveHTML stores raw page HTML in the blob store.
	ArchiveHTML  bool
	BlockedHosts []string
	// RefusalThreshold is how many 403/429 answers block an origin.
	RefusalThreshold int
}

// Deps are the executor's collaborators. Fetcher, Pages and IDs are required.
type Deps struct {
	Fetcher     fetcher.Fetcher
	Robots      RobotsGate
	Discoverer  SitemapDiscoverer
	Parser      SitemapParser
	Politeness  Waiter
	Pages       store.PageRepository
	Blobs       store.BlobStore
	Checkpoints *checkpoint.Store
	Pipeline    PageProcessor
	Events      progress.Emitter
	IDs         store.IDGenerator
	Clock       store.Clock
	Logger      *zap.Logger
}

// Session describes one crawl.
type Session struct {
	ScanID       string
	CompetitorID string
	SeedURL      string
	// MaxPages overrides Config.MaxPages when positive.
	MaxPages int
	// Resume restores the session's checkpoint when one exists.
	Resume bool
	// Progress is called after every processed item.
	Progress func(Progress)
}

// Progress reports how far a session has come.
type Progress struct {
	Percent      int
	URL          string
	PagesCrawled int
}

// Result summarizes a finished or interrupted session.
type Result struct {
	PagesCrawled int            `json:"pages_crawled"`
	Skipped      int            `json:"skipped"`
	Failed       int            `json:"failed"`
	Frontier     frontier.Stats `json:"frontier"`
	Checkpointed bool           `json:"checkpointed"`
}

// Executor runs crawl sessions. One Executor may run many sessions
// concurrently; each gets its own frontier.
type Executor struct {
	cfg     Config
	deps    Deps
	hosts   *politeness.HostList
	tracer  trace.Tracer
	fetchMs metric.Float64Histogram
	logger  *zap.Logger
}

// New validates deps and builds an Executor.
func New(cfg Config, deps Deps) (*Executor, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("crawl executor requires a fetcher")
	}
	if deps.Pages == nil {
		return nil, errors.New("crawl executor requires a page repository")
	}
	if deps.IDs == nil {
		return nil, errors.New("crawl executor requires an id generator")
	}
	if deps.Clock == nil {
		deps.Clock = store.ClockFunc(time.Now)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Politeness == nil {
		deps.Politeness = politeness.New(politeness.Config{Disabled: true})
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.SitemapMaxURLs <= 0 {
		cfg.SitemapMaxURLs = defaultSitemapURLs
	}
	fetchMs, err := otel.Meter(instrumentationName).Float64Histogram("crawl.page.fetch.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Page fetch latency."),
	)
	if err != nil {
		return nil, fmt.Errorf("create fetch histogram: %w", err)
	}
	return &Executor{
		cfg:     cfg,
		deps:    deps,
		hosts:   politeness.NewHostList(cfg.BlockedHosts),
		tracer:  otel.Tracer(instrumentationName),
		fetchMs: fetchMs,
		logger:  deps.Logger,
	}, nil
}

// session is the mutable state of one StartCrawl call.
type session struct {
	Session
	origin   string
	maxPages int
	front    *frontier.Frontier
	blocker  *politeness.Blocker

	reserved atomic.Int64
	crawled  atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64

	mu          sync.Mutex
	interrupted []frontier.Item
}

// StartCrawl runs s to completion, page budget exhaustion or cancellation.
// On cancellation the frontier is checkpointed and the context error is
// returned alongside the partial Result.
func (e *Executor) StartCrawl(ctx context.Context, s Session) (Result, error) {
	seed, err := urlnorm.Normalize(s.SeedURL, "")
	if err != nil {
		return Result{}, fmt.Errorf("%w: seed url: %v", ErrSessionFatal, err)
	}
	origin, err := urlnorm.Origin(seed)
	if err != nil {
		return Result{}, fmt.Errorf("%w: seed origin: %v", ErrSessionFatal, err)
	}
	s.SeedURL = seed

	ctx, span := e.tracer.Start(ctx, "crawl.session", trace.WithAttributes(
		attribute.String("scan.id", s.ScanID),
		attribute.String("competitor.id", s.CompetitorID),
		attribute.String("crawl.origin", origin),
	))
	defer span.End()

	sess := &session{
		Session:  s,
		origin:   origin,
		maxPages: e.cfg.MaxPages,
		front:    frontier.New(e.cfg.Frontier, frontier.WithClock(e.deps.Clock.Now)),
		blocker:  politeness.NewBlocker(e.cfg.RefusalThreshold),
	}
	if s.MaxPages > 0 {
		sess.maxPages = s.MaxPages
	}
	logger := e.logger.With(zap.String("scan_id", s.ScanID), zap.String("origin", origin))

	if !e.restore(ctx, sess, logger) {
		e.seed(ctx, sess, logger)
	}
	logger.Info("crawl started", zap.Int("max_pages", sess.maxPages), zap.Int("queued", sess.front.Stats().Pending))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Concurrency; i++ {
		g.Go(func() error {
			e.work(gctx, sess)
			return nil
		})
	}
	_ = g.Wait()

	res := sess.result()
	span.SetAttributes(attribute.Int("crawl.pages", res.PagesCrawled))
	if ctx.Err() != nil {
		res.Checkpointed = e.checkpoint(ctx, sess, logger)
		span.SetStatus(codes.Error, "interrupted")
		logger.Warn("crawl interrupted", zap.Int("pages", res.PagesCrawled), zap.Bool("checkpointed", res.Checkpointed))
		return res, fmt.Errorf("crawl interrupted: %w", ctx.Err())
	}
	if e.deps.Checkpoints != nil {
		if err := e.deps.Checkpoints.Delete(ctx, s.ScanID); err != nil {
			logger.Warn("delete checkpoint failed", zap.Error(err))
		}
	}
	logger.Info("crawl finished",
		zap.Int("pages", res.PagesCrawled),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (s *session) result() Result {
	return Result{
		PagesCrawled: int(s.crawled.Load()),
		Skipped:      int(s.skipped.Load()),
		Failed:       int(s.failed.Load()),
		Frontier:     s.front.Stats(),
	}
}

func (s *session) percent() int {
	return min(100, int(s.crawled.Load())*100/s.maxPages)
}

func (e *Executor) restore(ctx context.Context, sess *session, logger *zap.Logger) bool {
	if !sess.Resume || e.deps.Checkpoints == nil {
		return false
	}
	snap, found, err := e.deps.Checkpoints.Load(ctx, sess.ScanID)
	if err != nil {
		logger.Warn("load checkpoint failed; starting fresh", zap.Error(err))
		return false
	}
	if !found {
		return false
	}
	sess.front.Restore(snap)
	logger.Info("crawl resumed from checkpoint",
		zap.Int("queued", len(snap.Queue)),
		zap.Int("completed", len(snap.Completed)),
	)
	return true
}

func (e *Executor) seed(ctx context.Context, sess *session, logger *zap.Logger) {
	e.admit(sess, sess.SeedURL, priorityOf(sess.SeedURL, ""), 0, "", nil)
	if !e.cfg.UseSitemaps || e.deps.Discoverer == nil || e.deps.Parser == nil {
		return
	}
	budget := e.cfg.SitemapMaxURLs
	maxDepth := sess.front.Config().MaxDepth
	admitted := 0
	for _, sm := range e.deps.Discoverer.Discover(ctx, sess.origin) {
		if budget <= 0 || ctx.Err() != nil {
			break
		}
		entries := e.deps.Parser.Parse(ctx, sm, budget)
		budget -= len(entries)
		for _, entry := range entries {
			if !urlnorm.IsSameOrigin(entry.Loc, sess.origin) {
				continue
			}
			depth := min(urlnorm.PathDepth(entry.Loc), maxDepth)
			if e.admit(sess, entry.Loc, priorityOf(entry.Loc, ""), depth, "", map[string]string{"source": "sitemap"}) {
				admitted++
			}
		}
	}
	logger.Debug("sitemap seeding done", zap.Int("admitted", admitted))
}

func (e *Executor) checkpoint(ctx context.Context, sess *session, logger *zap.Logger) bool {
	if e.deps.Checkpoints == nil {
		return false
	}
	sess.mu.Lock()
	inFlight := append([]frontier.Item(nil), sess.interrupted...)
	sess.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
	defer cancel()
	if _, err := e.deps.Checkpoints.Save(saveCtx, sess.ScanID, sess.front.Snapshot(inFlight...)); err != nil {
		logger.Error("save checkpoint failed", zap.Error(err))
		return false
	}
	return true
}

// work draws items until the frontier drains, the page budget is spent or
// ctx ends.
func (e *Executor) work(ctx context.Context, sess *session) {
	for ctx.Err() == nil {
		if sess.reserved.Add(1) > int64(sess.maxPages) {
			sess.reserved.Add(-1)
			return
		}
		item, ok := sess.front.Get()
		if !ok {
			sess.reserved.Add(-1)
			if sess.front.IsEmpty() {
				return
			}
			if !sleepCtx(ctx, idlePoll) {
				return
			}
			continue
		}
		if !e.processItem(ctx, sess, item) {
			sess.reserved.Add(-1)
		}
		if sess.Progress != nil {
			sess.Progress(Progress{Percent: sess.percent(), URL: item.URL, PagesCrawled: int(sess.crawled.Load())})
		}
	}
}

// processItem handles one frontier item and reports whether it produced a
// crawled page.
func (e *Executor) processItem(ctx context.Context, sess *session, item frontier.Item) bool {
	ctx, span := e.tracer.Start(ctx, "crawl.page", trace.WithAttributes(
		attribute.String("url.full", item.URL),
		attribute.Int("crawl.depth", item.Depth),
		attribute.String("crawl.tier", item.Tier.String()),
		attribute.Int("crawl.retries", item.Retries),
	))
	defer span.End()

	site := siteOf(item.URL)
	origin, err := urlnorm.Origin(item.URL)
	if err != nil {
		origin = sess.origin
	}
	logger := e.logger.With(zap.String("scan_id", sess.ScanID), zap.String("url", item.URL))

	if sess.blocker.IsBlocked(origin) {
		e.skip(sess, item, site, "origin refused repeated requests")
		return false
	}
	var crawlDelay time.Duration
	if e.deps.Robots != nil {
		if !e.deps.Robots.Allowed(ctx, item.URL) {
			logger.Debug("robots disallowed")
			metrics.ObserveRobotsDenial(site)
			e.skip(sess, item, site, "robots.txt")
			return false
		}
		crawlDelay = e.deps.Robots.Policy(ctx, origin).CrawlDelay
	}
	if err := e.deps.Politeness.Wait(ctx, item.URL, crawlDelay); err != nil {
		e.interrupt(sess, item)
		return false
	}

	resp, err := e.deps.Fetcher.Fetch(ctx, item.URL)
	if err == nil {
		err = fetcher.CheckStatus(resp)
	}
	if err != nil {
		if ctx.Err() != nil {
			e.interrupt(sess, item)
			return false
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		e.fail(sess, item, origin, site, resp, err, logger)
		return false
	}

	e.fetchMs.Record(ctx, float64(resp.Elapsed.Milliseconds()), metric.WithAttributes(attribute.String("site", site)))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	e.handlePage(ctx, sess, item, resp, site, logger)
	sess.crawled.Add(1)
	sess.front.Complete(item.URL)
	return true
}

func (e *Executor) handlePage(ctx context.Context, sess *session, item frontier.Item, resp fetcher.Response, site string, logger *zap.Logger) {
	page, err := e.buildPage(sess, item, resp)
	if err != nil {
		logger.Warn("build page record failed", zap.Error(err))
		return
	}
	if e.cfg.ArchiveHTML && e.deps.Blobs != nil {
		path := archivePath(sess.ScanID, page.ContentHash)
		uri, err := e.deps.Blobs.PutObject(ctx, path, "text/html; charset=utf-8", strings.NewReader(resp.HTML))
		if err != nil {
			logger.Warn("archive html failed", zap.String("path", path), zap.Error(err))
		} else {
			page.BlobURI = uri
		}
	}
	if err := e.deps.Pages.SavePage(ctx, page); err != nil {
		logger.Warn("save page failed", zap.Error(err))
	}

	if e.deps.Pipeline != nil {
		events := e.deps.Pipeline.Process(ctx, change.Observation{
			CompetitorID: sess.CompetitorID,
			ScanID:       sess.ScanID,
			URL:          item.URL,
			Title:        page.Title,
			HTML:         resp.HTML,
			ObservedAt:   page.FetchedAt,
		})
		logger.Debug("change detection done", zap.Int("events", len(events)))
	}

	base := resp.FinalURL
	if base == "" {
		base = item.URL
	}
	admitted := 0
	for _, l := range ExtractLinks(resp.HTML, base) {
		if !urlnorm.IsSameOrigin(l.URL, sess.origin) {
			continue
		}
		if e.admit(sess, l.URL, priorityOf(l.URL, l.Text), item.Depth+1, item.URL, nil) {
			admitted++
		}
	}
	logger.Debug("page crawled",
		zap.Int("status", resp.StatusCode),
		zap.Int("depth", item.Depth),
		zap.String("tier", item.Tier.String()),
		zap.Int("links_admitted", admitted),
	)
	metrics.ObservePage(site, "fetched", len(resp.HTML))
	e.emit(progress.Event{
		ScanID:       sess.ScanID,
		CompetitorID: sess.CompetitorID,
		TS:           e.deps.Clock.Now(),
		Stage:        progress.StagePageFetched,
		Site:         site,
		URL:          item.URL,
		Bytes:        int64(len(resp.HTML)),
		StatusClass:  progress.ClassifyStatus(resp.StatusCode),
		Dur:          resp.Elapsed,
	})
}

// admit adds rawURL unless its host is blocklisted or it names an asset.
func (e *Executor) admit(sess *session, rawURL string, tier priority.Tier, depth int, referrer string, metadata map[string]string) bool {
	if urlnorm.SkipExtension(rawURL) || e.hosts.Contains(hostOf(rawURL)) {
		return false
	}
	ok := sess.front.Add(rawURL, tier, depth, referrer, metadata)
	metrics.ObserveAdmission(ok)
	return ok
}

func (e *Executor) skip(sess *session, item frontier.Item, site, reason string) {
	sess.front.Complete(item.URL)
	sess.skipped.Add(1)
	metrics.ObservePage(site, "skipped", 0)
	e.emit(progress.Event{
		ScanID:       sess.ScanID,
		CompetitorID: sess.CompetitorID,
		TS:           e.deps.Clock.Now(),
		Stage:        progress.StagePageSkipped,
		Site:         site,
		URL:          item.URL,
		Note:         reason,
	})
}

func (e *Executor) fail(sess *session, item frontier.Item, origin, site string, resp fetcher.Response, err error, logger *zap.Logger) {
	if resp.StatusCode == 403 || resp.StatusCode == 429 {
		if sess.blocker.MarkRefused(origin) {
			logger.Warn("origin blocked after repeated refusals", zap.String("origin", origin))
		}
	}
	willRetry := item.Retries < sess.front.Config().MaxRetries
	sess.front.Fail(item, err)
	if willRetry {
		metrics.ObserveRetry(site)
		logger.Debug("fetch failed; retrying", zap.Int("attempt", item.Retries+1), zap.Error(err))
	} else {
		sess.failed.Add(1)
		logger.Warn("fetch failed", zap.Int("attempt", item.Retries+1), zap.Error(err))
	}
	metrics.ObservePage(site, "failed", 0)
	e.emit(progress.Event{
		ScanID:       sess.ScanID,
		CompetitorID: sess.CompetitorID,
		TS:           e.deps.Clock.Now(),
		Stage:        progress.StagePageFailed,
		Site:         site,
		URL:          item.URL,
		StatusClass:  progress.ClassifyStatus(resp.StatusCode),
		Note:         err.Error(),
	})
}

// interrupt parks an item that was cut off by cancellation so the checkpoint
// re-queues it.
func (e *Executor) interrupt(sess *session, item frontier.Item) {
	sess.front.Release(item.URL)
	sess.mu.Lock()
	sess.interrupted = append(sess.interrupted, item)
	sess.mu.Unlock()
}

func (e *Executor) emit(evt progress.Event) {
	if e.deps.Events != nil {
		e.deps.Events.Emit(evt)
	}
}

func archivePath(scanID, hash string) string {
	return fmt.Sprintf("pages/%s/%s.html", scanID, hash)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
