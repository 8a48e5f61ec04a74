// Package app builds the long-lived services behind every command and owns
// their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/api"
	"github.com/JakeFAU/competitor-watch/internal/change"
	"github.com/JakeFAU/competitor-watch/internal/checkpoint"
	"github.com/JakeFAU/competitor-watch/internal/clock/system"
	"github.com/JakeFAU/competitor-watch/internal/config"
	"github.com/JakeFAU/competitor-watch/internal/crawl"
	"github.com/JakeFAU/competitor-watch/internal/dispatcher"
	"github.com/JakeFAU/competitor-watch/internal/fetcher"
	collyfetcher "github.com/JakeFAU/competitor-watch/internal/fetcher/colly"
	"github.com/JakeFAU/competitor-watch/internal/fetcher/headless"
	"github.com/JakeFAU/competitor-watch/internal/frontier"
	"github.com/JakeFAU/competitor-watch/internal/hash/sha256"
	"github.com/JakeFAU/competitor-watch/internal/id/uuid"
	"github.com/JakeFAU/competitor-watch/internal/politeness"
	"github.com/JakeFAU/competitor-watch/internal/progress"
	progresssinks "github.com/JakeFAU/competitor-watch/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/competitor-watch/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/competitor-watch/internal/queue/memory"
	"github.com/JakeFAU/competitor-watch/internal/robots"
	"github.com/JakeFAU/competitor-watch/internal/scan"
	"github.com/JakeFAU/competitor-watch/internal/sitemap"
	gcsstorage "github.com/JakeFAU/competitor-watch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/competitor-watch/internal/storage/local"
	memorystorage "github.com/JakeFAU/competitor-watch/internal/storage/memory"
	pgstore "github.com/JakeFAU/competitor-watch/internal/storage/postgres"
	"github.com/JakeFAU/competitor-watch/internal/store"
	"github.com/JakeFAU/competitor-watch/internal/telemetry"
)

// Version is stamped at build time.
var Version = "dev"

// Option customizes Build.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	fetcher    fetcher.Fetcher
}

// WithRegisterer registers progress collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithFetcher replaces the colly/chromedp fetch stack.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	repos      store.Repositories
	blobs      store.BlobStore
	executor   *crawl.Executor
	runner     *scan.Runner
	queue      *queuememory.Queue
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server
	hub        *progress.Hub
	clock      store.Clock

	pg         *pgstore.Store
	gcsClient  *storage.Client
	pubsub     *gcppublisher.Publisher
	headless   *headless.Fetcher
	telemetry  *telemetry.Providers
	baseCancel context.CancelFunc
}

// Build creates the application's dependencies. On error everything already
// created is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app = &App{cfg: cfg, logger: logger, baseCancel: cancel, clock: system.New()}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	app.telemetry, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		ProjectID:   cfg.Telemetry.ProjectID,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	logger.Info("building application dependencies", zap.String("version", Version))
	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err = app.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err = app.setupProgress(ctx, baseCtx, o.registerer); err != nil {
		return nil, err
	}
	if err = app.setupExecutor(o.fetcher); err != nil {
		return nil, err
	}

	app.runner = scan.NewRunner(app.executor, app.repos, app.emitter(), uuid.New(), app.clock,
		scan.Config{MaxPages: cfg.Crawler.MaxPages}, logger.Named("scan"))
	app.queue = queuememory.NewQueue(cfg.Monitor.QueueDepth)
	app.dispatch = dispatcher.New(app.queue, app.runner, cfg.Monitor.Workers, logger.Named("dispatcher"))
	app.apiServer = api.NewServer(api.Deps{
		Scans:   app.runner,
		Queue:   app.dispatch,
		Fetcher: app.executor,
		Repos:   app.repos,
		Ready:   app.ready,
	}, api.Config{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.FetchTimeout() + 5*time.Second,
	}, logger.Named("api"))

	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN configured, keeping records in memory")
		a.repos = memorystorage.NewStore().Repositories()
		return nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.ConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pg = pg
	if a.cfg.DB.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
	}
	a.repos = pg.Repositories()
	a.logger.Info("postgres store initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		a.blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
	default:
		a.logger.Info("using in-memory storage backend")
		a.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupProgress(ctx, baseCtx context.Context, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if a.cfg.PubSub.Enabled {
		a.pubsub, err = gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("pubsub init failed: %w", err)
		}
		sinkList = append(sinkList, progresssinks.NewPublishSink(a.pubsub, a.cfg.PubSub.TopicName, a.logger.Named("progress_publish")))
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.BatchSize,
		MaxBatchWait:   time.Duration(a.cfg.Progress.BatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    baseCtx,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Debug("progress hub initialized", zap.Int("sinks", len(sinkList)), zap.Int("buffer_size", hubCfg.BufferSize))
	return nil
}

func (a *App) setupExecutor(override fetcher.Fetcher) error {
	cfg := a.cfg
	ua := cfg.Crawler.UserAgent
	headers := make(http.Header, len(cfg.Fetch.Headers))
	for k, v := range cfg.Fetch.Headers {
		headers.Set(k, v)
	}
	client := collyfetcher.NewHTTPClient(cfg.FetchTimeout())

	f := override
	if f == nil {
		plain := collyfetcher.New(collyfetcher.Config{UserAgent: ua, Timeout: cfg.FetchTimeout(), Headers: headers})
		f = plain
		if cfg.Headless.Enabled {
			rendered, err := headless.NewChromedp(headless.Config{
				MaxParallel:       cfg.Headless.MaxParallel,
				UserAgent:         ua,
				NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
				Headers:           headers,
			})
			if err != nil {
				return fmt.Errorf("headless fetcher init failed: %w", err)
			}
			a.headless = rendered
			f = fetcher.NewPromoting(plain, rendered, headless.NewHeuristic(cfg.Headless.PromotionBytes), a.logger.Named("fetcher"))
			a.logger.Info("using headless promotion", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	robotsCache := robots.NewCache(robots.Config{
		UserAgent:  ua,
		AgentToken: cfg.Robots.AgentToken,
		TTL:        cfg.RobotsTTL(),
		Respect:    cfg.Robots.Respect,
	}, a.logger.Named("robots"), robots.WithClient(client))

	ids := uuid.New()
	pipeline := change.NewPipeline(a.repos.Alerts, a.emitter(), a.clock, a.logger.Named("change"),
		change.NewContentCoordinator(change.ContentConfig{MinLength: cfg.Change.ContentMinLength}, a.repos.Content, ids, a.clock, a.logger.Named("content")),
		change.NewPriceCoordinator(change.PriceConfig{Threshold: cfg.Change.PriceThreshold}, change.HeuristicPriceExtractor{}, a.repos.Prices, ids, a.clock, a.logger.Named("price")),
		change.NewProductCoordinator(change.HeuristicProductExtractor{}, a.repos.Products, sha256.New(), ids, a.clock, a.logger.Named("product")),
	)

	exec, err := crawl.New(crawl.Config{
		Concurrency: cfg.Crawler.Concurrency,
		MaxPages:    cfg.Crawler.MaxPages,
		Frontier: frontier.Config{
			MaxDepth:   cfg.Frontier.MaxDepth,
			MaxRetries: cfg.Frontier.MaxRetries,
			MaxURLs:    cfg.Frontier.MaxURLs,
		},
		UseSitemaps:      cfg.Sitemap.Enabled,
		SitemapMaxURLs:   cfg.Sitemap.MaxURLs,
		ArchiveHTML:      cfg.Crawler.ArchiveHTML,
		BlockedHosts:     cfg.Crawler.BlockedHosts,
		RefusalThreshold: cfg.Crawler.RefusalThreshold,
	}, crawl.Deps{
		Fetcher:    f,
		Robots:     robotsCache,
		Discoverer: sitemap.NewDiscoverer(client, robotsCache, ua, a.logger.Named("sitemap")),
		Parser:     sitemap.NewParser(client, ua, cfg.Sitemap.NestedCap, a.logger.Named("sitemap")),
		Politeness: politeness.New(politeness.Config{
			MinDelay: time.Duration(cfg.Politeness.MinDelayMs) * time.Millisecond,
			MaxDelay: time.Duration(cfg.Politeness.MaxDelayMs) * time.Millisecond,
			Disabled: cfg.Politeness.Disabled,
		}),
		Pages:       a.repos.Pages,
		Blobs:       a.blobs,
		Checkpoints: checkpoint.New(a.blobs),
		Pipeline:    pipeline,
		Events:      a.emitter(),
		IDs:         ids,
		Clock:       a.clock,
		Logger:      a.logger.Named("crawl"),
	})
	if err != nil {
		return fmt.Errorf("executor init failed: %w", err)
	}
	a.executor = exec
	return nil
}

// emitter returns the hub as an Emitter, or nil before the hub exists.
func (a *App) emitter() progress.Emitter {
	if a.hub == nil {
		return nil
	}
	return a.hub
}

func (a *App) ready(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	if err := a.pg.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Config returns the configuration the App was built with.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Repositories exposes the configured stores.
func (a *App) Repositories() store.Repositories { return a.repos }

// Executor returns the crawl executor.
func (a *App) Executor() *crawl.Executor { return a.executor }

// Runner returns the scan runner.
func (a *App) Runner() *scan.Runner { return a.runner }

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// EnsureCompetitor returns the competitor with id, registering it with website
// when it does not exist yet. An empty id derives one from website's host.
func (a *App) EnsureCompetitor(ctx context.Context, id, website string) (store.Competitor, error) {
	if id == "" {
		id = competitorIDFor(website)
	}
	c, err := a.repos.Competitors.GetCompetitor(ctx, id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Competitor{}, fmt.Errorf("load competitor %s: %w", id, err)
	}
	now := a.clock.Now()
	c = store.Competitor{
		ID:             id,
		Name:           id,
		Website:        website,
		Active:         true,
		MonitorEnabled: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.repos.Competitors.SaveCompetitor(ctx, c); err != nil {
		return store.Competitor{}, fmt.Errorf("save competitor %s: %w", id, err)
	}
	a.logger.Info("competitor registered", zap.String("competitor_id", id), zap.String("website", website))
	return c, nil
}

// Serve runs the HTTP server, the scan workers and, when configured, the
// monitor loop until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Monitor.Workers))
		a.dispatch.Run(ctx)
	}()
	if interval := a.cfg.MonitorInterval(); interval > 0 {
		go a.monitorLoop(ctx, interval)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("scan workers did not stop before shutdown timeout")
	}
	return runErr
}

func (a *App) monitorLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.logger.Info("monitor loop started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.MonitorPass(ctx)
		}
	}
}

// MonitorPass runs one monitoring pass and prunes scans past retention.
func (a *App) MonitorPass(ctx context.Context) scan.MonitorSummary {
	summary, err := a.runner.MonitorAll(ctx)
	if err != nil {
		a.logger.Warn("monitor pass failed", zap.Error(err))
	}
	if retention := a.cfg.Retention(); retention > 0 && ctx.Err() == nil {
		if _, err := a.runner.Cleanup(ctx, retention); err != nil {
			a.logger.Warn("scan cleanup failed", zap.Error(err))
		}
	}
	return summary
}

// Close releases every service in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		a.queue.Close()
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub close: %w", err))
		}
	}
	if a.baseCancel != nil {
		a.baseCancel()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// competitorIDFor derives a stable id from a website, e.g. acme-com for
// https://www.acme.com/.
func competitorIDFor(website string) string {
	u, err := url.Parse(website)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(strings.TrimSpace(website))
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return strings.ReplaceAll(host, ".", "-")
}
