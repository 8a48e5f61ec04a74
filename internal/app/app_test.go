package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/config"
	"github.com/JakeFAU/competitor-watch/internal/fetcher"
	"github.com/JakeFAU/competitor-watch/internal/store"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Politeness.Disabled = true
	cfg.Sitemap.Enabled = false
	return cfg
}

func build(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithRegisterer(prometheus.NewRegistry())}, opts...)
	a, err := Build(context.Background(), cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestBuildInMemory(t *testing.T) {
	a := build(t, testConfig(t))

	require.NotNil(t, a.Executor())
	require.NotNil(t, a.Runner())
	require.NotNil(t, a.Repositories().Scans)
	require.NoError(t, a.ready(context.Background()))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildLocalBlobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalDir = t.TempDir()

	a := build(t, cfg)
	uri, err := a.blobs.PutObject(context.Background(), "healthcheck.txt", "text/plain", strings.NewReader("ok"))
	require.NoError(t, err)
	require.NotEmpty(t, uri)
}

func TestBuildRejectsBadDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.DB.DSN = "::not a dsn::"

	_, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "postgres init failed")
}

func TestEnsureCompetitor(t *testing.T) {
	a := build(t, testConfig(t))
	ctx := context.Background()

	c, err := a.EnsureCompetitor(ctx, "", "https://www.Acme.com/pricing")
	require.NoError(t, err)
	require.Equal(t, "acme-com", c.ID)
	require.True(t, c.Active)
	require.True(t, c.MonitorEnabled)

	again, err := a.EnsureCompetitor(ctx, "acme-com", "https://elsewhere.test/")
	require.NoError(t, err)
	require.Equal(t, "https://www.Acme.com/pricing", again.Website)
}

func TestCompetitorIDFor(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://www.acme.com/":     "acme-com",
		"http://shop.example.co.uk": "shop-example-co-uk",
		"https://127.0.0.1:8080/x":  "127-0-0-1",
		"  not a url  ":             "not a url",
	}
	for in, want := range tests {
		require.Equal(t, want, competitorIDFor(in), in)
	}
}

func TestMonitorPassScansMonitoredCompetitors(t *testing.T) {
	var hits int
	f := fetcher.Func(func(_ context.Context, url string) (fetcher.Response, error) {
		hits++
		return fetcher.Response{
			URL:        url,
			StatusCode: http.StatusOK,
			HTML:       `<html><head><title>Home</title></head><body>Welcome to the home page.</body></html>`,
		}, nil
	})
	site := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(site.Close)

	cfg := testConfig(t)
	cfg.Monitor.RetentionDays = 1
	a := build(t, cfg, WithFetcher(f))
	ctx := context.Background()

	_, err := a.EnsureCompetitor(ctx, "acme", site.URL+"/")
	require.NoError(t, err)
	old := store.Scan{ID: "old-scan", CompetitorID: "acme", Status: store.ScanCompleted, CreatedAt: time.Now().Add(-72 * time.Hour)}
	require.NoError(t, a.Repositories().Scans.CreateScan(ctx, old))

	summary := a.MonitorPass(ctx)
	require.Equal(t, 1, summary.Monitored)
	require.Empty(t, summary.Failed)
	require.Equal(t, 1, hits)

	_, err = a.Repositories().Scans.GetScan(ctx, "old-scan")
	require.ErrorIs(t, err, store.ErrNotFound)

	alerts, err := a.Repositories().Alerts.ListAlerts(ctx, "acme", 10)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	require.Equal(t, store.AlertScanCompleted, alerts[0].Type)
	require.Contains(t, alerts[0].Message, fmt.Sprintf("Crawled %d pages", 1))
}
