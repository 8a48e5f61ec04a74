package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competitor-watch/internal/store"
)

func seedScan(t *testing.T, repos store.Repositories, pages int) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repos.Scans.CreateScan(ctx, store.Scan{
		ID: "scan-1", CompetitorID: "acme", Status: store.ScanRunning, Progress: 40, CreatedAt: now,
	}))
	for i := range pages {
		require.NoError(t, repos.Pages.SavePage(ctx, store.Page{
			ID:           fmt.Sprintf("page-%d", i),
			ScanID:       "scan-1",
			CompetitorID: "acme",
			URL:          fmt.Sprintf("https://acme.test/p%d", i),
			StatusCode:   200,
			FetchedAt:    now,
		}))
	}
}

func TestReadHandler_GetScan(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Config{}, fakeFetcher{})
	seedScan(t, ts.repos, 0)

	rec := do(t, ts.server.Handler(), http.MethodGet, "/v1/scans/scan-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Scan store.Scan `json:"scan"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, store.ScanRunning, body.Scan.Status)
	require.Equal(t, 40, body.Scan.Progress)

	rec = do(t, ts.server.Handler(), http.MethodGet, "/v1/scans/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadHandler_ListPagesPaginates(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Config{}, fakeFetcher{})
	seedScan(t, ts.repos, 5)

	rec := do(t, ts.server.Handler(), http.MethodGet, "/v1/scans/scan-1/pages?limit=2&offset=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Pages []store.Page `json:"pages"`
		Total int          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 5, body.Total)
	require.Len(t, body.Pages, 2)
	require.Equal(t, "https://acme.test/p3", body.Pages[0].URL)

	rec = do(t, ts.server.Handler(), http.MethodGet, "/v1/scans/scan-1/pages?offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body.Pages)

	rec = do(t, ts.server.Handler(), http.MethodGet, "/v1/scans/scan-1/pages?limit=zero", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadHandler_ListAlertsNewestFirst(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Config{}, fakeFetcher{})
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, ts.repos.Alerts.AddAlert(ctx, store.Alert{
			ID:           fmt.Sprintf("alert-%d", i),
			CompetitorID: "acme",
			Type:         store.AlertPriceChange,
			Severity:     store.SeverityMedium,
			Title:        "Price Change",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := do(t, ts.server.Handler(), http.MethodGet, "/v1/competitors/acme/alerts?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Alerts []store.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Alerts, 2)
	require.Equal(t, "alert-2", body.Alerts[0].ID)

	rec = do(t, ts.server.Handler(), http.MethodGet, "/v1/competitors/nobody/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"alerts":[]}`, rec.Body.String())
}

func TestParseLimitOffset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{query: "", wantLimit: 10},
		{query: "limit=5&offset=2", wantLimit: 5, wantOffset: 2},
		{query: "limit=5000", wantLimit: 20},
		{query: "limit=-1", wantErr: true},
		{query: "offset=-3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			req, err := http.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			require.NoError(t, err)
			limit, offset, err := parseLimitOffset(req, 10, 20)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantLimit, limit)
			require.Equal(t, tt.wantOffset, offset)
		})
	}
}
