package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/crawl"
	memorystorage "github.com/JakeFAU/competitor-watch/internal/storage/memory"
	"github.com/JakeFAU/competitor-watch/internal/store"
	"github.com/JakeFAU/competitor-watch/internal/urlnorm"
)

type mockScans struct {
	mock.Mock
}

func (m *mockScans) Create(ctx context.Context, competitorID string) (store.Scan, error) {
	args := m.Called(ctx, competitorID)
	return args.Get(0).(store.Scan), args.Error(1)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, scanID string) error {
	return m.Called(ctx, scanID).Error(0)
}

type fakeFetcher struct {
	summary crawl.PageSummary
	err     error
}

func (f fakeFetcher) QuickFetch(_ context.Context, rawURL string) (crawl.PageSummary, error) {
	if f.err != nil {
		return crawl.PageSummary{}, f.err
	}
	s := f.summary
	s.URL = rawURL
	return s, nil
}

type testServer struct {
	server *Server
	scans  *mockScans
	queue  *mockQueue
	repos  store.Repositories
}

func newTestServer(t *testing.T, cfg Config, fetch fakeFetcher) testServer {
	t.Helper()
	scans := &mockScans{}
	q := &mockQueue{}
	repos := memorystorage.NewStore().Repositories()
	s := NewServer(Deps{Scans: scans, Queue: q, Fetcher: fetch, Repos: repos}, cfg, zap.NewNop())
	t.Cleanup(func() {
		scans.AssertExpectations(t)
		q.AssertExpectations(t)
	})
	return testServer{server: s, scans: scans, queue: q, repos: repos}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Config{}, fakeFetcher{})
	rec := do(t, ts.server.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, ts.server.Handler(), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, ts.server.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ReadyzReportsDownstreamFailure(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{
		Repos: memorystorage.NewStore().Repositories(),
		Ready: func(context.Context) error { return errors.New("db down") },
	}, Config{}, zap.NewNop())

	rec := do(t, s.Handler(), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_CreateScanQueuesIt(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Config{}, fakeFetcher{})
	ts.scans.On("Create", mock.Anything, "acme").
		Return(store.Scan{ID: "scan-1", CompetitorID: "acme", Status: store.ScanPending}, nil).Once()
	ts.queue.On("Enqueue", mock.Anything, "scan-1").Return(nil).Once()

	rec := do(t, ts.server.Handler(), http.MethodPost, "/v1/scans", `{"competitor_id":"acme"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "scan-1", body["scan_id"])
	require.Equal(t, "pending", body["status"])
}

func TestServer_CreateScanErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		setup  func(ts testServer)
		status int
	}{
		{name: "invalid json", body: "{invalid", status: http.StatusBadRequest},
		{name: "missing competitor", body: `{}`, status: http.StatusBadRequest},
		{
			name: "unknown competitor",
			body: `{"competitor_id":"ghost"}`,
			setup: func(ts testServer) {
				ts.scans.On("Create", mock.Anything, "ghost").
					Return(store.Scan{}, fmt.Errorf("load competitor ghost: %w", store.ErrNotFound)).Once()
			},
			status: http.StatusNotFound,
		},
		{
			name: "store failure",
			body: `{"competitor_id":"acme"}`,
			setup: func(ts testServer) {
				ts.scans.On("Create", mock.Anything, "acme").Return(store.Scan{}, errors.New("boom")).Once()
			},
			status: http.StatusInternalServerError,
		},
		{
			name: "queue unavailable",
			body: `{"competitor_id":"acme"}`,
			setup: func(ts testServer) {
				ts.scans.On("Create", mock.Anything, "acme").Return(store.Scan{ID: "scan-2"}, nil).Once()
				ts.queue.On("Enqueue", mock.Anything, "scan-2").Return(errors.New("queue closed")).Once()
			},
			status: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, Config{}, fakeFetcher{})
			if tt.setup != nil {
				tt.setup(ts)
			}
			rec := do(t, ts.server.Handler(), http.MethodPost, "/v1/scans", tt.body)
			require.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestServer_QuickFetch(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Config{}, fakeFetcher{summary: crawl.PageSummary{StatusCode: 200, Title: "Acme", WordCount: 42}})
	rec := do(t, ts.server.Handler(), http.MethodPost, "/v1/quickfetch", `{"url":"https://acme.test/"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var summary crawl.PageSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, "https://acme.test/", summary.URL)
	require.Equal(t, "Acme", summary.Title)
	require.Equal(t, 42, summary.WordCount)
}

func TestServer_QuickFetchErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "missing url", body: `{}`, status: http.StatusBadRequest},
		{name: "bad scheme", body: `{"url":"ftp://x"}`, err: fmt.Errorf("normalize url: %w", urlnorm.ErrUnsupportedScheme), status: http.StatusBadRequest},
		{name: "robots", body: `{"url":"https://x/private"}`, err: fmt.Errorf("x: %w", crawl.ErrDisallowed), status: http.StatusForbidden},
		{name: "timeout", body: `{"url":"https://x/"}`, err: fmt.Errorf("fetch: %w", context.DeadlineExceeded), status: http.StatusGatewayTimeout},
		{name: "upstream", body: `{"url":"https://x/"}`, err: errors.New("connection refused"), status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, Config{}, fakeFetcher{err: tt.err})
			rec := do(t, ts.server.Handler(), http.MethodPost, "/v1/quickfetch", tt.body)
			require.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestServer_APIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Config{AuthEnabled: true, APIKey: "s3cret"}, fakeFetcher{})
	h := ts.server.Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/v1/scans/x", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/scans/x", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/scans/x?api_key=s3cret", "").Code)
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_TimeoutMiddleware(t *testing.T) {
	t.Parallel()

	h := timeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDPropagatesInbound(t *testing.T) {
	t.Parallel()

	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = requestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "req-123", seen)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
