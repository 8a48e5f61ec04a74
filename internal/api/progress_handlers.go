package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/store"
)

const (
	defaultPageLimit  = 100
	maxPageLimit      = 1000
	defaultAlertLimit = 50
	maxAlertLimit     = 500
	readTimeout       = 3 * time.Second
)

// ReadHandler exposes read-only scan progress, pages and alerts.
type ReadHandler struct {
	repos   store.Repositories
	timeout time.Duration
	logger  *zap.Logger
}

// NewReadHandler wires the repositories and logger.
func NewReadHandler(repos store.Repositories, logger *zap.Logger) *ReadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadHandler{repos: repos, timeout: readTimeout, logger: logger}
}

// GetScan handles GET /v1/scans/{scan_id}. It returns {"scan": {...}} on
// success, 404 when the scan does not exist, 503 if no scan repository is
// configured, or 500 otherwise.
func (h *ReadHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	if h.repos.Scans == nil {
		writeError(w, http.StatusServiceUnavailable, "scan repository unavailable")
		return
	}
	scanID := chi.URLParam(r, "scan_id")
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	scan, err := h.repos.Scans.GetScan(ctx, scanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		h.logger.Error("get scan failed", zap.String("scan_id", scanID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load scan")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan": scan})
}

// ListPages handles GET /v1/scans/{scan_id}/pages?limit=&offset=. It returns
// {"pages": [...], "total": n}.
func (h *ReadHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	if h.repos.Pages == nil {
		writeError(w, http.StatusServiceUnavailable, "page repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scanID := chi.URLParam(r, "scan_id")
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	pages, err := h.repos.Pages.ListPages(ctx, scanID)
	if err != nil {
		h.logger.Error("list pages failed", zap.String("scan_id", scanID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	total := len(pages)
	start := min(offset, total)
	end := min(start+limit, total)
	writeJSON(w, http.StatusOK, map[string]any{
		"pages": pages[start:end],
		"total": total,
	})
}

// ListAlerts handles GET /v1/competitors/{competitor_id}/alerts?limit=. Alerts
// are returned newest first.
func (h *ReadHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.repos.Alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "alert repository unavailable")
		return
	}
	limit, _, err := parseLimitOffset(r, defaultAlertLimit, maxAlertLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	competitorID := chi.URLParam(r, "competitor_id")
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	alerts, err := h.repos.Alerts.ListAlerts(ctx, competitorID, limit)
	if err != nil {
		h.logger.Error("list alerts failed", zap.String("competitor_id", competitorID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []store.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
