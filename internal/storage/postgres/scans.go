package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/competitor-watch/internal/store"
)

// GetCompetitor fetches a competitor by ID.
func (s *Store) GetCompetitor(ctx context.Context, id string) (store.Competitor, error) {
	const query = `
		SELECT id, name, website, active, monitor_enabled, created_at, updated_at
		FROM competitors
		WHERE id = $1;
	`
	var c store.Competitor
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Website, &c.Active, &c.MonitorEnabled, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return store.Competitor{}, fmt.Errorf("get competitor: %w", notFound(err))
	}
	return c, nil
}

// SaveCompetitor inserts or updates a competitor.
func (s *Store) SaveCompetitor(ctx context.Context, c store.Competitor) error {
	const query = `
		INSERT INTO competitors (id, name, website, active, monitor_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			website = EXCLUDED.website,
			active = EXCLUDED.active,
			monitor_enabled = EXCLUDED.monitor_enabled,
			updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.pool.Exec(ctx, query,
		c.ID, c.Name, c.Website, c.Active, c.MonitorEnabled, c.CreatedAt, c.UpdatedAt,
	); err != nil {
		return fmt.Errorf("save competitor: %w", err)
	}
	return nil
}

// ListMonitored returns active competitors with monitoring enabled.
func (s *Store) ListMonitored(ctx context.Context) ([]store.Competitor, error) {
	const query = `
		SELECT id, name, website, active, monitor_enabled, created_at, updated_at
		FROM competitors
		WHERE active AND monitor_enabled
		ORDER BY id;
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list competitors: %w", err)
	}
	defer rows.Close()

	var out []store.Competitor
	for rows.Next() {
		var c store.Competitor
		if err := rows.Scan(&c.ID, &c.Name, &c.Website, &c.Active, &c.MonitorEnabled, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan competitor: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate competitors: %w", err)
	}
	return out, nil
}

// CreateScan inserts a scan row.
func (s *Store) CreateScan(ctx context.Context, scan store.Scan) error {
	const query = `
		INSERT INTO scans (id, competitor_id, status, max_pages, progress, current_url,
			pages_crawled, error_message, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
	`
	if _, err := s.pool.Exec(ctx, query,
		scan.ID, scan.CompetitorID, string(scan.Status), scan.MaxPages, scan.Progress, scan.CurrentURL,
		scan.PagesCrawled, scan.ErrorMessage, scan.CreatedAt, scan.StartedAt, scan.CompletedAt,
	); err != nil {
		return fmt.Errorf("create scan: %w", err)
	}
	return nil
}

// GetScan fetches a scan by ID.
func (s *Store) GetScan(ctx context.Context, id string) (store.Scan, error) {
	const query = `
		SELECT id, competitor_id, status, max_pages, progress, current_url,
			pages_crawled, error_message, created_at, started_at, completed_at
		FROM scans
		WHERE id = $1;
	`
	var (
		scan   store.Scan
		status string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&scan.ID, &scan.CompetitorID, &status, &scan.MaxPages, &scan.Progress, &scan.CurrentURL,
		&scan.PagesCrawled, &scan.ErrorMessage, &scan.CreatedAt, &scan.StartedAt, &scan.CompletedAt,
	)
	if err != nil {
		return store.Scan{}, fmt.Errorf("get scan: %w", notFound(err))
	}
	scan.Status = store.ScanStatus(status)
	return scan, nil
}

// UpdateScan overwrites the mutable columns of a scan.
func (s *Store) UpdateScan(ctx context.Context, scan store.Scan) error {
	const query = `
		UPDATE scans
		SET status = $1, progress = $2, current_url = $3, pages_crawled = $4,
			error_message = $5, started_at = $6, completed_at = $7
		WHERE id = $8;
	`
	tag, err := s.pool.Exec(ctx, query,
		string(scan.Status), scan.Progress, scan.CurrentURL, scan.PagesCrawled,
		scan.ErrorMessage, scan.StartedAt, scan.CompletedAt, scan.ID,
	)
	if err != nil {
		return fmt.Errorf("update scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update scan %s: %w", scan.ID, store.ErrNotFound)
	}
	return nil
}

// UpdateProgress sets the progress columns of a scan.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress int, currentURL string, pagesCrawled int) error {
	const query = `
		UPDATE scans
		SET progress = $1, current_url = $2, pages_crawled = $3
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, progress, currentURL, pagesCrawled, id)
	if err != nil {
		return fmt.Errorf("update scan progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update scan progress %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// DeleteScansBefore deletes scans created before cutoff; pages cascade.
func (s *Store) DeleteScansBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scans WHERE created_at < $1;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete scans: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SavePage inserts a scan page row.
func (s *Store) SavePage(ctx context.Context, page store.Page) error {
	const query = `
		INSERT INTO scan_pages (id, scan_id, competitor_id, url, status_code, title, depth, tier,
			content_hash, simhash, phrase_hash, word_count, load_time_ms, blob_uri, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
	`
	if _, err := s.pool.Exec(ctx, query,
		page.ID, page.ScanID, page.CompetitorID, page.URL, page.StatusCode, page.Title, page.Depth, page.Tier,
		page.ContentHash, page.SimHash, page.PhraseHash, page.WordCount, page.LoadTime, page.BlobURI, page.FetchedAt,
	); err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	return nil
}

// ListPages returns the pages recorded for a scan in fetch order.
func (s *Store) ListPages(ctx context.Context, scanID string) ([]store.Page, error) {
	const query = `
		SELECT id, scan_id, competitor_id, url, status_code, title, depth, tier,
			content_hash, simhash, phrase_hash, word_count, load_time_ms, blob_uri, fetched_at
		FROM scan_pages
		WHERE scan_id = $1
		ORDER BY fetched_at;
	`
	rows, err := s.pool.Query(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var out []store.Page
	for rows.Next() {
		var p store.Page
		if err := rows.Scan(
			&p.ID, &p.ScanID, &p.CompetitorID, &p.URL, &p.StatusCode, &p.Title, &p.Depth, &p.Tier,
			&p.ContentHash, &p.SimHash, &p.PhraseHash, &p.WordCount, &p.LoadTime, &p.BlobURI, &p.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}
