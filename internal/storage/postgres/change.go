package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/competitor-watch/internal/store"
)

// GetContent fetches content state by (competitor, url).
func (s *Store) GetContent(ctx context.Context, competitorID, url string) (store.ContentRecord, error) {
	const query = `
		SELECT id, competitor_id, url, title, category, body, content_hash, simhash, word_count,
			readability, keywords, first_seen, last_checked, last_changed
		FROM content
		WHERE competitor_id = $1 AND url = $2;
	`
	var rec store.ContentRecord
	err := s.pool.QueryRow(ctx, query, competitorID, url).Scan(
		&rec.ID, &rec.CompetitorID, &rec.URL, &rec.Title, &rec.Category, &rec.Text, &rec.ContentHash,
		&rec.SimHash, &rec.WordCount, &rec.Readability, &rec.Keywords, &rec.FirstSeen, &rec.LastChecked,
		&rec.LastChanged,
	)
	if err != nil {
		return store.ContentRecord{}, fmt.Errorf("get content: %w", notFound(err))
	}
	return rec, nil
}

// UpsertContent inserts or updates content state on (competitor, url).
func (s *Store) UpsertContent(ctx context.Context, rec store.ContentRecord) error {
	const query = `
		INSERT INTO content (id, competitor_id, url, title, category, body, content_hash, simhash,
			word_count, readability, keywords, first_seen, last_checked, last_changed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (competitor_id, url) DO UPDATE
		SET title = EXCLUDED.title,
			category = EXCLUDED.category,
			body = EXCLUDED.body,
			content_hash = EXCLUDED.content_hash,
			simhash = EXCLUDED.simhash,
			word_count = EXCLUDED.word_count,
			readability = EXCLUDED.readability,
			keywords = EXCLUDED.keywords,
			last_checked = EXCLUDED.last_checked,
			last_changed = EXCLUDED.last_changed;
	`
	keywords := rec.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	if _, err := s.pool.Exec(ctx, query,
		rec.ID, rec.CompetitorID, rec.URL, rec.Title, rec.Category, rec.Text, rec.ContentHash, rec.SimHash,
		rec.WordCount, rec.Readability, keywords, rec.FirstSeen, rec.LastChecked, rec.LastChanged,
	); err != nil {
		return fmt.Errorf("upsert content: %w", err)
	}
	return nil
}

// TouchContent refreshes last_checked.
func (s *Store) TouchContent(ctx context.Context, id string, checkedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE content SET last_checked = $1 WHERE id = $2;`, checkedAt, id)
	if err != nil {
		return fmt.Errorf("touch content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("touch content %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// AddContentChange appends a content change row.
func (s *Store) AddContentChange(ctx context.Context, c store.ContentChange) error {
	const query = `
		INSERT INTO content_changes (id, content_id, competitor_id, url, old_hash, new_hash,
			similarity, word_count_delta, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	if _, err := s.pool.Exec(ctx, query,
		c.ID, c.ContentID, c.CompetitorID, c.URL, c.OldHash, c.NewHash, c.Similarity, c.WordCountDelta, c.DetectedAt,
	); err != nil {
		return fmt.Errorf("insert content change: %w", err)
	}
	return nil
}

// LatestPrice returns the newest observation for (competitor, product).
func (s *Store) LatestPrice(ctx context.Context, competitorID, productName string) (store.PriceObservation, error) {
	const query = `
		SELECT id, competitor_id, scan_id, product_name, url, price, currency,
			original_price, discount_percent, observed_at
		FROM price_history
		WHERE competitor_id = $1 AND product_name = $2
		ORDER BY observed_at DESC
		LIMIT 1;
	`
	var obs store.PriceObservation
	err := s.pool.QueryRow(ctx, query, competitorID, productName).Scan(
		&obs.ID, &obs.CompetitorID, &obs.ScanID, &obs.ProductName, &obs.URL, &obs.Price, &obs.Currency,
		&obs.OriginalPrice, &obs.DiscountPercent, &obs.ObservedAt,
	)
	if err != nil {
		return store.PriceObservation{}, fmt.Errorf("get latest price: %w", notFound(err))
	}
	return obs, nil
}

// AddObservation appends a price observation.
func (s *Store) AddObservation(ctx context.Context, obs store.PriceObservation) error {
	const query = `
		INSERT INTO price_history (id, competitor_id, scan_id, product_name, url, price, currency,
			original_price, discount_percent, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`
	if _, err := s.pool.Exec(ctx, query,
		obs.ID, obs.CompetitorID, obs.ScanID, obs.ProductName, obs.URL, obs.Price, obs.Currency,
		obs.OriginalPrice, obs.DiscountPercent, obs.ObservedAt,
	); err != nil {
		return fmt.Errorf("insert price observation: %w", err)
	}
	return nil
}

// AddPriceChange appends a price change row.
func (s *Store) AddPriceChange(ctx context.Context, c store.PriceChange) error {
	const query = `
		INSERT INTO price_changes (id, competitor_id, product_name, url, old_price, new_price,
			currency, change_type, change_percent, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`
	if _, err := s.pool.Exec(ctx, query,
		c.ID, c.CompetitorID, c.ProductName, c.URL, c.OldPrice, c.NewPrice,
		c.Currency, string(c.ChangeType), c.ChangePercent, c.DetectedAt,
	); err != nil {
		return fmt.Errorf("insert price change: %w", err)
	}
	return nil
}

// GetProduct fetches product state by (competitor, name).
func (s *Store) GetProduct(ctx context.Context, competitorID, name string) (store.ProductRecord, error) {
	const query = `
		SELECT id, competitor_id, name, url, image_url, description, description_hash, category,
			available, first_seen, last_checked, last_changed
		FROM products
		WHERE competitor_id = $1 AND name = $2;
	`
	var rec store.ProductRecord
	err := s.pool.QueryRow(ctx, query, competitorID, name).Scan(
		&rec.ID, &rec.CompetitorID, &rec.Name, &rec.URL, &rec.ImageURL, &rec.Description, &rec.DescriptionHash,
		&rec.Category, &rec.Available, &rec.FirstSeen, &rec.LastChecked, &rec.LastChanged,
	)
	if err != nil {
		return store.ProductRecord{}, fmt.Errorf("get product: %w", notFound(err))
	}
	return rec, nil
}

// UpsertProduct inserts or updates product state on (competitor, name).
func (s *Store) UpsertProduct(ctx context.Context, rec store.ProductRecord) error {
	const query = `
		INSERT INTO products (id, competitor_id, name, url, image_url, description, description_hash,
			category, available, first_seen, last_checked, last_changed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (competitor_id, name) DO UPDATE
		SET url = EXCLUDED.url,
			image_url = EXCLUDED.image_url,
			description = EXCLUDED.description,
			description_hash = EXCLUDED.description_hash,
			category = EXCLUDED.category,
			available = EXCLUDED.available,
			last_checked = EXCLUDED.last_checked,
			last_changed = EXCLUDED.last_changed;
	`
	if _, err := s.pool.Exec(ctx, query,
		rec.ID, rec.CompetitorID, rec.Name, rec.URL, rec.ImageURL, rec.Description, rec.DescriptionHash,
		rec.Category, rec.Available, rec.FirstSeen, rec.LastChecked, rec.LastChanged,
	); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// ReplaceFeatures swaps a product's feature list in one transaction.
func (s *Store) ReplaceFeatures(ctx context.Context, productID string, features []store.ProductFeature) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin features tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM product_features WHERE product_id = $1;`, productID); err != nil {
		return fmt.Errorf("clear features: %w", err)
	}
	if len(features) > 0 {
		rows := make([][]any, 0, len(features))
		for _, f := range features {
			rows = append(rows, []any{productID, f.Position, f.Name, f.Value, f.Category})
		}
		if _, err = tx.CopyFrom(ctx,
			pgx.Identifier{"product_features"},
			[]string{"product_id", "position", "name", "value", "category"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("copy features: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit features: %w", err)
	}
	return nil
}

// AddAlert appends an alert row.
func (s *Store) AddAlert(ctx context.Context, a store.Alert) error {
	const query = `
		INSERT INTO alerts (id, competitor_id, scan_id, alert_type, severity, title, message,
			url, entity_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`
	if _, err := s.pool.Exec(ctx, query,
		a.ID, a.CompetitorID, a.ScanID, string(a.Type), string(a.Severity), a.Title, a.Message,
		a.URL, a.EntityID, a.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListAlerts returns the newest alerts, optionally for one competitor.
func (s *Store) ListAlerts(ctx context.Context, competitorID string, limit int) ([]store.Alert, error) {
	const query = `
		SELECT id, competitor_id, scan_id, alert_type, severity, title, message, url, entity_id, created_at
		FROM alerts
		WHERE ($1 = '' OR competitor_id = $1)
		ORDER BY created_at DESC
		LIMIT $2;
	`
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, query, competitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []store.Alert
	for rows.Next() {
		var (
			a              store.Alert
			kind, severity string
		)
		if err := rows.Scan(
			&a.ID, &a.CompetitorID, &a.ScanID, &kind, &severity, &a.Title, &a.Message, &a.URL, &a.EntityID, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = store.AlertType(kind)
		a.Severity = store.Severity(severity)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}
