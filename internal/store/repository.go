package store

import (
	"context"
	"io"
	"time"
)

// CompetitorRepository reads and saves competitors.
type CompetitorRepository interface {
	GetCompetitor(ctx context.Context, id string) (Competitor, error)
	SaveCompetitor(ctx context.Context, c Competitor) error
	// ListMonitored returns competitors that are active with monitoring enabled.
	ListMonitored(ctx context.Context) ([]Competitor, error)
}

// ScanRepository persists scan lifecycle and progress.
type ScanRepository interface {
	CreateScan(ctx context.Context, scan Scan) error
	GetScan(ctx context.Context, id string) (Scan, error)
	// UpdateScan overwrites status, counters, timestamps and error message.
	UpdateScan(ctx context.Context, scan Scan) error
	UpdateProgress(ctx context.Context, id string, progress int, currentURL string, pagesCrawled int) error
	// DeleteScansBefore removes scans created before cutoff and reports how many.
	DeleteScansBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PageRepository records fetched pages.
type PageRepository interface {
	SavePage(ctx context.Context, page Page) error
	ListPages(ctx context.Context, scanID string) ([]Page, error)
}

// ContentRepository tracks page content state keyed by competitor and URL.
type ContentRepository interface {
	GetContent(ctx context.Context, competitorID, url string) (ContentRecord, error)
	UpsertContent(ctx context.Context, rec ContentRecord) error
	TouchContent(ctx context.Context, id string, checkedAt time.Time) error
	AddContentChange(ctx context.Context, change ContentChange) error
}

// PriceRepository stores price history keyed by competitor and product name.
type PriceRepository interface {
	LatestPrice(ctx context.Context, competitorID, productName string) (PriceObservation, error)
	AddObservation(ctx context.Context, obs PriceObservation) error
	AddPriceChange(ctx context.Context, change PriceChange) error
}

// ProductRepository tracks products keyed by competitor and name.
type ProductRepository interface {
	GetProduct(ctx context.Context, competitorID, name string) (ProductRecord, error)
	UpsertProduct(ctx context.Context, rec ProductRecord) error
	ReplaceFeatures(ctx context.Context, productID string, features []ProductFeature) error
}

// AlertRepository appends alerts.
type AlertRepository interface {
	AddAlert(ctx context.Context, alert Alert) error
	ListAlerts(ctx context.Context, competitorID string, limit int) ([]Alert, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	DeleteObject(ctx context.Context, path string) error
}

// Repositories groups every repository the crawl core consumes.
type Repositories struct {
	Competitors CompetitorRepository
	Scans       ScanRepository
	Pages       PageRepository
	Content     ContentRepository
	Prices      PriceRepository
	Products    ProductRepository
	Alerts      AlertRepository
}
