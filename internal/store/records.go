package store

import (
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ScanStatus is the lifecycle state of a scan.
type ScanStatus string

// Scan statuses.
const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCancelled ScanStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s ScanStatus) Terminal() bool {
	switch s {
	case ScanCompleted, ScanFailed, ScanCancelled:
		return true
	default:
		return false
	}
}

// AlertType classifies alerts.
type AlertType string

// Alert types.
const (
	AlertPriceChange        AlertType = "price_change"
	AlertContentChange      AlertType = "content_change"
	AlertNewProduct         AlertType = "new_product"
	AlertNewPage            AlertType = "new_page"
	AlertAvailabilityChange AlertType = "availability_change"
	AlertScanCompleted      AlertType = "scan_completed"
	AlertScanFailed         AlertType = "scan_failed"
)

// Severity ranks alerts.
type Severity string

// Severities, least to most urgent.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Competitor is a monitored site.
type Competitor struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Website        string    `json:"website"`
	Active         bool      `json:"active"`
	MonitorEnabled bool      `json:"monitor_enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Scan is one crawl session against a competitor.
type Scan struct {
	ID           string     `json:"id"`
	CompetitorID string     `json:"competitor_id"`
	Status       ScanStatus `json:"status"`
	MaxPages     int        `json:"max_pages"`
	Progress     int        `json:"progress"`
	CurrentURL   string     `json:"current_url,omitempty"`
	PagesCrawled int        `json:"pages_crawled"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Page is one fetched page within a scan.
type Page struct {
	ID           string    `json:"id"`
	ScanID       string    `json:"scan_id"`
	CompetitorID string    `json:"competitor_id"`
	URL          string    `json:"url"`
	StatusCode   int       `json:"status_code"`
	Title        string    `json:"title,omitempty"`
	Depth        int       `json:"depth"`
	Tier         string    `json:"tier"`
	ContentHash  string    `json:"content_hash"`
	SimHash      string    `json:"simhash"`
	PhraseHash   string    `json:"phrase_hash"`
	WordCount    int       `json:"word_count"`
	LoadTime     int64     `json:"load_time_ms"`
	BlobURI      string    `json:"blob_uri,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// ContentRecord is the current known state of a page's main content, keyed by
// (CompetitorID, URL).
type ContentRecord struct {
	ID           string    `json:"id"`
	CompetitorID string    `json:"competitor_id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Category     string    `json:"category"`
	Text         string    `json:"text"`
	ContentHash  string    `json:"content_hash"`
	SimHash      string    `json:"simhash"`
	WordCount    int       `json:"word_count"`
	Readability  float64   `json:"readability"`
	Keywords     []string  `json:"keywords,omitempty"`
	FirstSeen    time.Time `json:"first_seen"`
	LastChecked  time.Time `json:"last_checked"`
	LastChanged  time.Time `json:"last_changed"`
}

// ContentChange records one observed content difference.
type ContentChange struct {
	ID             string    `json:"id"`
	ContentID      string    `json:"content_id"`
	CompetitorID   string    `json:"competitor_id"`
	URL            string    `json:"url"`
	OldHash        string    `json:"old_hash"`
	NewHash        string    `json:"new_hash"`
	Similarity     float64   `json:"similarity"`
	WordCountDelta int       `json:"word_count_delta"`
	DetectedAt     time.Time `json:"detected_at"`
}

// PriceObservation is one sighting of a price, keyed by
// (CompetitorID, ProductName). Observations are append-only.
type PriceObservation struct {
	ID              string    `json:"id"`
	CompetitorID    string    `json:"competitor_id"`
	ScanID          string    `json:"scan_id,omitempty"`
	ProductName     string    `json:"product_name"`
	URL             string    `json:"url"`
	Price           float64   `json:"price"`
	Currency        string    `json:"currency"`
	OriginalPrice   *float64  `json:"original_price,omitempty"`
	DiscountPercent *float64  `json:"discount_percent,omitempty"`
	ObservedAt      time.Time `json:"observed_at"`
}

// PriceChangeType is the direction of a price move.
type PriceChangeType string

// Price change directions.
const (
	PriceIncrease PriceChangeType = "increase"
	PriceDecrease PriceChangeType = "decrease"
)

// PriceChange records a price move beyond the configured threshold.
type PriceChange struct {
	ID            string          `json:"id"`
	CompetitorID  string          `json:"competitor_id"`
	ProductName   string          `json:"product_name"`
	URL           string          `json:"url"`
	OldPrice      float64         `json:"old_price"`
	NewPrice      float64         `json:"new_price"`
	Currency      string          `json:"currency"`
	ChangeType    PriceChangeType `json:"change_type"`
	ChangePercent float64         `json:"change_percent"`
	DetectedAt    time.Time       `json:"detected_at"`
}

// ProductRecord is the current known state of a product, keyed by
// (CompetitorID, Name).
type ProductRecord struct {
	ID              string    `json:"id"`
	CompetitorID    string    `json:"competitor_id"`
	Name            string    `json:"name"`
	URL             string    `json:"url,omitempty"`
	ImageURL        string    `json:"image_url,omitempty"`
	Description     string    `json:"description,omitempty"`
	DescriptionHash string    `json:"description_hash"`
	Category        string    `json:"category,omitempty"`
	Available       bool      `json:"available"`
	FirstSeen       time.Time `json:"first_seen"`
	LastChecked     time.Time `json:"last_checked"`
	LastChanged     time.Time `json:"last_changed"`
}

// ProductFeature is one bullet of a product's feature list.
type ProductFeature struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Value     string `json:"value,omitempty"`
	Category  string `json:"category"`
	Position  int    `json:"position"`
}

// Alert is a user-facing notification about a detected change.
type Alert struct {
	ID           string    `json:"id"`
	CompetitorID string    `json:"competitor_id"`
	ScanID       string    `json:"scan_id,omitempty"`
	Type         AlertType `json:"type"`
	Severity     Severity  `json:"severity"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	URL          string    `json:"url,omitempty"`
	EntityID     string    `json:"entity_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
