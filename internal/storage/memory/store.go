package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/competitor-watch/internal/store"
)

// Store implements every repository in store.Repositories in memory.
type Store struct {
	mu sync.RWMutex

	competitors    map[string]store.Competitor
	scans          map[string]store.Scan
	pages          map[string][]store.Page
	content        map[string]store.ContentRecord // competitor|url
	contentChanges []store.ContentChange
	prices         map[string][]store.PriceObservation // competitor|product
	priceChanges   []store.PriceChange
	products       map[string]store.ProductRecord // competitor|name
	features       map[string][]store.ProductFeature
	alerts         []store.Alert
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		competitors: make(map[string]store.Competitor),
		scans:       make(map[string]store.Scan),
		pages:       make(map[string][]store.Page),
		content:     make(map[string]store.ContentRecord),
		prices:      make(map[string][]store.PriceObservation),
		products:    make(map[string]store.ProductRecord),
		features:    make(map[string][]store.ProductFeature),
	}
}

// Repositories exposes s through the repository interfaces.
func (s *Store) Repositories() store.Repositories {
	return store.Repositories{
		Competitors: s,
		Scans:       s,
		Pages:       s,
		Content:     s,
		Prices:      s,
		Products:    s,
		Alerts:      s,
	}
}

func naturalKey(competitorID, name string) string {
	return competitorID + "|" + name
}

// GetCompetitor fetches a competitor by ID.
func (s *Store) GetCompetitor(_ context.Context, id string) (store.Competitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.competitors[id]
	if !ok {
		return store.Competitor{}, store.ErrNotFound
	}
	return c, nil
}

// SaveCompetitor inserts or replaces a competitor.
func (s *Store) SaveCompetitor(_ context.Context, c store.Competitor) error {
	if c.ID == "" {
		return fmt.Errorf("competitor id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.competitors[c.ID] = c
	return nil
}

// DeleteCompetitor removes a competitor.
func (s *Store) DeleteCompetitor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.competitors, id)
	return nil
}

// ListMonitored returns active competitors with monitoring enabled, by ID.
func (s *Store) ListMonitored(_ context.Context) ([]store.Competitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Competitor
	for _, c := range s.competitors {
		if c.Active && c.MonitorEnabled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateScan stores a new scan.
func (s *Store) CreateScan(_ context.Context, scan store.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.scans[scan.ID]; exists {
		return fmt.Errorf("scan %s already exists", scan.ID)
	}
	s.scans[scan.ID] = scan
	return nil
}

// GetScan fetches a scan by ID.
func (s *Store) GetScan(_ context.Context, id string) (store.Scan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scan, ok := s.scans[id]
	if !ok {
		return store.Scan{}, store.ErrNotFound
	}
	return scan, nil
}

// UpdateScan replaces a stored scan.
func (s *Store) UpdateScan(_ context.Context, scan store.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scans[scan.ID]; !ok {
		return store.ErrNotFound
	}
	s.scans[scan.ID] = scan
	return nil
}

// UpdateProgress sets the progress fields of a scan.
func (s *Store) UpdateProgress(_ context.Context, id string, progress int, currentURL string, pagesCrawled int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[id]
	if !ok {
		return store.ErrNotFound
	}
	scan.Progress = progress
	scan.CurrentURL = currentURL
	scan.PagesCrawled = pagesCrawled
	s.scans[id] = scan
	return nil
}

// DeleteScansBefore removes scans created before cutoff along with their pages.
func (s *Store) DeleteScansBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, scan := range s.scans {
		if scan.CreatedAt.Before(cutoff) {
			delete(s.scans, id)
			delete(s.pages, id)
			n++
		}
	}
	return n, nil
}

// SavePage appends a page to its scan.
func (s *Store) SavePage(_ context.Context, page store.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.ScanID] = append(s.pages[page.ScanID], page)
	return nil
}

// ListPages returns a copy of the pages recorded for a scan.
func (s *Store) ListPages(_ context.Context, scanID string) ([]store.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[scanID]
	out := make([]store.Page, len(pages))
	copy(out, pages)
	return out, nil
}

// GetContent fetches content state by natural key.
func (s *Store) GetContent(_ context.Context, competitorID, url string) (store.ContentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.content[naturalKey(competitorID, url)]
	if !ok {
		return store.ContentRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// UpsertContent inserts or replaces content state by natural key.
func (s *Store) UpsertContent(_ context.Context, rec store.ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Keywords = append([]string(nil), rec.Keywords...)
	s.content[naturalKey(rec.CompetitorID, rec.URL)] = rec
	return nil
}

// TouchContent updates last_checked on the record with the given ID.
func (s *Store) TouchContent(_ context.Context, id string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range s.content {
		if rec.ID == id {
			rec.LastChecked = checkedAt
			s.content[key] = rec
			return nil
		}
	}
	return store.ErrNotFound
}

// AddContentChange appends a content change.
func (s *Store) AddContentChange(_ context.Context, change store.ContentChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contentChanges = append(s.contentChanges, change)
	return nil
}

// ContentChanges returns a copy of every recorded content change.
func (s *Store) ContentChanges() []store.ContentChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.ContentChange(nil), s.contentChanges...)
}

// LatestPrice returns the most recent observation for a product.
func (s *Store) LatestPrice(_ context.Context, competitorID, productName string) (store.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.prices[naturalKey(competitorID, productName)]
	if len(history) == 0 {
		return store.PriceObservation{}, store.ErrNotFound
	}
	return history[len(history)-1], nil
}

// AddObservation appends a price observation.
func (s *Store) AddObservation(_ context.Context, obs store.PriceObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := naturalKey(obs.CompetitorID, obs.ProductName)
	s.prices[key] = append(s.prices[key], obs)
	return nil
}

// PriceHistory returns every observation for a product, oldest first.
func (s *Store) PriceHistory(competitorID, productName string) []store.PriceObservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.PriceObservation(nil), s.prices[naturalKey(competitorID, productName)]...)
}

// AddPriceChange appends a price change.
func (s *Store) AddPriceChange(_ context.Context, change store.PriceChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceChanges = append(s.priceChanges, change)
	return nil
}

// PriceChanges returns a copy of every recorded price change.
func (s *Store) PriceChanges() []store.PriceChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.PriceChange(nil), s.priceChanges...)
}

// GetProduct fetches product state by natural key.
func (s *Store) GetProduct(_ context.Context, competitorID, name string) (store.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.products[naturalKey(competitorID, name)]
	if !ok {
		return store.ProductRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// UpsertProduct inserts or replaces product state by natural key.
func (s *Store) UpsertProduct(_ context.Context, rec store.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[naturalKey(rec.CompetitorID, rec.Name)] = rec
	return nil
}

// ReplaceFeatures swaps the feature list of a product.
func (s *Store) ReplaceFeatures(_ context.Context, productID string, features []store.ProductFeature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[productID] = append([]store.ProductFeature(nil), features...)
	return nil
}

// Features returns the stored feature list of a product.
func (s *Store) Features(productID string) []store.ProductFeature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.ProductFeature(nil), s.features[productID]...)
}

// AddAlert appends an alert.
func (s *Store) AddAlert(_ context.Context, alert store.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

// ListAlerts returns the newest alerts for a competitor, newest first. An
// empty competitorID lists every competitor; limit <= 0 means no limit.
func (s *Store) ListAlerts(_ context.Context, competitorID string, limit int) ([]store.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Alert
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if competitorID != "" && a.CompetitorID != competitorID {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
