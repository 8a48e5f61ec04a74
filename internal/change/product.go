package change

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/store"
)

const maxFeatures = 50

// ProductListing is one product found on a page.
type ProductListing struct {
	Name        string
	URL         string
	ImageURL    string
	Description string
	Category    string
	Available   bool
	Features    []store.ProductFeature
}

// ProductExtractor finds product listings in a page.
type ProductExtractor interface {
	ExtractProducts(html, pageURL string) ([]ProductListing, error)
}

// ProductCoordinator tracks product catalog entries keyed by competitor and name.
type ProductCoordinator struct {
	extractor ProductExtractor
	repo      store.ProductRepository
	hasher    store.Hasher
	ids       store.IDGenerator
	clock     store.Clock
	locks     *keyedMutex
	logger    *zap.Logger
}

// NewProductCoordinator constructs a ProductCoordinator. A nil extractor
// selects the HeuristicProductExtractor.
func NewProductCoordinator(extractor ProductExtractor, repo store.ProductRepository, hasher store.Hasher, ids store.IDGenerator, clock store.Clock, logger *zap.Logger) *ProductCoordinator {
	if extractor == nil {
		extractor = HeuristicProductExtractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductCoordinator{extractor: extractor, repo: repo, hasher: hasher, ids: ids, clock: clock, locks: newKeyedMutex(), logger: logger}
}

// Domain implements Coordinator.
func (c *ProductCoordinator) Domain() Domain { return DomainProduct }

// Process extracts product listings and compares each with its stored record.
func (c *ProductCoordinator) Process(ctx context.Context, obs Observation) ([]Event, error) {
	listings, err := c.extractor.ExtractProducts(obs.HTML, obs.URL)
	if err != nil {
		return nil, fmt.Errorf("extract products: %w", err)
	}
	now := observedAt(obs, c.clock)
	events := make([]Event, 0, len(listings))
	for _, l := range listings {
		ev, err := c.processListing(ctx, obs, l, now)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *ProductCoordinator) processListing(ctx context.Context, obs Observation, l ProductListing, now time.Time) (Event, error) {
	unlock := c.locks.Lock(obs.CompetitorID + "|" + l.Name)
	defer unlock()

	descHash, err := c.hasher.Hash([]byte(l.Description))
	if err != nil {
		return Event{}, fmt.Errorf("hash description: %w", err)
	}
	existing, err := c.repo.GetProduct(ctx, obs.CompetitorID, l.Name)
	if errors.Is(err, store.ErrNotFound) {
		return c.recordNew(ctx, obs, l, descHash, now)
	}
	if err != nil {
		return Event{}, fmt.Errorf("load product: %w", err)
	}

	ev := Event{Domain: DomainProduct, Kind: KindUnchanged, Key: l.Name, URL: l.URL}
	updated := existing
	updated.ImageURL = l.ImageURL
	updated.Category = l.Category
	updated.LastChecked = now

	if existing.DescriptionHash != descHash {
		updated.Description = l.Description
		updated.DescriptionHash = descHash
		ev.Kind = KindChanged
		ev.ChangeType = "description"
		ev.OldValue = existing.DescriptionHash
		ev.NewValue = descHash
	}
	if existing.Available != l.Available {
		updated.Available = l.Available
		ev.Kind = KindChanged
		ev.ChangeType = "availability"
		ev.OldValue = fmt.Sprint(existing.Available)
		ev.NewValue = fmt.Sprint(l.Available)
		if !l.Available {
			alert, err := newAlert(c.ids, Observation{CompetitorID: obs.CompetitorID, ScanID: obs.ScanID, URL: l.URL}, now,
				store.AlertAvailabilityChange, store.SeverityMedium,
				"Product Unavailable: "+truncate(l.Name, 50), "Product is now out of stock", existing.ID)
			if err != nil {
				return Event{}, fmt.Errorf("alert id: %w", err)
			}
			ev.Severity = store.SeverityMedium
			ev.Title = alert.Title
			ev.Message = alert.Message
			ev.Alert = alert
		}
	}
	if ev.Kind == KindChanged {
		updated.LastChanged = now
	}
	if err := c.repo.UpsertProduct(ctx, updated); err != nil {
		return Event{}, fmt.Errorf("save product: %w", err)
	}
	return ev, nil
}

func (c *ProductCoordinator) recordNew(ctx context.Context, obs Observation, l ProductListing, descHash string, now time.Time) (Event, error) {
	id, err := c.ids.NewID()
	if err != nil {
		return Event{}, fmt.Errorf("product id: %w", err)
	}
	rec := store.ProductRecord{
		ID:              id,
		CompetitorID:    obs.CompetitorID,
		Name:            l.Name,
		URL:             l.URL,
		ImageURL:        l.ImageURL,
		Description:     l.Description,
		DescriptionHash: descHash,
		Category:        l.Category,
		Available:       l.Available,
		FirstSeen:       now,
		LastChecked:     now,
		LastChanged:     now,
	}
	if err := c.repo.UpsertProduct(ctx, rec); err != nil {
		return Event{}, fmt.Errorf("save product: %w", err)
	}
	if len(l.Features) > 0 {
		features := make([]store.ProductFeature, len(l.Features))
		for i, f := range l.Features {
			f.ProductID = id
			f.Position = i
			features[i] = f
		}
		if err := c.repo.ReplaceFeatures(ctx, id, features); err != nil {
			return Event{}, fmt.Errorf("save product features: %w", err)
		}
	}
	alert, err := newAlert(c.ids, Observation{CompetitorID: obs.CompetitorID, ScanID: obs.ScanID, URL: l.URL}, now,
		store.AlertNewProduct, store.SeverityHigh,
		"New Product: "+truncate(l.Name, 50), "Competitor launched a new product", id)
	if err != nil {
		return Event{}, fmt.Errorf("alert id: %w", err)
	}
	return Event{
		Domain:   DomainProduct,
		Kind:     KindNew,
		Severity: store.SeverityHigh,
		Key:      l.Name,
		URL:      l.URL,
		Title:    alert.Title,
		Message:  alert.Message,
		Alert:    alert,
	}, nil
}

var (
	productSelectors = []string{
		`[class*="product"]`, `[class*="Product"]`, `[itemtype*="Product"]`,
		`[data-product]`, `article[class*="card"]`,
	}
	productNameHint     = regexp.MustCompile(`(?i)name|title`)
	productDescHint     = regexp.MustCompile(`(?i)desc|summary|excerpt`)
	productCategoryHint = regexp.MustCompile(`(?i)category|cat|type`)
	featureListHint     = regexp.MustCompile(`(?i)feature|spec|benefit`)
	specTableHint       = regexp.MustCompile(`(?i)spec|feature|detail`)
	unavailablePattern  = regexp.MustCompile(`(?i)out of stock|unavailable|sold out`)
)

// HeuristicProductExtractor reads product cards: a heading or name-like class
// for the name, the first link and image, description and category classes,
// stock wording and feature lists or spec tables.
type HeuristicProductExtractor struct{}

// ExtractProducts implements ProductExtractor.
func (HeuristicProductExtractor) ExtractProducts(raw, pageURL string) ([]ProductListing, error) {
	doc, err := parseDocument(raw)
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(pageURL)
	seen := make(map[string]struct{})
	var out []ProductListing
	for _, selector := range productSelectors {
		doc.Find(selector).Each(func(_ int, el *goquery.Selection) {
			l, ok := extractListing(el, base, pageURL)
			if !ok {
				return
			}
			if _, dup := seen[l.Name]; dup {
				return
			}
			seen[l.Name] = struct{}{}
			out = append(out, l)
		})
	}
	return out, nil
}

func extractListing(el *goquery.Selection, base *url.URL, pageURL string) (ProductListing, bool) {
	nameEl := el.Find("h1, h2, h3, h4").First()
	if nameEl.Length() == 0 {
		nameEl = findByClass(el, productNameHint)
	}
	name := strippedText(nameEl)
	if len([]rune(name)) < 2 {
		return ProductListing{}, false
	}

	l := ProductListing{Name: truncate(name, 500), URL: pageURL, Available: true}
	if href, ok := el.Find("a[href]").First().Attr("href"); ok {
		switch {
		case strings.HasPrefix(href, "/") && base != nil:
			if ref, err := url.Parse(href); err == nil {
				l.URL = base.ResolveReference(ref).String()
			}
		case strings.HasPrefix(href, "http"):
			l.URL = href
		}
	}
	if img := el.Find("img").First(); img.Length() > 0 {
		l.ImageURL = img.AttrOr("src", "")
		if l.ImageURL == "" {
			l.ImageURL = img.AttrOr("data-src", "")
		}
	}
	if desc := findByClass(el, productDescHint); desc.Length() > 0 {
		l.Description = truncate(strippedText(desc), 1000)
	}
	if cat := findByClass(el, productCategoryHint); cat.Length() > 0 {
		l.Category = strippedText(cat)
	}
	if unavailablePattern.MatchString(el.Text()) {
		l.Available = false
	}
	l.Features = extractFeatures(el)
	return l, true
}

func extractFeatures(el *goquery.Selection) []store.ProductFeature {
	var features []store.ProductFeature
	el.Find("ul, ol").Each(func(_ int, list *goquery.Selection) {
		if !classMatches(list, featureListHint) {
			return
		}
		list.Find("li").Each(func(_ int, li *goquery.Selection) {
			if text := strippedText(li); len([]rune(text)) > 2 {
				features = append(features, store.ProductFeature{Name: truncate(text, 250), Category: "general"})
			}
		})
	})
	el.Find("table").Each(func(_ int, table *goquery.Selection) {
		if !classMatches(table, specTableHint) {
			return
		}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td, th")
			if cells.Length() < 2 {
				return
			}
			features = append(features, store.ProductFeature{
				Name:     truncate(strippedText(cells.Eq(0)), 250),
				Value:    truncate(strippedText(cells.Eq(1)), 500),
				Category: "specification",
			})
		})
	})
	if len(features) > maxFeatures {
		features = features[:maxFeatures]
	}
	return features
}
