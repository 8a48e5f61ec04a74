package change

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/store"
)

const (
	defaultPriceThreshold = 0.01
	highSeverityPercent   = 10.0
)

// PriceQuote is one price found on a page.
type PriceQuote struct {
	ProductName     string
	Price           float64
	Currency        string
	OriginalPrice   *float64
	DiscountPercent *float64
	OnSale          bool
}

// PriceExtractor finds price quotes in a page.
type PriceExtractor interface {
	ExtractPrices(html, pageURL string) ([]PriceQuote, error)
}

// PriceConfig tunes the price coordinator.
type PriceConfig struct {
	// Threshold is the minimum relative change (0.01 = 1%) that counts as a price change.
	Threshold float64
}

// PriceCoordinator records price observations and detects price moves per product.
type PriceCoordinator struct {
	cfg       PriceConfig
	extractor PriceExtractor
	repo      store.PriceRepository
	ids       store.IDGenerator
	clock     store.Clock
	locks     *keyedMutex
	logger    *zap.Logger
}

// NewPriceCoordinator constructs a PriceCoordinator. A nil extractor selects
// the HeuristicPriceExtractor.
func NewPriceCoordinator(cfg PriceConfig, extractor PriceExtractor, repo store.PriceRepository, ids store.IDGenerator, clock store.Clock, logger *zap.Logger) *PriceCoordinator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultPriceThreshold
	}
	if extractor == nil {
		extractor = HeuristicPriceExtractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceCoordinator{cfg: cfg, extractor: extractor, repo: repo, ids: ids, clock: clock, locks: newKeyedMutex(), logger: logger}
}

// Domain implements Coordinator.
func (c *PriceCoordinator) Domain() Domain { return DomainPrice }

// Process extracts prices and compares each with the product's latest observation.
func (c *PriceCoordinator) Process(ctx context.Context, obs Observation) ([]Event, error) {
	quotes, err := c.extractor.ExtractPrices(obs.HTML, obs.URL)
	if err != nil {
		return nil, fmt.Errorf("extract prices: %w", err)
	}
	now := observedAt(obs, c.clock)
	events := make([]Event, 0, len(quotes))
	for _, q := range quotes {
		ev, err := c.processQuote(ctx, obs, q, now)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *PriceCoordinator) processQuote(ctx context.Context, obs Observation, q PriceQuote, now time.Time) (Event, error) {
	unlock := c.locks.Lock(obs.CompetitorID + "|" + q.ProductName)
	defer unlock()

	previous, err := c.repo.LatestPrice(ctx, obs.CompetitorID, q.ProductName)
	first := errors.Is(err, store.ErrNotFound)
	if err != nil && !first {
		return Event{}, fmt.Errorf("load latest price: %w", err)
	}

	obsID, err := c.ids.NewID()
	if err != nil {
		return Event{}, fmt.Errorf("price observation id: %w", err)
	}
	if err := c.repo.AddObservation(ctx, store.PriceObservation{
		ID:              obsID,
		CompetitorID:    obs.CompetitorID,
		ScanID:          obs.ScanID,
		ProductName:     q.ProductName,
		URL:             obs.URL,
		Price:           q.Price,
		Currency:        q.Currency,
		OriginalPrice:   q.OriginalPrice,
		DiscountPercent: q.DiscountPercent,
		ObservedAt:      now,
	}); err != nil {
		return Event{}, fmt.Errorf("save price observation: %w", err)
	}

	base := Event{Domain: DomainPrice, Key: q.ProductName, URL: obs.URL, NewValue: formatPrice(q.Price)}
	if first {
		base.Kind = KindNew
		base.Title = "New price tracked: " + truncate(q.ProductName, 50)
		return base, nil
	}

	base.OldValue = formatPrice(previous.Price)
	pct, alertWorthy := PriceDelta(previous.Price, q.Price, c.cfg.Threshold)
	if !alertWorthy {
		base.Kind = KindUnchanged
		return base, nil
	}

	changeType := store.PriceIncrease
	verb := "Increased"
	if pct < 0 {
		changeType = store.PriceDecrease
		verb = "Decreased"
	}
	severity := store.SeverityMedium
	if math.Abs(pct) > highSeverityPercent {
		severity = store.SeverityHigh
	}

	changeID, err := c.ids.NewID()
	if err != nil {
		return Event{}, fmt.Errorf("price change id: %w", err)
	}
	if err := c.repo.AddPriceChange(ctx, store.PriceChange{
		ID:            changeID,
		CompetitorID:  obs.CompetitorID,
		ProductName:   q.ProductName,
		URL:           obs.URL,
		OldPrice:      previous.Price,
		NewPrice:      q.Price,
		Currency:      q.Currency,
		ChangeType:    changeType,
		ChangePercent: pct,
		DetectedAt:    now,
	}); err != nil {
		return Event{}, fmt.Errorf("save price change: %w", err)
	}

	alert, err := newAlert(c.ids, obs, now, store.AlertPriceChange, severity,
		fmt.Sprintf("Price %s: %s", verb, truncate(q.ProductName, 50)),
		fmt.Sprintf("Price changed from $%s to $%s (%+.1f%%)", formatPrice(previous.Price), formatPrice(q.Price), pct),
		obsID)
	if err != nil {
		return Event{}, fmt.Errorf("alert id: %w", err)
	}
	base.Kind = KindChanged
	base.Severity = severity
	base.Title = alert.Title
	base.Message = alert.Message
	base.ChangeType = string(changeType)
	base.ChangePercent = pct
	base.Alert = alert
	return base, nil
}

// PriceDelta returns the percent change from oldPrice to newPrice, rounded to two
// decimals, and whether its magnitude reaches threshold (a fraction, 0.01 = 1%).
func PriceDelta(oldPrice, newPrice, threshold float64) (float64, bool) {
	if oldPrice == newPrice || oldPrice == 0 {
		return 0, false
	}
	pct := (newPrice - oldPrice) / oldPrice * 100
	return round2(pct), math.Abs(pct) >= threshold*100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

var (
	pricePatterns = compileAll(
		`[\$€£¥₹]\s*(\d{1,3}(?:[,.\s]?\d{3})*(?:[.,]\d{2}))`,
		`[\$€£¥₹]\s*(\d{1,6})`,
		`(\d{1,3}(?:[,.\s]?\d{3})*(?:[.,]\d{2})?)\s*(?:USD|EUR|GBP|JPY|INR)`,
		`[\$€£]\s*(\d+(?:[.,]\d{2})?)\s*(?:/mo|/month|/mon|per\s*month)`,
		`[\$€£]\s*(\d+(?:[.,]\d{2})?)\s*(?:/yr|/year|per\s*year|annually)`,
		`(?:starting|from|starts)\s*(?:at|@)?\s*[\$€£]\s*(\d+(?:[.,]\d{2})?)`,
		`(?:price|cost|fee)[:=]?\s*[\$€£]\s*(\d+(?:[.,]\d{2})?)`,
		`[\$€£]\s*(\d+(?:[.,]\d{2})?)\s*(?:per\s*(?:user|seat|license|month|year))`,
	)
	discountPatterns = compileAll(
		`(\d+)\s*%\s*off`,
		`save\s*(\d+)\s*%`,
		`(\d+)\s*%\s*discount`,
		`(\d+)\s*%\s*savings`,
	)
	currencyMarkers = []struct{ marker, code string }{
		{"$", "USD"}, {"€", "EUR"}, {"£", "GBP"}, {"¥", "JPY"}, {"₹", "INR"},
		{"USD", "USD"}, {"EUR", "EUR"}, {"GBP", "GBP"},
	}
	priceCleaner      = regexp.MustCompile(`[\$€£¥₹\s]`)
	originalPriceHint = regexp.MustCompile(`(?i)original|was|old`)
	productTitleHint  = regexp.MustCompile(`(?i)title|name|product`)
)

// priceSelectors are tried in order; narrow price elements come before
// plan containers so quotes are named after the closest heading.
var priceSelectors = []string{
	`[class*="price"]`, `[class*="Price"]`, `[class*="cost"]`, `[class*="amount"]`,
	`[data-price]`, `[itemprop="price"]`,
	`[class*="plan"]`, `[class*="Plan"]`, `[class*="tier"]`, `[class*="Tier"]`,
	`[class*="pricing"]`, `[class*="Pricing"]`, `[class*="subscription"]`,
	`[class*="package"]`, `[class*="fee"]`, `[class*="rate"]`,
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

// HeuristicPriceExtractor finds prices in elements whose class or attributes
// suggest pricing, names them after the nearest heading, and detects
// strike-through originals and "% off" discounts. Only the first quote per
// product name is kept.
type HeuristicPriceExtractor struct{}

// ExtractPrices implements PriceExtractor.
func (HeuristicPriceExtractor) ExtractPrices(raw, pageURL string) ([]PriceQuote, error) {
	doc, err := parseDocument(raw)
	if err != nil {
		return nil, err
	}
	seenText := make(map[string]struct{})
	seenName := make(map[string]struct{})
	var quotes []PriceQuote
	for _, selector := range priceSelectors {
		doc.Find(selector).Each(func(_ int, el *goquery.Selection) {
			text := strippedText(el)
			if _, dup := seenText[text]; dup {
				return
			}
			seenText[text] = struct{}{}

			price, ok := firstPrice(text)
			if !ok {
				return
			}
			name := findProductName(el)
			if name == "" {
				name = "Product on " + pageURL
			}
			if _, dup := seenName[name]; dup {
				return
			}
			seenName[name] = struct{}{}

			q := PriceQuote{ProductName: name, Price: price, Currency: DetectCurrency(text)}
			applyDiscount(&q, el.Parent())
			quotes = append(quotes, q)
		})
	}
	return quotes, nil
}

// firstPrice returns the first positive price matched by the ordered patterns.
func firstPrice(text string) (float64, bool) {
	for _, re := range pricePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if p := NormalizePrice(m[1]); p > 0 {
				return p, true
			}
		}
	}
	return 0, false
}

func applyDiscount(q *PriceQuote, parent *goquery.Selection) {
	if parent.Length() == 0 {
		return
	}
	strike := parent.Find("s, strike, del").First()
	if strike.Length() == 0 {
		strike = findByClass(parent, originalPriceHint)
	}
	if strike.Length() > 0 {
		origText := strike.Text()
		for _, re := range pricePatterns {
			m := re.FindStringSubmatch(origText)
			if m == nil {
				continue
			}
			original := NormalizePrice(m[1])
			q.OriginalPrice = &original
			if original > q.Price {
				q.OnSale = true
				d := math.Trunc((1 - q.Price/original) * 100)
				q.DiscountPercent = &d
			}
			break
		}
	}
	parentText := parent.Text()
	for _, re := range discountPatterns {
		if m := re.FindStringSubmatch(parentText); m != nil {
			if d, err := strconv.Atoi(m[1]); err == nil {
				pct := float64(d)
				q.DiscountPercent = &pct
				q.OnSale = true
			}
			break
		}
	}
}

// findProductName walks up to five ancestors of el looking for a heading or a
// title-like class.
func findProductName(el *goquery.Selection) string {
	current := el.Parent()
	for i := 0; i < 5 && current.Length() > 0; i++ {
		if heading := current.Find("h1, h2, h3, h4, h5").First(); heading.Length() > 0 {
			return truncate(strippedText(heading), 200)
		}
		if title := findByClass(current, productTitleHint); title.Length() > 0 {
			text := strippedText(title)
			if n := len([]rune(text)); n > 2 && n < 200 {
				return text
			}
		}
		current = current.Parent()
	}
	return ""
}

// DetectCurrency maps the first currency symbol or code found in text to an
// ISO code, defaulting to USD.
func DetectCurrency(text string) string {
	for _, c := range currencyMarkers {
		if strings.Contains(text, c.marker) {
			return c.code
		}
	}
	return "USD"
}

// NormalizePrice parses a price string in either US (1,234.56) or European
// (1.234,56) notation. Unparseable input yields 0.
func NormalizePrice(s string) float64 {
	cleaned := priceCleaner.ReplaceAllString(s, "")
	comma := strings.LastIndex(cleaned, ",")
	dot := strings.LastIndex(cleaned, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case comma >= 0:
		if len(cleaned)-comma-1 == 2 {
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
