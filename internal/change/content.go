package change

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/fingerprint"
	"github.com/JakeFAU/competitor-watch/internal/store"
)

const (
	defaultMinContentLength = 100
	maxStoredText           = 50000
	topKeywords             = 10
)

// ContentConfig tunes the content coordinator.
type ContentConfig struct {
	// MinLength is the minimum main-content length, in characters, worth tracking.
	MinLength int
}

// ContentCoordinator tracks the main text of every page keyed by competitor and URL.
type ContentCoordinator struct {
	cfg    ContentConfig
	repo   store.ContentRepository
	ids    store.IDGenerator
	clock  store.Clock
	locks  *keyedMutex
	logger *zap.Logger
}

// NewContentCoordinator constructs a ContentCoordinator.
func NewContentCoordinator(cfg ContentConfig, repo store.ContentRepository, ids store.IDGenerator, clock store.Clock, logger *zap.Logger) *ContentCoordinator {
	if cfg.MinLength <= 0 {
		cfg.MinLength = defaultMinContentLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentCoordinator{cfg: cfg, repo: repo, ids: ids, clock: clock, locks: newKeyedMutex(), logger: logger}
}

// Domain implements Coordinator.
func (c *ContentCoordinator) Domain() Domain { return DomainContent }

// Process extracts the page's main content and compares it with the stored version.
func (c *ContentCoordinator) Process(ctx context.Context, obs Observation) ([]Event, error) {
	doc, err := parseDocument(obs.HTML)
	if err != nil {
		return nil, err
	}
	title := obs.Title
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	text := ExtractMainContent(doc)
	if len([]rune(text)) < c.cfg.MinLength {
		c.logger.Debug("content too short to track", zap.String("url", obs.URL), zap.Int("length", len(text)))
		return nil, nil
	}

	fp := fingerprint.New(text)
	now := observedAt(obs, c.clock)

	unlock := c.locks.Lock(obs.CompetitorID + "|" + obs.URL)
	defer unlock()

	existing, err := c.repo.GetContent(ctx, obs.CompetitorID, obs.URL)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.recordNew(ctx, obs, title, text, fp, now)
	case err != nil:
		return nil, fmt.Errorf("load content: %w", err)
	}

	previous := fingerprint.Fingerprint{FullHash: existing.ContentHash, SimHash: existing.SimHash}
	if !fingerprint.Changed(previous, fp) {
		if err := c.repo.TouchContent(ctx, existing.ID, now); err != nil {
			return nil, fmt.Errorf("touch content: %w", err)
		}
		return []Event{{Domain: DomainContent, Kind: KindUnchanged, Key: obs.URL, URL: obs.URL, Title: title}}, nil
	}
	return c.recordChange(ctx, obs, existing, title, text, fp, now)
}

func (c *ContentCoordinator) recordNew(ctx context.Context, obs Observation, title, text string, fp fingerprint.Fingerprint, now time.Time) ([]Event, error) {
	id, err := c.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("content id: %w", err)
	}
	rec := store.ContentRecord{
		ID:           id,
		CompetitorID: obs.CompetitorID,
		URL:          obs.URL,
		Title:        title,
		Category:     Categorize(obs.URL, title),
		Text:         truncate(text, maxStoredText),
		ContentHash:  fp.FullHash,
		SimHash:      fp.SimHash,
		WordCount:    fp.WordCount,
		Readability:  Readability(text),
		Keywords:     Keywords(text, topKeywords),
		FirstSeen:    now,
		LastChecked:  now,
		LastChanged:  now,
	}
	if err := c.repo.UpsertContent(ctx, rec); err != nil {
		return nil, fmt.Errorf("save content: %w", err)
	}
	alert, err := newAlert(c.ids, obs, now, store.AlertNewPage, store.SeverityLow,
		"New Page Discovered: "+truncate(title, 50),
		"A new page has been found at "+obs.URL, id)
	if err != nil {
		return nil, fmt.Errorf("alert id: %w", err)
	}
	return []Event{{
		Domain:   DomainContent,
		Kind:     KindNew,
		Severity: store.SeverityLow,
		Key:      obs.URL,
		URL:      obs.URL,
		Title:    alert.Title,
		Message:  alert.Message,
		NewValue: fp.FullHash,
		Alert:    alert,
	}}, nil
}

func (c *ContentCoordinator) recordChange(ctx context.Context, obs Observation, existing store.ContentRecord, title, text string, fp fingerprint.Fingerprint, now time.Time) ([]Event, error) {
	similarity := fingerprint.Similarity(fingerprint.Fingerprint{FullHash: existing.ContentHash, SimHash: existing.SimHash}, fp)
	changeID, err := c.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("content change id: %w", err)
	}
	change := store.ContentChange{
		ID:             changeID,
		ContentID:      existing.ID,
		CompetitorID:   obs.CompetitorID,
		URL:            obs.URL,
		OldHash:        existing.ContentHash,
		NewHash:        fp.FullHash,
		Similarity:     similarity,
		WordCountDelta: fp.WordCount - existing.WordCount,
		DetectedAt:     now,
	}
	if err := c.repo.AddContentChange(ctx, change); err != nil {
		return nil, fmt.Errorf("save content change: %w", err)
	}

	updated := existing
	updated.Title = title
	updated.Category = Categorize(obs.URL, title)
	updated.Text = truncate(text, maxStoredText)
	updated.ContentHash = fp.FullHash
	updated.SimHash = fp.SimHash
	updated.WordCount = fp.WordCount
	updated.Readability = Readability(text)
	updated.Keywords = Keywords(text, topKeywords)
	updated.LastChecked = now
	updated.LastChanged = now
	if err := c.repo.UpsertContent(ctx, updated); err != nil {
		return nil, fmt.Errorf("save content: %w", err)
	}

	alert, err := newAlert(c.ids, obs, now, store.AlertContentChange, store.SeverityMedium,
		"Content Updated: "+truncate(title, 50),
		fmt.Sprintf("The page at %s has been modified (similarity %.2f)", obs.URL, similarity), existing.ID)
	if err != nil {
		return nil, fmt.Errorf("alert id: %w", err)
	}
	return []Event{{
		Domain:        DomainContent,
		Kind:          KindChanged,
		Severity:      store.SeverityMedium,
		Key:           obs.URL,
		URL:           obs.URL,
		Title:         alert.Title,
		Message:       alert.Message,
		OldValue:      existing.ContentHash,
		NewValue:      fp.FullHash,
		ChangeType:    "modified",
		ChangePercent: round2((1 - similarity) * 100),
		Alert:         alert,
	}}, nil
}

// ExtractMainContent strips page chrome from doc and returns the text of its
// main content area. doc is modified in place.
func ExtractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, aside, form").Remove()
	for _, selector := range []string{"main", "article", "#content", ".content"} {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return spacedText(sel)
		}
	}
	return spacedText(doc.Selection)
}

var urlCategories = []struct {
	category string
	markers  []string
}{
	{"blog", []string{"/blog", "/post", "/article"}},
	{"product", []string{"/product", "/shop", "/item"}},
	{"pricing", []string{"/pricing", "/plans", "/subscription"}},
	{"documentation", []string{"/docs", "/documentation", "/help"}},
	{"about", []string{"/about", "/team", "/company"}},
	{"contact", []string{"/contact"}},
}

// Categorize assigns a content category from URL markers, then title words.
func Categorize(rawURL, title string) string {
	u := strings.ToLower(rawURL)
	for _, c := range urlCategories {
		for _, m := range c.markers {
			if strings.Contains(u, m) {
				return c.category
			}
		}
	}
	if strings.HasSuffix(u, "/") || strings.Count(u, "/") <= 3 {
		return "landing"
	}
	t := strings.ToLower(title)
	for _, w := range []string{"blog", "post", "article", "news"} {
		if strings.Contains(t, w) {
			return "blog"
		}
	}
	for _, w := range []string{"pricing", "price", "plans", "subscribe"} {
		if strings.Contains(t, w) {
			return "pricing"
		}
	}
	return "other"
}

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

// Readability returns the Flesch reading-ease score of text, clamped to [0, 100].
func Readability(text string) float64 {
	sentences := 0
	for _, s := range sentenceSplit.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	words := strings.Fields(text)
	if sentences == 0 || len(words) == 0 {
		return 0
	}
	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}
	w := float64(len(words))
	score := 206.835 - 1.015*(w/float64(sentences)) - 84.6*(float64(syllables)/w)
	return min(100, max(0, score))
}

func countSyllables(word string) int {
	word = strings.ToLower(word)
	count := 0
	prevVowel := false
	for _, r := range word {
		vowel := strings.ContainsRune("aeiouy", r)
		if vowel && !prevVowel {
			count++
		}
		prevVowel = vowel
	}
	if strings.HasSuffix(word, "e") && count > 1 {
		count--
	}
	return max(1, count)
}

var (
	keywordPattern = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)
	stopWords      = map[string]struct{}{}
)

func init() {
	for _, w := range strings.Fields(`the a an and or but in on at to for of with by from as is was are
		were been be have has had do does did will would could should may might can this that
		these those it its you your we our they their he she his her`) {
		stopWords[w] = struct{}{}
	}
}

// Keywords returns the n most frequent non-stop words of three or more letters.
// Ties keep first-occurrence order.
func Keywords(text string, n int) []string {
	freq := make(map[string]int)
	var order []string
	for _, w := range keywordPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}
