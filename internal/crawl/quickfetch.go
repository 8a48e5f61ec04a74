package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/change"
	"github.com/JakeFAU/competitor-watch/internal/fingerprint"
	"github.com/JakeFAU/competitor-watch/internal/htmltext"
	"github.com/JakeFAU/competitor-watch/internal/urlnorm"
)

// ErrDisallowed is returned by QuickFetch when robots.txt forbids the URL.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// PricingPaths are the conventional pricing page locations ProbePricing tries.
var PricingPaths = []string{"/pricing", "/plans", "/price", "/pricing-plans", "/subscribe"}

// PageSummary is the result of a single-page fetch.
type PageSummary struct {
	URL         string `json:"url"`
	FinalURL    string `json:"final_url,omitempty"`
	StatusCode  int    `json:"status_code"`
	Title       string `json:"title"`
	ContentHash string `json:"content_hash"`
	SimHash     string `json:"simhash"`
	WordCount   int    `json:"word_count"`
	LoadTimeMs  int64  `json:"load_time_ms"`
	Rendered    bool   `json:"rendered"`
	Links       []Link `json:"links,omitempty"`
	HTML        string `json:"-"`
}

// QuickFetch fetches one page outside any frontier, honoring robots.txt and
// politeness.
func (e *Executor) QuickFetch(ctx context.Context, rawURL string) (PageSummary, error) {
	normalized, err := urlnorm.Normalize(rawURL, "")
	if err != nil {
		return PageSummary{}, fmt.Errorf("normalize url: %w", err)
	}
	ctx, span := e.tracer.Start(ctx, "crawl.quickfetch", trace.WithAttributes(attribute.String("url.full", normalized)))
	defer span.End()

	var crawlDelay time.Duration
	if e.deps.Robots != nil {
		if !e.deps.Robots.Allowed(ctx, normalized) {
			return PageSummary{}, fmt.Errorf("%s: %w", normalized, ErrDisallowed)
		}
		if origin, err := urlnorm.Origin(normalized); err == nil {
			crawlDelay = e.deps.Robots.Policy(ctx, origin).CrawlDelay
		}
	}
	if err := e.deps.Politeness.Wait(ctx, normalized, crawlDelay); err != nil {
		return PageSummary{}, fmt.Errorf("politeness wait: %w", err)
	}
	resp, err := e.deps.Fetcher.Fetch(ctx, normalized)
	if err != nil {
		return PageSummary{}, fmt.Errorf("fetch %s: %w", normalized, err)
	}
	doc, err := htmltext.Extract(resp.HTML)
	if err != nil {
		return PageSummary{}, fmt.Errorf("extract text: %w", err)
	}
	fp := fingerprint.New(doc.Text)
	title := resp.Title
	if title == "" {
		title = doc.Title
	}
	base := resp.FinalURL
	if base == "" {
		base = normalized
	}
	return PageSummary{
		URL:         normalized,
		FinalURL:    resp.FinalURL,
		StatusCode:  resp.StatusCode,
		Title:       title,
		ContentHash: fp.FullHash,
		SimHash:     fp.SimHash,
		WordCount:   fp.WordCount,
		LoadTimeMs:  resp.Elapsed.Milliseconds(),
		Rendered:    resp.Rendered,
		Links:       ExtractLinks(resp.HTML, base),
		HTML:        resp.HTML,
	}, nil
}

// ProbeResult tallies price observations found by ProbePricing.
type ProbeResult struct {
	Checked   []string `json:"checked"`
	New       int      `json:"new"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
}

// Found is the number of prices seen across all probed pages.
func (r ProbeResult) Found() int {
	return r.New + r.Updated + r.Unchanged
}

// ProbePricing quick-fetches origin and each of PricingPaths and runs change
// detection on every page that answers 200. Pages that fail or are disallowed
// are skipped.
func (e *Executor) ProbePricing(ctx context.Context, competitorID, origin string) (ProbeResult, error) {
	root, err := urlnorm.Origin(origin)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe origin: %w", err)
	}
	logger := e.logger.With(zap.String("competitor_id", competitorID), zap.String("origin", root))

	var res ProbeResult
	targets := append([]string{root + "/"}, prefixAll(root, PricingPaths)...)
	for _, target := range targets {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		page, err := e.QuickFetch(ctx, target)
		if err != nil {
			logger.Debug("pricing probe skipped", zap.String("url", target), zap.Error(err))
			continue
		}
		if page.StatusCode != 200 {
			continue
		}
		res.Checked = append(res.Checked, page.URL)
		if e.deps.Pipeline == nil {
			continue
		}
		events := e.deps.Pipeline.Process(ctx, change.Observation{
			CompetitorID: competitorID,
			URL:          page.URL,
			Title:        page.Title,
			HTML:         page.HTML,
			ObservedAt:   e.deps.Clock.Now(),
		})
		for _, ev := range events {
			if ev.Domain != change.DomainPrice {
				continue
			}
			switch ev.Kind {
			case change.KindNew:
				res.New++
			case change.KindChanged:
				res.Updated++
			default:
				res.Unchanged++
			}
		}
	}
	logger.Info("pricing probe finished", zap.Int("pages", len(res.Checked)), zap.Int("prices", res.Found()))
	return res, nil
}

func prefixAll(root string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = strings.TrimRight(root, "/") + p
	}
	return out
}
