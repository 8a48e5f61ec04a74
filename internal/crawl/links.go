package crawl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/competitor-watch/internal/fetcher"
	"github.com/JakeFAU/competitor-watch/internal/fingerprint"
	"github.com/JakeFAU/competitor-watch/internal/frontier"
	"github.com/JakeFAU/competitor-watch/internal/htmltext"
	"github.com/JakeFAU/competitor-watch/internal/priority"
	"github.com/JakeFAU/competitor-watch/internal/store"
	"github.com/JakeFAU/competitor-watch/internal/urlnorm"
)

// Link is an outbound anchor found on a page.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// ExtractLinks returns the normalized, de-duplicated http(s) anchors in raw,
// resolved against base. Fragment-only, javascript: and mailto: targets are
// dropped.
func ExtractLinks(raw, base string) []Link {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []Link
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			return
		}
		normalized, err := urlnorm.Normalize(href, base)
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, Link{URL: normalized, Text: htmltext.Collapse(a.Text())})
	})
	return links
}

func priorityOf(rawURL, anchorText string) priority.Tier {
	return priority.Classify(rawURL, priority.InferContext(rawURL, anchorText))
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func siteOf(rawURL string) string {
	if host := hostOf(rawURL); host != "" {
		return host
	}
	return "unknown"
}

func (e *Executor) buildPage(sess *session, item frontier.Item, resp fetcher.Response) (store.Page, error) {
	doc, err := htmltext.Extract(resp.HTML)
	if err != nil {
		return store.Page{}, fmt.Errorf("extract text: %w", err)
	}
	id, err := e.deps.IDs.NewID()
	if err != nil {
		return store.Page{}, fmt.Errorf("page id: %w", err)
	}
	title := resp.Title
	if title == "" {
		title = doc.Title
	}
	fp := fingerprint.New(doc.Text)
	return store.Page{
		ID:           id,
		ScanID:       sess.ScanID,
		CompetitorID: sess.CompetitorID,
		URL:          item.URL,
		StatusCode:   resp.StatusCode,
		Title:        title,
		Depth:        item.Depth,
		Tier:         item.Tier.String(),
		ContentHash:  fp.FullHash,
		SimHash:      fp.SimHash,
		PhraseHash:   fp.PhraseHash,
		WordCount:    fp.WordCount,
		LoadTime:     resp.Elapsed.Milliseconds(),
		FetchedAt:    e.deps.Clock.Now(),
	}, nil
}
