// Package sitemap discovers and parses XML sitemaps to seed a crawl.
package sitemap

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/robots"
)

const (
	defaultPriority  = 0.5
	defaultNestedCap = 10
	defaultMaxURLs   = 1000
	maxIndexDepth    = 3
	maxSitemapBytes  = 50 << 20
)

// conventionalPaths are probed on every origin.
var conventionalPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemaps.xml",
	"/sitemap1.xml",
	"/post-sitemap.xml",
	"/page-sitemap.xml",
	"/product-sitemap.xml",
}

// Doer is the subset of *http.Client used for sitemap requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PolicySource supplies robots policy so declared sitemaps can be included.
type PolicySource interface {
	Policy(ctx context.Context, origin string) robots.Policy
}

// Entry is one <url> of a sitemap.
type Entry struct {
	Loc        string  `json:"loc"`
	LastMod    string  `json:"lastmod,omitempty"`
	Priority   float64 `json:"priority"`
	ChangeFreq string  `json:"changefreq,omitempty"`
}

// Discoverer finds sitemap URLs for an origin.
type Discoverer struct {
	client    Doer
	robots    PolicySource
	userAgent string
	logger    *zap.Logger
}

// NewDiscoverer builds a Discoverer. robots may be nil.
func NewDiscoverer(client Doer, policies PolicySource, userAgent string, logger *zap.Logger) *Discoverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{client: client, robots: policies, userAgent: userAgent, logger: logger}
}

// Discover probes the conventional sitemap paths and appends any sitemaps
// declared in robots.txt. The result is deduplicated in discovery order.
func (d *Discoverer) Discover(ctx context.Context, origin string) []string {
	origin = strings.TrimRight(origin, "/")
	seen := make(map[string]struct{})
	var found []string
	add := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		found = append(found, u)
	}

	for _, p := range conventionalPaths {
		if ctx.Err() != nil {
			return found
		}
		target := origin + p
		if d.probe(ctx, target) {
			add(target)
		}
	}
	if d.robots != nil {
		for _, u := range d.robots.Policy(ctx, origin).Sitemaps {
			add(u)
		}
	}
	return found
}

func (d *Discoverer) probe(ctx context.Context, target string) bool {
	resp, err := d.do(ctx, http.MethodHead, target)
	if err == nil && resp.StatusCode == http.StatusMethodNotAllowed {
		_ = resp.Body.Close()
		resp, err = d.do(ctx, http.MethodGet, target)
	}
	if err != nil {
		d.logger.Debug("sitemap probe failed", zap.String("url", target), zap.Error(err))
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	return strings.Contains(ct, "xml") || strings.Contains(ct, "text")
}

func (d *Discoverer) do(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	return resp, nil
}

// Parser reads sitemap documents, following sitemap indexes.
type Parser struct {
	client    Doer
	userAgent string
	nestedCap int
	logger    *zap.Logger
}

// NewParser builds a Parser. nestedCap bounds how many child sitemaps of an
// index are followed; zero selects 10.
func NewParser(client Doer, userAgent string, nestedCap int, logger *zap.Logger) *Parser {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if nestedCap <= 0 {
		nestedCap = defaultNestedCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{client: client, userAgent: userAgent, nestedCap: nestedCap, logger: logger}
}

// Parse returns up to maxURLs entries from sitemapURL. Index files are
// expanded recursively with the remaining budget shared across children.
// Fetch and parse failures yield an empty result.
func (p *Parser) Parse(ctx context.Context, sitemapURL string, maxURLs int) []Entry {
	if maxURLs <= 0 {
		maxURLs = defaultMaxURLs
	}
	return p.parse(ctx, sitemapURL, maxURLs, 0)
}

func (p *Parser) parse(ctx context.Context, sitemapURL string, budget, depth int) []Entry {
	if budget <= 0 || ctx.Err() != nil {
		return nil
	}
	body, err := p.fetch(ctx, sitemapURL)
	if err != nil {
		p.logger.Warn("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		p.logger.Warn("sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil
	}

	if children := xmlquery.Find(doc, "//*[local-name()='sitemap']"); len(children) > 0 {
		if depth >= maxIndexDepth {
			return nil
		}
		var entries []Entry
		for i, child := range children {
			if i >= p.nestedCap || len(entries) >= budget {
				break
			}
			loc := childText(child, "loc")
			if loc == "" {
				continue
			}
			entries = append(entries, p.parse(ctx, loc, budget-len(entries), depth+1)...)
		}
		return entries
	}

	var entries []Entry
	for _, node := range xmlquery.Find(doc, "//*[local-name()='url']") {
		if len(entries) >= budget {
			break
		}
		loc := childText(node, "loc")
		if loc == "" {
			continue
		}
		entry := Entry{
			Loc:        loc,
			LastMod:    childText(node, "lastmod"),
			Priority:   defaultPriority,
			ChangeFreq: childText(node, "changefreq"),
		}
		if raw := childText(node, "priority"); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				entry.Priority = v
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func (p *Parser) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get sitemap: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get sitemap: status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(io.LimitReader(resp.Body, maxSitemapBytes))
	if magic, _ := reader.Peek(2); len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("open gzip sitemap: %w", err)
		}
		defer func() {
			_ = gz.Close()
		}()
		return readAll(io.LimitReader(gz, maxSitemapBytes))
	}
	return readAll(reader)
}

func readAll(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read sitemap: %w", err)
	}
	return b, nil
}

func childText(n *xmlquery.Node, name string) string {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && strings.EqualFold(c.Data, name) {
			return strings.TrimSpace(c.InnerText())
		}
	}
	return ""
}
