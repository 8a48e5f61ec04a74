package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/robots"
)

func urlset(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, loc := range locs {
		fmt.Fprintf(&b, "<url><loc>%s</loc></url>", loc)
	}
	b.WriteString("</urlset>")
	return b.String()
}

func index(locs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, loc := range locs {
		fmt.Fprintf(&b, "<sitemap><loc>%s</loc></sitemap>", loc)
	}
	b.WriteString("</sitemapindex>")
	return b.String()
}

func TestParseURLSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc> https://ex.com/pricing </loc><lastmod>2026-01-02</lastmod><priority>0.9</priority><changefreq>weekly</changefreq></url>
  <url><loc>https://ex.com/blog</loc><priority>bogus</priority></url>
  <url><lastmod>2026-01-02</lastmod></url>
</urlset>`)
	}))
	defer srv.Close()

	p := NewParser(srv.Client(), "test-agent", 0, zap.NewNop())
	entries := p.Parse(context.Background(), srv.URL+"/sitemap.xml", 100)
	require.Equal(t, []Entry{
		{Loc: "https://ex.com/pricing", LastMod: "2026-01-02", Priority: 0.9, ChangeFreq: "weekly"},
		{Loc: "https://ex.com/blog", Priority: 0.5},
	}, entries)
}

func TestParseRespectsBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, urlset("https://ex.com/a", "https://ex.com/b", "https://ex.com/c"))
	}))
	defer srv.Close()

	p := NewParser(srv.Client(), "", 0, nil)
	require.Len(t, p.Parse(context.Background(), srv.URL+"/s.xml", 2), 2)
}

func TestParseIndexSharesBudget(t *testing.T) {
	var childHits atomic.Int32
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/index.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, index(base+"/one.xml", base+"/two.xml", base+"/three.xml"))
	})
	for _, name := range []string{"one", "two", "three"} {
		name := name
		mux.HandleFunc("/"+name+".xml", func(w http.ResponseWriter, r *http.Request) {
			childHits.Add(1)
			fmt.Fprint(w, urlset(
				"https://ex.com/"+name+"/1",
				"https://ex.com/"+name+"/2",
				"https://ex.com/"+name+"/3",
			))
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()
	base = srv.URL

	p := NewParser(srv.Client(), "", 0, zap.NewNop())
	entries := p.Parse(context.Background(), srv.URL+"/index.xml", 5)
	require.Len(t, entries, 5)
	require.Equal(t, "https://ex.com/one/1", entries[0].Loc)
	require.Equal(t, "https://ex.com/two/2", entries[4].Loc)
	require.Equal(t, int32(2), childHits.Load(), "budget exhausted before the third child")
}

func TestParseIndexFanOutCap(t *testing.T) {
	var childHits atomic.Int32
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/index.xml", func(w http.ResponseWriter, r *http.Request) {
		locs := make([]string, 0, 15)
		for i := 0; i < 15; i++ {
			locs = append(locs, fmt.Sprintf("%s/child.xml?n=%d", base, i))
		}
		fmt.Fprint(w, index(locs...))
	})
	mux.HandleFunc("/child.xml", func(w http.ResponseWriter, r *http.Request) {
		childHits.Add(1)
		fmt.Fprint(w, urlset("https://ex.com/"+r.URL.Query().Get("n")))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	base = srv.URL

	p := NewParser(srv.Client(), "", 0, zap.NewNop())
	entries := p.Parse(context.Background(), srv.URL+"/index.xml", 1000)
	require.Len(t, entries, 10)
	require.Equal(t, int32(10), childHits.Load())
}

func TestParseSelfReferencingIndexTerminates(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, index(srvURL+"/loop.xml"))
	}))
	defer srv.Close()
	srvURL = srv.URL

	p := NewParser(srv.Client(), "", 0, zap.NewNop())
	require.Empty(t, p.Parse(context.Background(), srv.URL+"/loop.xml", 10))
}

func TestParseGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(urlset("https://ex.com/zipped")))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	p := NewParser(srv.Client(), "", 0, zap.NewNop())
	entries := p.Parse(context.Background(), srv.URL+"/sitemap.xml.gz", 10)
	require.Equal(t, []Entry{{Loc: "https://ex.com/zipped", Priority: 0.5}}, entries)
}

func TestParseFailuresAreEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.xml":
			http.NotFound(w, r)
		default:
			fmt.Fprint(w, "<urlset><url><loc>https://ex.com/broken")
		}
	}))
	defer srv.Close()

	p := NewParser(srv.Client(), "", 0, zap.NewNop())
	require.Empty(t, p.Parse(context.Background(), srv.URL+"/missing.xml", 10))
	require.Empty(t, p.Parse(context.Background(), srv.URL+"/broken.xml", 10))
}

type stubPolicies struct {
	sitemaps []string
}

func (s stubPolicies) Policy(context.Context, string) robots.Policy {
	return robots.Policy{Sitemaps: s.sitemaps}
}

func TestDiscover(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			w.Header().Set("Content-Type", "application/xml")
		case "/sitemap_index.xml":
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		case "/sitemaps.xml":
			w.Header().Set("Content-Type", "image/png")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	policies := stubPolicies{sitemaps: []string{srvURL + "/sitemap.xml", "https://cdn.ex.com/extra.xml"}}
	d := NewDiscoverer(srv.Client(), policies, "test-agent", zap.NewNop())
	got := d.Discover(context.Background(), srv.URL+"/")
	require.Equal(t, []string{
		srvURL + "/sitemap.xml",
		srvURL + "/sitemap_index.xml",
		"https://cdn.ex.com/extra.xml",
	}, got)
}
