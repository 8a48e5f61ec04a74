package headless

import (
	"net/http"
	"strings"

	"github.com/JakeFAU/competitor-watch/internal/fetcher"
	"github.com/JakeFAU/competitor-watch/internal/htmltext"
)

const (
	defaultBodyThreshold = 2048
	minVisibleText       = 200
	scriptCoveragePct    = 25
)

// spaMarkers identify client-rendered application shells.
var spaMarkers = []string{
	`id="__next"`,
	`id="root"`,
	`id="app"`,
	`data-reactroot`,
	`ng-version=`,
	`data-server-rendered`,
}

// Heuristic flags responses that look like script-built pages.
type Heuristic struct {
	BodyThreshold int
}

// NewHeuristic creates a detector. threshold <= 0 selects 2 KiB.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	return &Heuristic{BodyThreshold: threshold}
}

// ShouldPromote implements fetcher.Detector. Only 200 responses are promoted.
func (h *Heuristic) ShouldPromote(resp fetcher.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.HTML
	if strings.TrimSpace(body) == "" {
		return true
	}
	if len(body) < h.BodyThreshold && scriptCoverage(body) >= scriptCoveragePct {
		return true
	}
	for _, marker := range spaMarkers {
		if strings.Contains(body, marker) && len(htmltext.Text(body)) < minVisibleText {
			return true
		}
	}
	return false
}

// scriptCoverage returns the share of body, in percent, spent inside script
// elements. An unterminated script counts to the end of the document.
func scriptCoverage(body string) int {
	lower := strings.ToLower(body)
	total := len(lower)
	covered := 0
	for pos := 0; pos < total; {
		start := strings.Index(lower[pos:], "<script")
		if start < 0 {
			break
		}
		start += pos
		end := strings.Index(lower[start:], "</script>")
		if end < 0 {
			covered += total - start
			break
		}
		end = start + end + len("</script>")
		covered += end - start
		pos = end
	}
	if total == 0 {
		return 0
	}
	return covered * 100 / total
}
