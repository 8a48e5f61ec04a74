// Package fetcher defines the page fetch capability consumed by the crawl
// executor. Implementations live in the colly and headless subpackages.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrStatus marks responses whose HTTP status is not usable.
var ErrStatus = errors.New("unexpected http status")

// Response is the outcome of fetching one page.
type Response struct {
	URL        string        `json:"url"`
	FinalURL   string        `json:"final_url"`
	StatusCode int           `json:"status_code"`
	Headers    http.Header   `json:"-"`
	HTML       string        `json:"-"`
	Title      string        `json:"title,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	Rendered   bool          `json:"rendered"`
}

// Fetcher retrieves a page. It returns an error only for transport failures;
// HTTP error statuses are reported through Response.StatusCode.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// Func adapts a function to the Fetcher interface.
type Func func(ctx context.Context, url string) (Response, error)

// Fetch implements Fetcher.
func (f Func) Fetch(ctx context.Context, url string) (Response, error) {
	return f(ctx, url)
}

// CheckStatus returns an ErrStatus-wrapped error for 4xx and 5xx responses.
func CheckStatus(resp Response) error {
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return nil
}

// Title returns the trimmed <title> of an HTML document, or "".
func Title(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}
