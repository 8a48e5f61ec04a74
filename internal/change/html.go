package change

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func parseDocument(raw string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// strippedText concatenates the trimmed text nodes under sel with no separator.
func strippedText(sel *goquery.Selection) string {
	return joinText(sel, "")
}

// spacedText joins the trimmed text nodes under sel with single spaces.
func spacedText(sel *goquery.Selection) string {
	return joinText(sel, " ")
}

func joinText(sel *goquery.Selection, sep string) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, sep)
}

// findByClass returns the first descendant of sel, in document order, that
// carries a class token matching re.
func findByClass(sel *goquery.Selection, re *regexp.Regexp) *goquery.Selection {
	return sel.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return classMatches(s, re)
	}).First()
}

func classMatches(s *goquery.Selection, re *regexp.Regexp) bool {
	for _, c := range strings.Fields(s.AttrOr("class", "")) {
		if re.MatchString(c) {
			return true
		}
	}
	return false
}
