// Package htmltext extracts the visible text of an HTML document.
package htmltext

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var skipped = map[atom.Atom]struct{}{
	atom.Script:   {},
	atom.Style:    {},
	atom.Noscript: {},
	atom.Template: {},
	atom.Svg:      {},
	atom.Iframe:   {},
	atom.Head:     {},
}

var blockLevel = map[atom.Atom]struct{}{
	atom.P: {}, atom.Div: {}, atom.Section: {}, atom.Article: {}, atom.Main: {},
	atom.Header: {}, atom.Footer: {}, atom.Nav: {}, atom.Aside: {},
	atom.H1: {}, atom.H2: {}, atom.H3: {}, atom.H4: {}, atom.H5: {}, atom.H6: {},
	atom.Li: {}, atom.Ul: {}, atom.Ol: {}, atom.Table: {}, atom.Tr: {}, atom.Td: {}, atom.Th: {},
	atom.Br: {}, atom.Figure: {}, atom.Figcaption: {}, atom.Blockquote: {}, atom.Pre: {},
}

// Document is the text view of a parsed page.
type Document struct {
	Title string
	Text  string
}

// Extract parses raw HTML and returns its title and visible body text with
// whitespace collapsed to single spaces.
func Extract(raw string) (Document, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}
	var doc Document
	if t := find(root, atom.Title); t != nil {
		doc.Title = Collapse(textOf(t))
	}
	var b strings.Builder
	walk(root, &b)
	doc.Text = Collapse(b.String())
	return doc, nil
}

// Text is Extract without the title. Unparseable input yields "".
func Text(raw string) string {
	doc, err := Extract(raw)
	if err != nil {
		return ""
	}
	return doc.Text
}

// Collapse trims s and replaces every whitespace run with one space.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func walk(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if _, skip := skipped[n.DataAtom]; skip {
			return
		}
	case html.CommentNode:
		return
	}
	_, block := blockLevel[n.DataAtom]
	if block {
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, b)
	}
	if block {
		b.WriteByte(' ')
	}
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
