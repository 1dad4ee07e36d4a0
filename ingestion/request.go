package ingestion

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/poiesic/dealwire/core"
	"golang.org/x/net/html"
)

var htmlTag = regexp.MustCompile(`(?i)<(html|body|article|section|div|p|br|span|a|h[1-6]|ul|ol|li|table|script|style)\b`)

// buildRequest renders the canonical extractor input of doc: the headline,
// a blank line and the article text, capped at maxChars runes.
func buildRequest(doc *core.Document, maxChars int) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(doc.Headline))

	text := strings.TrimSpace(doc.Text())
	if htmlTag.MatchString(text) {
		text = visibleText(text)
	}
	if text != "" {
		b.WriteString("\n\n")
		b.WriteString(text)
	}
	return truncateRunes(b.String(), maxChars)
}

// visibleText reduces an HTML fragment to its readable text.
// Returns the input unchanged if it cannot be parsed.
func visibleText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style, noscript, nav, footer, header, aside, form").Remove()

	var words []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Find("body").Nodes {
		walk(n)
	}
	return strings.Join(words, " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
