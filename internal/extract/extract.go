package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Metadata carries page-level metadata pulled from meta tags.
type Metadata struct {
	Description string            `json:"description,omitempty"`
	Author      string            `json:"author,omitempty"`
	Published   string            `json:"published,omitempty"`
	OpenGraph   map[string]string `json:"openGraph,omitempty"`
	Twitter     map[string]string `json:"twitter,omitempty"`
}

// Document is the normalized result of parsing a fetched HTML page.
type Document struct {
	Title    string
	Text     string
	Metadata Metadata
}

// junkSelectors are subtrees that never contain article content.
var junkSelectors = []string{
	"script", "style", "noscript", "iframe", "form",
	"nav", "header", "footer", "aside",
	".ads", ".advertisement", ".ad-container",
	"#comments", ".comments", ".comment-section",
	".sidebar", ".social-share", ".newsletter-signup",
}

// contentSelectors are tried in order; the first non-empty match wins.
// Falls back to the full body when nothing matches.
var contentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	".post-content",
	".article-content",
	".entry-content",
	".article-body",
	".post-body",
	".story-body",
	"#content",
	".content",
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Parse extracts normalized text and metadata from raw HTML. It never fails:
// unparsable input yields an empty Document.
func Parse(body []byte) *Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return &Document{}
	}

	meta := parseMetadata(doc)

	doc.Find(strings.Join(junkSelectors, ", ")).Remove()

	return &Document{
		Title:    parseTitle(doc, meta),
		Text:     parseMainContent(doc),
		Metadata: meta,
	}
}

// parseTitle resolves the page title: Open Graph, then Twitter card, then
// <title>, then the first heading.
func parseTitle(doc *goquery.Document, meta Metadata) string {
	if t := meta.OpenGraph["title"]; t != "" {
		return t
	}
	if t := meta.Twitter["title"]; t != "" {
		return t
	}
	if t := collapse(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return collapse(doc.Find("h1, h2").First().Text())
}

func parseMainContent(doc *goquery.Document) string {
	for _, sel := range contentSelectors {
		if text := collapse(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return collapse(doc.Find("body").Text())
}

func parseMetadata(doc *goquery.Document) Metadata {
	meta := Metadata{
		OpenGraph: make(map[string]string),
		Twitter:   make(map[string]string),
	}

	doc.Find("meta").Each(func(i int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok || strings.TrimSpace(content) == "" {
			return
		}
		content = strings.TrimSpace(content)

		if prop, ok := s.Attr("property"); ok {
			if key, found := strings.CutPrefix(prop, "og:"); found {
				if _, seen := meta.OpenGraph[key]; !seen {
					meta.OpenGraph[key] = content
				}
				return
			}
		}
		if name, ok := s.Attr("name"); ok {
			if key, found := strings.CutPrefix(name, "twitter:"); found {
				if _, seen := meta.Twitter[key]; !seen {
					meta.Twitter[key] = content
				}
				return
			}
		}
	})

	meta.Description = firstMeta(doc,
		`meta[name="description"]`,
		`meta[property="og:description"]`,
		`meta[name="twitter:description"]`,
	)
	meta.Author = firstMeta(doc,
		`meta[name="author"]`,
		`meta[property="article:author"]`,
	)
	meta.Published = firstMeta(doc,
		`meta[property="article:published_time"]`,
		`meta[name="date"]`,
		`meta[name="publish-date"]`,
	)
	if meta.Published == "" {
		if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
			meta.Published = strings.TrimSpace(dt)
		}
	}

	return meta
}

// firstMeta returns the content of the first selector that matches a meta tag
// with non-empty content.
func firstMeta(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if c := strings.TrimSpace(content); c != "" {
				return c
			}
		}
	}
	return ""
}

// collapse normalizes all runs of whitespace to single spaces.
func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
