package extract

import (
	"strings"
	"testing"
)

func TestParse_TitlePriority(t *testing.T) {
	cases := []struct {
		name string
		html string
		want string
	}{
		{
			name: "open graph wins",
			html: `<html><head>
				<meta property="og:title" content="OG Title">
				<meta name="twitter:title" content="TW Title">
				<title>Doc Title</title>
			</head><body><h1>Heading</h1></body></html>`,
			want: "OG Title",
		},
		{
			name: "twitter card second",
			html: `<html><head>
				<meta name="twitter:title" content="TW Title">
				<title>Doc Title</title>
			</head><body></body></html>`,
			want: "TW Title",
		},
		{
			name: "document title third",
			html: `<html><head><title>Doc Title</title></head><body><h1>Heading</h1></body></html>`,
			want: "Doc Title",
		},
		{
			name: "first heading last resort",
			html: `<html><head></head><body><h1>Heading</h1></body></html>`,
			want: "Heading",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := Parse([]byte(tc.html))
			if doc.Title != tc.want {
				t.Errorf("expected title %q, got %q", tc.want, doc.Title)
			}
		})
	}
}

func TestParse_MainContentSelectors(t *testing.T) {
	html := `<html><body>
		<nav>Site navigation links</nav>
		<article>The real article body text.</article>
		<footer>Copyright notice</footer>
	</body></html>`

	doc := Parse([]byte(html))
	if doc.Text != "The real article body text." {
		t.Errorf("expected article content, got %q", doc.Text)
	}
}

func TestParse_JunkSubtreesStripped(t *testing.T) {
	html := `<html><body>
		<script>var tracking = true;</script>
		<style>.x { color: red }</style>
		<header>Masthead</header>
		<div class="ads">Buy things</div>
		<main>Useful text here.</main>
		<div id="comments">First!</div>
	</body></html>`

	doc := Parse([]byte(html))
	if doc.Text != "Useful text here." {
		t.Errorf("expected junk stripped, got %q", doc.Text)
	}
	if strings.Contains(doc.Text, "tracking") || strings.Contains(doc.Text, "First!") {
		t.Errorf("junk content leaked into text: %q", doc.Text)
	}
}

func TestParse_BodyFallback(t *testing.T) {
	html := `<html><body><div><p>Plain page without a content wrapper.</p></div></body></html>`

	doc := Parse([]byte(html))
	if doc.Text != "Plain page without a content wrapper." {
		t.Errorf("expected body fallback, got %q", doc.Text)
	}
}

func TestParse_WhitespaceCollapsed(t *testing.T) {
	html := "<html><body><article>line one\n\n\t  line   two</article></body></html>"

	doc := Parse([]byte(html))
	if doc.Text != "line one line two" {
		t.Errorf("expected collapsed whitespace, got %q", doc.Text)
	}
}

func TestParse_Metadata(t *testing.T) {
	html := `<html><head>
		<meta name="description" content="A descriptive summary.">
		<meta name="author" content="Jane Doe">
		<meta property="article:published_time" content="2024-03-01T09:00:00Z">
		<meta property="og:title" content="OG Title">
		<meta property="og:image" content="https://example.com/img.png">
		<meta name="twitter:card" content="summary">
	</head><body></body></html>`

	doc := Parse([]byte(html))
	m := doc.Metadata

	if m.Description != "A descriptive summary." {
		t.Errorf("description: got %q", m.Description)
	}
	if m.Author != "Jane Doe" {
		t.Errorf("author: got %q", m.Author)
	}
	if m.Published != "2024-03-01T09:00:00Z" {
		t.Errorf("published: got %q", m.Published)
	}
	if m.OpenGraph["image"] != "https://example.com/img.png" {
		t.Errorf("og map: got %v", m.OpenGraph)
	}
	if m.Twitter["card"] != "summary" {
		t.Errorf("twitter map: got %v", m.Twitter)
	}
}

func TestParse_MetaFirstMatchWins(t *testing.T) {
	html := `<html><head>
		<meta property="og:title" content="First">
		<meta property="og:title" content="Second">
	</head><body></body></html>`

	doc := Parse([]byte(html))
	if doc.Metadata.OpenGraph["title"] != "First" {
		t.Errorf("expected first og:title kept, got %q", doc.Metadata.OpenGraph["title"])
	}
}

func TestParse_PublishedFallsBackToTimeElement(t *testing.T) {
	html := `<html><body><time datetime="2024-05-10">May 10</time></body></html>`

	doc := Parse([]byte(html))
	if doc.Metadata.Published != "2024-05-10" {
		t.Errorf("expected time[datetime] fallback, got %q", doc.Metadata.Published)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	doc := Parse(nil)
	if doc.Title != "" || doc.Text != "" {
		t.Errorf("expected empty document for empty input, got %+v", doc)
	}
}
