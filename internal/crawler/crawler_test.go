package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/delverhq/delver/pkg/useragent"
)

const articleHTML = `<html><head>
	<title>Sensor Breakthrough</title>
	<meta name="description" content="New quantum sensor results.">
</head><body>
	<nav>home | about</nav>
	<article>Researchers announced a new quantum sensor design today.</article>
</body></html>`

func newTestCrawler(t *testing.T, cfg Config) *Crawler {
	t.Helper()
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("create crawler: %v", err)
	}
	return c
}

func TestCrawler_FetchAndExtract(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("User-Agent"), "DelverResearch") {
			t.Errorf("expected crawler User-Agent, got %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer ts.Close()

	c := newTestCrawler(t, Config{Fetch: FetchConfig{Timeout: 5 * time.Second}})

	page, err := c.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Title != "Sensor Breakthrough" {
		t.Errorf("expected extracted title, got %q", page.Title)
	}
	if !strings.Contains(page.Content, "quantum sensor design") {
		t.Errorf("expected article content, got %q", page.Content)
	}
	if strings.Contains(page.Content, "home | about") {
		t.Errorf("navigation should be stripped, got %q", page.Content)
	}
	if page.Metadata.Description != "New quantum sensor results." {
		t.Errorf("expected metadata description, got %q", page.Metadata.Description)
	}
}

func TestCrawler_HTTPErrorIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	c := newTestCrawler(t, Config{Fetch: FetchConfig{Timeout: 5 * time.Second}})

	if _, err := c.Fetch(context.Background(), ts.URL); err == nil {
		t.Errorf("expected error for 404 response")
	}
}

func TestCrawler_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer ts.Close()

	c := newTestCrawler(t, Config{Fetch: FetchConfig{Timeout: 10 * time.Millisecond}})

	if _, err := c.Fetch(context.Background(), ts.URL); err == nil {
		t.Errorf("expected timeout error")
	}
}

func TestCrawler_ChallengePageIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<html><title>Attention Required! | Cloudflare</title><div class="cf-turnstile"></div></html>`))
	}))
	defer ts.Close()

	c := newTestCrawler(t, Config{Fetch: FetchConfig{Timeout: 5 * time.Second}})

	_, err := c.Fetch(context.Background(), ts.URL)
	if err == nil || !strings.Contains(err.Error(), "Cloudflare") {
		t.Errorf("expected Cloudflare challenge error, got %v", err)
	}
}

func TestCrawler_RobotsDisallow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(articleHTML))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := newTestCrawler(t, Config{
		Fetch:         FetchConfig{Timeout: 5 * time.Second},
		RespectRobots: true,
	})

	if _, err := c.Fetch(context.Background(), ts.URL+"/private/page"); err == nil {
		t.Errorf("expected robots.txt denial")
	}
	if _, err := c.Fetch(context.Background(), ts.URL+"/public/page"); err != nil {
		t.Errorf("allowed path should fetch, got %v", err)
	}
}

func TestCrawler_RobotsUnreachableFailsOpen(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(articleHTML))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := newTestCrawler(t, Config{
		Fetch:         FetchConfig{Timeout: 5 * time.Second},
		RespectRobots: true,
	})

	if _, err := c.Fetch(context.Background(), ts.URL+"/page"); err != nil {
		t.Errorf("expected fail-open when robots.txt errors, got %v", err)
	}
}

func TestCrawler_CustomUserAgentPool(t *testing.T) {
	var seen string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer ts.Close()

	c := newTestCrawler(t, Config{Fetch: FetchConfig{
		Timeout: 5 * time.Second,
		UAPool:  useragent.NewPool([]string{"CustomAgent/2.0"}),
	}})

	if _, err := c.Fetch(context.Background(), ts.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "CustomAgent/2.0" {
		t.Errorf("expected custom UA, got %q", seen)
	}
}
