package analyzer

import (
	"errors"
	"testing"
)

func TestParseRelevance(t *testing.T) {
	rel, err := parseRelevance(`{"relevant": true, "score": 0.82, "reason": "covers the query directly"}`)
	if err != nil {
		t.Fatalf("parseRelevance: %v", err)
	}
	if !rel.Relevant || rel.Score != 0.82 {
		t.Errorf("got %+v", rel)
	}
}

func TestParseRelevanceFenced(t *testing.T) {
	raw := "```json\n{\"relevant\": false, \"score\": 0.1, \"reason\": \"off topic\"}\n```"
	rel, err := parseRelevance(raw)
	if err != nil {
		t.Fatalf("parseRelevance: %v", err)
	}
	if rel.Relevant || rel.Reason != "off topic" {
		t.Errorf("got %+v", rel)
	}
}

func TestParseRelevanceMissingField(t *testing.T) {
	_, err := parseRelevance(`{"relevant": true, "score": 0.9}`)
	if err == nil {
		t.Fatal("expected error for missing reason")
	}
	if !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("error = %v, want ErrMalformedOutput", err)
	}
	var aerr *AnalyzerError
	if !errors.As(err, &aerr) || aerr.Op != "relevance" {
		t.Errorf("error = %#v, want AnalyzerError with op relevance", err)
	}
}

func TestParseRelevanceNotJSON(t *testing.T) {
	_, err := parseRelevance("The page seems relevant to me.")
	if !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("error = %v, want ErrMalformedOutput", err)
	}
}

func TestParseEntities(t *testing.T) {
	ents, err := parseEntities(`{"people": ["Jane Doe"], "companies": ["Acme Corp"], "products": []}`)
	if err != nil {
		t.Fatalf("parseEntities: %v", err)
	}
	if len(ents.People) != 1 || ents.People[0] != "Jane Doe" {
		t.Errorf("people = %v", ents.People)
	}
	if len(ents.Products) != 0 {
		t.Errorf("products = %v", ents.Products)
	}
}

func TestParseEntitiesWrongShape(t *testing.T) {
	_, err := parseEntities(`{"people": "Jane Doe", "companies": [], "products": []}`)
	if !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("error = %v, want ErrMalformedOutput", err)
	}
}

func TestParseReport(t *testing.T) {
	req := &ReportRequest{Query: "acme corp", TemplateID: "company-profile"}
	raw := `{"title": "Acme Corp Profile", "summary": "Acme dominates anvils.",
		"sections": [{"title": "Company Overview", "content": "Acme makes anvils."}]}`
	rep, err := parseReport(raw, req)
	if err != nil {
		t.Fatalf("parseReport: %v", err)
	}
	if rep.Query != "acme corp" || rep.TemplateID != "company-profile" {
		t.Errorf("got %+v", rep)
	}
	if rep.Title != "Acme Corp Profile" || rep.Summary != "Acme dominates anvils." {
		t.Errorf("title = %q, summary = %q", rep.Title, rep.Summary)
	}
	if len(rep.Sections) != 1 || rep.Sections[0].Title != "Company Overview" {
		t.Errorf("sections = %+v", rep.Sections)
	}
	if rep.Sections[0].ID != "company-overview" {
		t.Errorf("section id = %q, want company-overview", rep.Sections[0].ID)
	}
	if rep.GeneratedAt.IsZero() {
		t.Error("generatedAt not set")
	}
}

func TestParseReportEmptySections(t *testing.T) {
	_, err := parseReport(`{"title": "t", "summary": "s", "sections": []}`, &ReportRequest{})
	if !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("error = %v, want ErrMalformedOutput", err)
	}
}

func TestParseReportMissingSections(t *testing.T) {
	_, err := parseReport(`{"title": "t", "summary": "a report"}`, &ReportRequest{})
	if !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("error = %v, want ErrMalformedOutput", err)
	}
}

func TestParseReportMissingTitle(t *testing.T) {
	_, err := parseReport(`{"summary": "s", "sections": [{"title": "A", "content": "b"}]}`, &ReportRequest{})
	if !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("error = %v, want ErrMalformedOutput", err)
	}
}

func TestSectionID(t *testing.T) {
	cases := map[string]string{
		"Company Overview":     "company-overview",
		"Risks & Challenges":   "risks-challenges",
		"  Financials (2026) ": "financials-2026",
	}
	for in, want := range cases {
		if got := sectionID(in); got != want {
			t.Errorf("sectionID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanJSONBlock(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                  `{"a":1}`,
		"```json\n{\"a\":1}\n```":    `{"a":1}`,
		"```\n{\"a\":1}\n```":        `{"a":1}`,
		"  \n{\"a\":1}\n  ":          `{"a":1}`,
	}
	for in, want := range cases {
		if got := cleanJSONBlock(in); got != want {
			t.Errorf("cleanJSONBlock(%q) = %q, want %q", in, got, want)
		}
	}
}
