package report

import (
	"time"

	"github.com/delverhq/delver/internal/entity"
)

// Section is one titled block of report prose.
type Section struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SourceRef points at one page that contributed to the report.
type SourceRef struct {
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Relevance   float64   `json:"relevance"`
	Reason      string    `json:"reason,omitempty"`
	WordCount   int       `json:"word_count,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at,omitempty"`
}

// SourceSummary counts each funnel stage. Relevant <= Crawled <= Searched.
type SourceSummary struct {
	Searched int         `json:"searched"`
	Crawled  int         `json:"crawled"`
	Relevant int         `json:"relevant"`
	Refs     []SourceRef `json:"refs,omitempty"`
}

// Report is the final artifact of a research job.
type Report struct {
	JobID       string          `json:"job_id"`
	Title       string          `json:"title"`
	Summary     string          `json:"summary"`
	Query       string          `json:"query"`
	TemplateID  string          `json:"template_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Sections    []Section       `json:"sections"`
	Sources     SourceSummary   `json:"sources"`
	Entities    []entity.Entity `json:"entities,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
}
