// Package analyzer defines the language-model capability the pipeline
// consumes: relevance scoring, model-side entity extraction, and report
// synthesis. The pipeline owns none of the model logic; it only depends on
// this interface.
package analyzer

import (
	"context"
	"errors"
	"fmt"

	"github.com/delverhq/delver/internal/report"
)

// ErrMalformedOutput marks responses that could not be parsed or that failed
// schema validation. Jobs hitting it fail without retry.
var ErrMalformedOutput = errors.New("analyzer: malformed output")

// AnalyzerError carries the operation and the raw model output alongside the
// parse or validation failure.
type AnalyzerError struct {
	Op     string
	Raw    string
	Detail string
	Err    error
}

func (e *AnalyzerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("analyzer %s: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("analyzer %s: %v", e.Op, e.Err)
}

func (e *AnalyzerError) Unwrap() error { return e.Err }

// Relevance is the assessment of one page's content against the original
// research query.
type Relevance struct {
	Relevant bool    `json:"relevant"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// Entities is the model-side entity extraction result. It complements the
// heuristic extractor rather than replacing it.
type Entities struct {
	People    []string `json:"people"`
	Companies []string `json:"companies"`
	Products  []string `json:"products"`
}

// SourceText is one relevant page handed to report synthesis.
type SourceText struct {
	URL     string
	Title   string
	Content string
}

// ReportRequest bundles everything report synthesis needs.
type ReportRequest struct {
	Query          string
	TemplateID     string
	Sections       []string
	AnalysisPrompt string
	Sources        []SourceText
}

// TextAnalyzer is the external analysis capability.
type TextAnalyzer interface {
	// AssessRelevance scores content against the query.
	AssessRelevance(ctx context.Context, content, query string) (*Relevance, error)
	// ExtractEntities pulls named entities from the combined relevant text.
	ExtractEntities(ctx context.Context, text string) (*Entities, error)
	// GenerateReport synthesizes the final report sections. The returned
	// report carries sections only; the orchestrator attaches sources and
	// entity metadata.
	GenerateReport(ctx context.Context, req *ReportRequest) (*report.Report, error)
	// Close releases any resources held by the analyzer.
	Close() error
}
