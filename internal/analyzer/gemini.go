package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/delverhq/delver/internal/metrics"
	"github.com/delverhq/delver/internal/report"
)

// ensure Gemini implements TextAnalyzer
var _ TextAnalyzer = (*Gemini)(nil)

// maxContentChars caps how much page text is sent per model call.
const maxContentChars = 12000

// GeminiConfig configures the Gemini-backed analyzer.
type GeminiConfig struct {
	Model       string
	Temperature float32
	Logger      *slog.Logger
}

// Gemini implements TextAnalyzer on Google Gemini.
type Gemini struct {
	client *genai.Client
	model  string
	temp   float32
	logger *slog.Logger
}

// NewGemini creates a Gemini analyzer. The model defaults to
// gemini-1.5-flash and temperature to 0.1 for consistent structured output.
func NewGemini(ctx context.Context, apiKey string, cfg GeminiConfig) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("analyzer: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  cfg.Model,
		temp:   cfg.Temperature,
		logger: cfg.Logger,
	}, nil
}

// AssessRelevance scores one page's content against the research query.
func (g *Gemini) AssessRelevance(ctx context.Context, content, query string) (*Relevance, error) {
	prompt := relevancePrompt(query, truncate(content, maxContentChars))
	raw, err := g.generateJSON(ctx, "relevance", prompt)
	if err != nil {
		return nil, err
	}
	rel, err := parseRelevance(raw)
	if err != nil {
		metrics.AnalyzerCalls.WithLabelValues("relevance", "malformed").Inc()
		return nil, err
	}
	metrics.AnalyzerCalls.WithLabelValues("relevance", "ok").Inc()
	return rel, nil
}

// ExtractEntities pulls named entities from the combined relevant text.
func (g *Gemini) ExtractEntities(ctx context.Context, text string) (*Entities, error) {
	prompt := entitiesPrompt(truncate(text, maxContentChars))
	raw, err := g.generateJSON(ctx, "entities", prompt)
	if err != nil {
		return nil, err
	}
	ents, err := parseEntities(raw)
	if err != nil {
		metrics.AnalyzerCalls.WithLabelValues("entities", "malformed").Inc()
		return nil, err
	}
	metrics.AnalyzerCalls.WithLabelValues("entities", "ok").Inc()
	return ents, nil
}

// GenerateReport synthesizes report sections from the relevant sources.
func (g *Gemini) GenerateReport(ctx context.Context, req *ReportRequest) (*report.Report, error) {
	raw, err := g.generateJSON(ctx, "report", reportPrompt(req))
	if err != nil {
		return nil, err
	}
	rep, err := parseReport(raw, req)
	if err != nil {
		metrics.AnalyzerCalls.WithLabelValues("report", "malformed").Inc()
		return nil, err
	}
	metrics.AnalyzerCalls.WithLabelValues("report", "ok").Inc()
	return rep, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *Gemini) generateJSON(ctx context.Context, op, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(g.temp)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		metrics.AnalyzerCalls.WithLabelValues(op, "error").Inc()
		return "", fmt.Errorf("gemini %s call: %w", op, err)
	}

	text, err := responseText(resp)
	if err != nil {
		metrics.AnalyzerCalls.WithLabelValues(op, "empty").Inc()
		return "", &AnalyzerError{Op: op, Detail: "empty response", Err: ErrMalformedOutput}
	}
	return text, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func relevancePrompt(query, content string) string {
	var b strings.Builder
	b.WriteString("Assess whether the following page content is relevant to the research query.\n")
	b.WriteString("Respond with JSON only: {\"relevant\": bool, \"score\": number 0..1, \"reason\": string}.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\nContent:\n%s\n", query, content)
	return b.String()
}

func entitiesPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Extract named entities from the text below.\n")
	b.WriteString("Respond with JSON only: {\"people\": [string], \"companies\": [string], \"products\": [string]}.\n\n")
	b.WriteString(text)
	return b.String()
}

func reportPrompt(req *ReportRequest) string {
	var b strings.Builder
	b.WriteString("Write a research report as JSON only: {\"title\": string, \"summary\": string, \"sections\": [{\"title\": string, \"content\": string}]}.\n")
	b.WriteString("The summary is a short abstract of the whole report.\n")
	fmt.Fprintf(&b, "Research query: %s\n", req.Query)
	if len(req.Sections) > 0 {
		fmt.Fprintf(&b, "Required sections: %s\n", strings.Join(req.Sections, ", "))
	}
	if req.AnalysisPrompt != "" {
		fmt.Fprintf(&b, "Guidance: %s\n", req.AnalysisPrompt)
	}
	if len(req.Sources) == 0 {
		b.WriteString("No source pages are available. Write the report from general knowledge and state that sources were unavailable.\n")
		return b.String()
	}
	b.WriteString("\nSources:\n")
	budget := maxContentChars / len(req.Sources)
	for i, src := range req.Sources {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, src.Title, src.URL, truncate(src.Content, budget))
	}
	return b.String()
}
