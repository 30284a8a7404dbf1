package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/template"
	"time"
)

// WriteJSON writes the report to the provided writer in indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report json: %w", err)
	}
	return nil
}

const markdownTmpl = `# {{if .Title}}{{.Title}}{{else}}{{.Query}}{{end}}

*Generated {{.GeneratedAt.Format "2006-01-02 15:04"}} UTC using template {{.TemplateID}}.*
{{- if .Summary}}

{{.Summary}}
{{- end}}
{{- if .Warnings}}

> **Warnings**
{{- range .Warnings}}
> - {{.}}
{{- end}}
{{- end}}
{{range .Sections}}
## {{.Title}}

{{.Content}}
{{end}}
## Sources

Searched {{.Sources.Searched}}, crawled {{.Sources.Crawled}}, relevant {{.Sources.Relevant}}.
{{range .Sources.Refs}}
- [{{if .Title}}{{.Title}}{{else}}{{.URL}}{{end}}]({{.URL}}) (relevance {{printf "%.2f" .Relevance}})
{{- end}}
{{- if .Entities}}

## Entities
{{range .Entities}}
- **{{.Name}}** ({{.Kind}}, {{.Mentions}} mentions)
{{- end}}
{{- end}}
`

// WriteMarkdown writes a human-readable Markdown rendering of the report.
func WriteMarkdown(w io.Writer, r *Report) error {
	t, err := template.New("markdownReport").Parse(markdownTmpl)
	if err != nil {
		return fmt.Errorf("parsing markdown template: %w", err)
	}
	if err := t.Execute(w, r); err != nil {
		return fmt.Errorf("rendering markdown report: %w", err)
	}
	return nil
}

// sourceHeaders defines the CSV column order for the source list.
var sourceHeaders = []string{
	"url",
	"title",
	"provider",
	"relevance",
	"reason",
	"word_count",
	"retrieved_at",
}

// WriteSourcesCSV writes the report's source references as CSV.
func WriteSourcesCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sourceHeaders); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, ref := range r.Sources.Refs {
		retrieved := ""
		if !ref.RetrievedAt.IsZero() {
			retrieved = ref.RetrievedAt.Format(time.RFC3339)
		}
		record := []string{
			ref.URL,
			ref.Title,
			ref.Provider,
			strconv.FormatFloat(ref.Relevance, 'f', 2, 64),
			ref.Reason,
			strconv.Itoa(ref.WordCount),
			retrieved,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
