package analyzer

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/delverhq/delver/internal/report"
)

// relevanceSchema constrains a relevance assessment response.
const relevanceSchema = `{
  "type": "object",
  "required": ["relevant", "score", "reason"],
  "properties": {
    "relevant": {"type": "boolean"},
    "score": {"type": "number", "minimum": 0, "maximum": 1},
    "reason": {"type": "string"}
  }
}`

// entitiesSchema constrains an entity extraction response.
const entitiesSchema = `{
  "type": "object",
  "required": ["people", "companies", "products"],
  "properties": {
    "people": {"type": "array", "items": {"type": "string"}},
    "companies": {"type": "array", "items": {"type": "string"}},
    "products": {"type": "array", "items": {"type": "string"}}
  }
}`

// reportSchema constrains a report synthesis response. Title, summary, and a
// non-empty sections list must all be present.
const reportSchema = `{
  "type": "object",
  "required": ["title", "summary", "sections"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "summary": {"type": "string"},
    "sections": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["title", "content"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "content": {"type": "string"}
        }
      }
    }
  }
}`

// validate checks raw JSON against a schema, returning a typed error with the
// first violation on failure.
func validate(op, schema, raw string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewStringLoader(raw),
	)
	if err != nil {
		return &AnalyzerError{Op: op, Raw: raw, Detail: "invalid json", Err: ErrMalformedOutput}
	}
	if !result.Valid() {
		detail := ""
		if errs := result.Errors(); len(errs) > 0 {
			detail = errs[0].Field() + ": " + errs[0].Description()
		}
		return &AnalyzerError{Op: op, Raw: raw, Detail: detail, Err: ErrMalformedOutput}
	}
	return nil
}

func parseRelevance(raw string) (*Relevance, error) {
	raw = cleanJSONBlock(raw)
	if err := validate("relevance", relevanceSchema, raw); err != nil {
		return nil, err
	}
	var r Relevance
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, &AnalyzerError{Op: "relevance", Raw: raw, Err: ErrMalformedOutput}
	}
	return &r, nil
}

func parseEntities(raw string) (*Entities, error) {
	raw = cleanJSONBlock(raw)
	if err := validate("entities", entitiesSchema, raw); err != nil {
		return nil, err
	}
	var e Entities
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, &AnalyzerError{Op: "entities", Raw: raw, Err: ErrMalformedOutput}
	}
	return &e, nil
}

func parseReport(raw string, req *ReportRequest) (*report.Report, error) {
	raw = cleanJSONBlock(raw)
	if err := validate("report", reportSchema, raw); err != nil {
		return nil, err
	}
	var body struct {
		Title    string           `json:"title"`
		Summary  string           `json:"summary"`
		Sections []report.Section `json:"sections"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil, &AnalyzerError{Op: "report", Raw: raw, Err: ErrMalformedOutput}
	}
	for i := range body.Sections {
		if body.Sections[i].ID == "" {
			body.Sections[i].ID = sectionID(body.Sections[i].Title)
		}
	}
	return &report.Report{
		Title:       body.Title,
		Summary:     body.Summary,
		Query:       req.Query,
		TemplateID:  req.TemplateID,
		GeneratedAt: time.Now().UTC(),
		Sections:    body.Sections,
	}, nil
}

// sectionID slugs a section title into a stable identifier.
func sectionID(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// cleanJSONBlock removes markdown code fences models wrap JSON in.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
