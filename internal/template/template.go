// Package template holds the report templates that shape a research job:
// which search queries to issue and which sections the final report carries.
package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when no template matches the requested ID.
var ErrNotFound = errors.New("template not found")

// Template describes one report shape. SearchQueries may contain the
// {query} placeholder, substituted with the job's query at search time.
type Template struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	SearchQueries  []string `json:"search_queries"`
	Sections       []string `json:"sections"`
	AnalysisPrompt string   `json:"analysis_prompt,omitempty"`
}

// ExpandQueries substitutes the job query into the template's search query
// patterns. Patterns without a placeholder are kept verbatim.
func (t *Template) ExpandQueries(query string) []string {
	if len(t.SearchQueries) == 0 {
		return []string{query}
	}
	out := make([]string, 0, len(t.SearchQueries))
	for _, pattern := range t.SearchQueries {
		out = append(out, strings.ReplaceAll(pattern, "{query}", query))
	}
	return out
}

// Registry holds templates by ID. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry creates a registry seeded with the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*Template)}
	for _, t := range builtins {
		r.templates[t.ID] = t
	}
	return r
}

// Register adds or replaces a template.
func (r *Registry) Register(t *Template) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("template requires an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

// Get returns the template with the given ID.
func (r *Registry) Get(id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %q: %w", id, ErrNotFound)
	}
	return t, nil
}

// List returns all templates sorted by ID.
func (r *Registry) List() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var builtins = []*Template{
	{
		ID:          "company-profile",
		Name:        "Company Profile",
		Description: "Profile of a single company: what it does, who runs it, how it is doing.",
		SearchQueries: []string{
			"{query}",
			"{query} company overview",
			"{query} leadership team",
			"{query} revenue funding news",
		},
		Sections: []string{
			"Overview",
			"Products and Services",
			"Leadership",
			"Financials and Funding",
			"Recent Developments",
		},
		AnalysisPrompt: "Focus on verifiable facts about the company: founding, products, leadership, financial signals, recent news.",
	},
	{
		ID:          "market-overview",
		Name:        "Market Overview",
		Description: "Landscape view of a market or industry segment.",
		SearchQueries: []string{
			"{query} market size",
			"{query} industry trends",
			"{query} key players competitors",
			"{query} market forecast",
		},
		Sections: []string{
			"Market Definition",
			"Size and Growth",
			"Key Players",
			"Trends and Drivers",
			"Outlook",
		},
		AnalysisPrompt: "Quantify where possible: market size estimates, growth rates, named competitors, cited forecasts.",
	},
	{
		ID:          "topic-brief",
		Name:        "Topic Brief",
		Description: "Short neutral briefing on any topic.",
		SearchQueries: []string{
			"{query}",
			"{query} explained",
			"{query} latest news",
		},
		Sections: []string{
			"Summary",
			"Background",
			"Current State",
			"Key Takeaways",
		},
		AnalysisPrompt: "Stay neutral and cite which source supports each claim.",
	},
}
