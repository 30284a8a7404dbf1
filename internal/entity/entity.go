package entity

// Kind classifies an extracted entity.
type Kind string

const (
	KindPerson  Kind = "person"
	KindCompany Kind = "company"
	KindProduct Kind = "product"
)

// Entity is a named entity accumulated across all analyzed text. Mention
// counts and context snippets only grow; they never reset between scans of
// the same accumulated corpus.
type Entity struct {
	Name            string            `json:"name"`
	Kind            Kind              `json:"kind"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	Mentions        int               `json:"mentions"`
	ContextSnippets []string          `json:"contextSnippets,omitempty"`
	// Relationships lists other confirmed people found near this entity's
	// occurrences. Populated for persons only, symmetric by construction.
	Relationships []string `json:"relationships,omitempty"`
}

// Extractor turns free text into named entities. The regex implementation in
// this package is the default; a model-backed implementation can be swapped
// in without the orchestrator noticing.
type Extractor interface {
	Extract(text string) []Entity
}
