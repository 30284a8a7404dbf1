package entity

import (
	"regexp"
	"sort"
	"strings"
)

// ensure RegexExtractor implements Extractor
var _ Extractor = (*RegexExtractor)(nil)

// Pattern rules per kind, applied in order. Capture group 1 is the candidate
// name.
var (
	personPatterns = []*regexp.Regexp{
		// Title or honorific adjacent to a capitalized name.
		regexp.MustCompile(`(?:CEO|CTO|CFO|COO|Chair(?:man|woman)?|President|Vice President|Director|Professor|Dr\.|Mr\.|Ms\.|[Cc]o-founder|[Ff]ounder)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,3})`),
		// Name adjacent to an attribution verb.
		regexp.MustCompile(`([A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,3})\s+(?:said|says|announced|stated|told|added|noted|explained|wrote)`),
	}

	companyPatterns = []*regexp.Regexp{
		// Name carrying a legal suffix; the suffix is part of the name.
		regexp.MustCompile(`([A-Z][A-Za-z0-9&-]*(?:\s+[A-Z][A-Za-z0-9&-]*){0,3}\s+(?:Inc\.?|Corp\.?|Corporation|LLC|Ltd\.?|GmbH|Co\.|Company|Holdings|Group))`),
		// Name adjacent to a corporate action verb.
		regexp.MustCompile(`([A-Z][A-Za-z0-9&-]+(?:\s+[A-Z][A-Za-z0-9&-]+){0,2})\s+(?:raised|acquired|partnered|filed|reported|hired)`),
	}

	productPatterns = []*regexp.Regexp{
		// Launch/announcement verbs followed by a capitalized product name.
		regexp.MustCompile(`(?:launched|unveiled|released|introduced|debuted|shipped)\s+(?:the\s+|its\s+|their\s+)?([A-Z][A-Za-z0-9]+(?:\s+[A-Z0-9][A-Za-z0-9.-]*){0,3})`),
		regexp.MustCompile(`(?:new|flagship|latest)\s+(?:product|device|platform|service)\s+([A-Z][A-Za-z0-9]+(?:\s+[A-Z0-9][A-Za-z0-9.-]*){0,3})`),
	}
)

// falsePositives are candidates the patterns keep matching that are never
// entities: calendar words and generic news phrasing.
var falsePositives = map[string]struct{}{
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {},
	"friday": {}, "saturday": {}, "sunday": {},
	"january": {}, "february": {}, "march": {}, "april": {}, "may": {},
	"june": {}, "july": {}, "august": {}, "september": {}, "october": {},
	"november": {}, "december": {},
	"today": {}, "yesterday": {}, "tomorrow": {},
	"last week": {}, "next week": {}, "this week": {},
	"last year": {}, "next year": {}, "this year": {},
	"the company": {}, "the group": {}, "press release": {},
	"breaking news": {}, "terms of service": {}, "privacy policy": {},
	"all rights reserved": {},
}

const disallowedPunct = "@#$%{}[]<>|\\/=+~^;:"

var (
	roleRe     = regexp.MustCompile(`CEO|CTO|CFO|COO|Chair(?:man|woman)?|President|Vice President|Director|Professor|[Cc]o-founder|[Ff]ounder|[Mm]anager|[Aa]nalyst|[Ee]ngineer`)
	orgRe      = regexp.MustCompile(`(?:at|of|from)\s+([A-Z][A-Za-z0-9&.-]*(?:\s+[A-Z][A-Za-z0-9&.-]*){0,3})`)
	priceRe    = regexp.MustCompile(`\$\d[\d,]*(?:\.\d+)?(?:\s?(?:million|billion|trillion)|[MBK])?`)
	whitespace = regexp.MustCompile(`\s+`)
)

// industryKeywords are scanned near company occurrences to tag a sector.
var industryKeywords = []string{
	"software", "fintech", "healthcare", "biotech", "pharmaceutical",
	"retail", "energy", "automotive", "aerospace", "semiconductor",
	"telecom", "media", "logistics", "insurance", "banking",
	"cybersecurity", "robotics", "agriculture", "manufacturing",
}

// attributeWindow bounds the proximity search for auxiliary attributes
// around an entity's first occurrence.
const attributeWindow = 150

// relationWindow bounds how far apart two person mentions may sit and still
// count as related.
const relationWindow = 200

// RegexExtractor is the heuristic entity extractor. It is a pure function
// over text: no network calls, deterministic output.
type RegexExtractor struct{}

// NewRegexExtractor creates the default heuristic extractor.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

// candidate tracks one confirmed entity during a scan.
type candidate struct {
	entity    Entity
	positions []int
}

// Extract scans text for people, companies, and products, returning entities
// sorted by descending mention count.
func (e *RegexExtractor) Extract(text string) []Entity {
	sentences := splitSentences(text)

	var order []string
	byKey := make(map[string]*candidate)

	scan := func(kind Kind, patterns []*regexp.Regexp) {
		for _, re := range patterns {
			for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
				start, end := m[2], m[3]
				name := normalizeName(text[start:end])
				if !validName(kind, name) {
					continue
				}

				key := string(kind) + "|" + strings.ToLower(name)
				c, exists := byKey[key]
				if !exists {
					c = &candidate{entity: Entity{
						Name:       name,
						Kind:       kind,
						Attributes: make(map[string]string),
					}}
					byKey[key] = c
					order = append(order, key)
				}
				c.entity.Mentions++
				c.positions = append(c.positions, start)
				if snippet := sentenceAt(sentences, start); snippet != "" {
					c.entity.ContextSnippets = appendDistinct(c.entity.ContextSnippets, snippet)
				}
			}
		}
	}

	scan(KindPerson, personPatterns)
	scan(KindCompany, companyPatterns)
	scan(KindProduct, productPatterns)

	for _, key := range order {
		c := byKey[key]
		deriveAttributes(text, c)
	}
	derivePersonRelationships(byKey, order)

	entities := make([]Entity, 0, len(order))
	for _, key := range order {
		entities = append(entities, byKey[key].entity)
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Mentions > entities[j].Mentions
	})
	return entities
}

// normalizeName collapses internal whitespace and trims stray edges.
func normalizeName(name string) string {
	name = whitespace.ReplaceAllString(name, " ")
	return strings.Trim(name, " ,.")
}

// validName rejects candidates that are too short, start with a digit, carry
// disallowed punctuation, or sit on the false-positive list. People
// additionally need at least two name tokens.
func validName(kind Kind, name string) bool {
	if len(name) < 3 {
		return false
	}
	if name[0] >= '0' && name[0] <= '9' {
		return false
	}
	if strings.ContainsAny(name, disallowedPunct) {
		return false
	}
	if _, bad := falsePositives[strings.ToLower(name)]; bad {
		return false
	}
	if kind == KindPerson && len(strings.Fields(name)) < 2 {
		return false
	}
	return true
}

// deriveAttributes runs the windowed proximity passes around the entity's
// first occurrence.
func deriveAttributes(text string, c *candidate) {
	if len(c.positions) == 0 {
		return
	}
	window := windowAround(text, c.positions[0], attributeWindow)

	switch c.entity.Kind {
	case KindPerson:
		if role := roleRe.FindString(window); role != "" {
			c.entity.Attributes["role"] = role
		}
		if m := orgRe.FindStringSubmatch(window); m != nil {
			if org := normalizeName(m[1]); org != "" && !strings.EqualFold(org, c.entity.Name) {
				c.entity.Attributes["organization"] = org
			}
		}
	case KindCompany:
		lower := strings.ToLower(window)
		for _, kw := range industryKeywords {
			if strings.Contains(lower, kw) {
				c.entity.Attributes["industry"] = kw
				break
			}
		}
	case KindProduct:
		if price := priceRe.FindString(window); price != "" {
			c.entity.Attributes["price"] = price
		}
	}

	if len(c.entity.Attributes) == 0 {
		c.entity.Attributes = nil
	}
}

// derivePersonRelationships records, for each person, any other confirmed
// person found within the relation window of any occurrence. The scans are
// independent per person, so the relation is symmetric without explicit
// mirroring.
func derivePersonRelationships(byKey map[string]*candidate, order []string) {
	var people []*candidate
	for _, key := range order {
		if byKey[key].entity.Kind == KindPerson {
			people = append(people, byKey[key])
		}
	}

	for _, a := range people {
		for _, b := range people {
			if a == b {
				continue
			}
			if near(a.positions, b.positions, relationWindow) {
				a.entity.Relationships = appendDistinct(a.entity.Relationships, b.entity.Name)
			}
		}
	}
}

func near(as, bs []int, window int) bool {
	for _, a := range as {
		for _, b := range bs {
			d := a - b
			if d < 0 {
				d = -d
			}
			if d <= window {
				return true
			}
		}
	}
	return false
}

func windowAround(text string, pos, radius int) string {
	start := pos - radius
	if start < 0 {
		start = 0
	}
	end := pos + radius
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

// sentenceSpan is one sentence together with the byte offset where its raw
// segment begins in the source text.
type sentenceSpan struct {
	start int
	text  string
}

// splitSentences naively splits on sentence-ending punctuation followed by
// whitespace. Good enough for context snippets.
func splitSentences(text string) []sentenceSpan {
	var sentences []sentenceSpan
	start := 0
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if (ch == '.' || ch == '!' || ch == '?') && (i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\n') {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				sentences = append(sentences, sentenceSpan{start: start, text: s})
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, sentenceSpan{start: start, text: s})
	}
	return sentences
}

// sentenceAt returns the sentence covering byte offset pos, so each match
// contributes the sentence it actually occurred in.
func sentenceAt(sentences []sentenceSpan, pos int) string {
	for i := len(sentences) - 1; i >= 0; i-- {
		if sentences[i].start <= pos {
			return sentences[i].text
		}
	}
	return ""
}

func appendDistinct(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
