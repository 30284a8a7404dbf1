package search

import (
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order when the published field looks like an
// absolute date rather than a relative age.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// ageInDays parses a published-at value into an age in days. Providers
// return either relative ages ("3 days ago", "2 weeks ago") or absolute
// dates. Unparsable input returns -1 and earns no recency bonus.
func ageInDays(published string) int {
	s := strings.ToLower(strings.TrimSpace(published))
	if s == "" {
		return -1
	}

	switch s {
	case "today", "just now":
		return 0
	case "yesterday":
		return 1
	}

	if days, ok := parseRelativeAge(s); ok {
		return days
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, published); err == nil {
			days := int(time.Since(t).Hours() / 24)
			if days < 0 {
				days = 0
			}
			return days
		}
	}
	return -1
}

// parseRelativeAge handles "<n> <unit>[s] ago" and "an hour ago" forms.
func parseRelativeAge(s string) (int, bool) {
	s = strings.TrimSuffix(s, " ago")
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, false
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil {
		if fields[0] == "a" || fields[0] == "an" {
			n = 1
		} else {
			return 0, false
		}
	}

	unit := strings.TrimSuffix(fields[1], "s")
	switch unit {
	case "second", "minute", "hour":
		return 0, true
	case "day":
		return n, true
	case "week":
		return n * 7, true
	case "month":
		return n * 30, true
	case "year":
		return n * 365, true
	}
	return 0, false
}
