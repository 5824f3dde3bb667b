package carrier

import (
	"strings"
	"time"
)

// statusRule maps a set of keyword substrings to a canonical status.
type statusRule struct {
	keywords []string
	status   Status
}

// ruleTable is an ordered, declarative keyword classifier. Rules are
// evaluated top to bottom against the lower-cased text; the first rule whose
// keywords match wins, so narrow phrases must precede broad ones.
type ruleTable []statusRule

// match classifies free-form carrier text. The boolean reports whether any
// rule matched; callers pick their own fallback when none did.
func (t ruleTable) match(text string) (Status, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return StatusUnknown, false
	}
	for _, rule := range t {
		for _, keyword := range rule.keywords {
			if strings.Contains(normalized, keyword) {
				return rule.status, true
			}
		}
	}
	return StatusUnknown, false
}

// parseISOTimestamp accepts the timestamp layouts observed across carrier
// APIs (full RFC3339, zone-less, date-only).
func parseISOTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func containsAny(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
