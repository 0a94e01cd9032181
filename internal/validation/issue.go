// Package validation drives the per-component skeleton -> implement ->
// validate -> fix cycle, including same-issue detection and the
// fix-strategy vote triggered when an issue survives repeated fix attempts.
package validation

import (
	"regexp"
	"strings"
)

// Severity classifies a reviewer finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Issue is a single reviewer finding against a component.
type Issue struct {
	Severity      Severity `json:"severity"`
	File          string   `json:"file"`
	Line          int      `json:"line"`
	Description   string   `json:"description"`
	Evidence      string   `json:"evidence,omitempty"`
	SuggestedFix  string   `json:"suggested_fix,omitempty"`
	Category      string   `json:"category,omitempty"`
}

var lineNumberPattern = regexp.MustCompile(`\b\d+\b`)

// normalizedDescription lowercases the description and strips any embedded
// line numbers, so "fails on line 42" and "fails on line 57" compare equal.
func normalizedDescription(desc string) string {
	lowered := strings.ToLower(desc)
	return strings.TrimSpace(lineNumberPattern.ReplaceAllString(lowered, ""))
}

// identityKey is the (category, file, normalized-description) triple that
// defines issue sameness.
func identityKey(i Issue) string {
	return i.Category + "\x00" + i.File + "\x00" + normalizedDescription(i.Description)
}

// SameIssue reports whether two issues are "the same" per spec: identical
// category, file, and normalized description. Reflexive and symmetric by
// construction (both sides run through the same key function), and invariant
// under line-number-only changes in description.
func SameIssue(a, b Issue) bool {
	return identityKey(a) == identityKey(b)
}

// Dedup merges issue sets from parallel validators, keeping the first
// occurrence of each distinct (category, file, normalized-description) key
// and preserving encounter order.
func Dedup(issueSets ...[]Issue) []Issue {
	seen := make(map[string]struct{})
	var out []Issue
	for _, issues := range issueSets {
		for _, issue := range issues {
			key := identityKey(issue)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, issue)
		}
	}
	return out
}

// SurvivesStreak reports whether any issue in `current` also appears, under
// SameIssue, in each of the immediately preceding `threshold-1` attempts -
// i.e. it has now survived `threshold` consecutive attempts including the
// current one. history is ordered oldest-first and must not include
// `current`.
func SurvivesStreak(history [][]Issue, current []Issue, threshold int) (Issue, bool) {
	if threshold <= 1 {
		if len(current) > 0 {
			return current[0], true
		}
		return Issue{}, false
	}
	needed := threshold - 1
	if len(history) < needed {
		return Issue{}, false
	}
	window := history[len(history)-needed:]
	for _, issue := range current {
		survivedAll := true
		for _, priorSet := range window {
			if !containsSame(priorSet, issue) {
				survivedAll = false
				break
			}
		}
		if survivedAll {
			return issue, true
		}
	}
	return Issue{}, false
}

func containsSame(set []Issue, target Issue) bool {
	for _, i := range set {
		if SameIssue(i, target) {
			return true
		}
	}
	return false
}
