package validation

import "github.com/conduct-run/orchestrator/internal/schemas"

// ParseIssues extracts the "issues" field a validator agent's payload
// declares, tolerating absent or partially-typed entries rather than
// rejecting the whole response - schema validation already guaranteed the
// fields required at the top level.
func ParseIssues(p schemas.Payload) []Issue {
	raw, ok := p["issues"].([]any)
	if !ok {
		return nil
	}
	out := make([]Issue, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		line := 0
		if v, ok := m["line"].(float64); ok {
			line = int(v)
		}
		out = append(out, Issue{
			Severity:     Severity(stringOf(m, "severity")),
			File:         stringOf(m, "file"),
			Line:         line,
			Description:  stringOf(m, "description"),
			Evidence:     stringOf(m, "evidence"),
			SuggestedFix: stringOf(m, "suggested_fix"),
			Category:     stringOf(m, "category"),
		})
	}
	return out
}

func stringOf(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
