package orchestrator

import (
	"regexp"
	"strings"
)

var (
	explanationSectionPattern = regexp.MustCompile(`(?is)</SQL>\s*(.*?)(?:\n\s*[-*]\s|\z)`)
	recommendationLinePattern = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+)$`)
)

// extractExplanation pulls the prose explanation that follows a tagged SQL
// section. It returns "" when there is no tagged section or no prose
// follows it.
func extractExplanation(raw string) string {
	if m := explanationSectionPattern.FindStringSubmatch(raw); len(m) > 1 {
		if text := strings.TrimSpace(m[1]); text != "" {
			return text
		}
	}
	return ""
}

// extractRecommendations pulls an ordered list of bulleted recommendation
// lines from the response (spec §3 "general recommendations").
func extractRecommendations(raw string) []string {
	matches := recommendationLinePattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}
