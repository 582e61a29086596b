package orchestrator

import (
	"regexp"
	"strings"

	"github.com/sqlopt/engine/internal/model"
)

// parseResponse runs the layered response-parsing strategy (spec §4.5
// "Layered response parsing") over a CompletionService's raw text and
// returns the extracted SQL candidate plus the strategy that succeeded.
// One of the strategies always succeeds; the last (StrategyRawResponse)
// cannot fail.
func parseResponse(raw string) (string, model.ParsingStrategy) {
	if sql, ok := parseTaggedSection(raw); ok {
		return sql, model.StrategyTaggedSection
	}
	if sql, ok := parseFencedCodeBlock(raw); ok {
		return sql, model.StrategyFencedCodeBlock
	}
	if sql, ok := parseFirstSQLToken(raw); ok {
		return sql, model.StrategyFirstSQLToken
	}
	if sql, ok := parseKeywordDensity(raw); ok {
		return sql, model.StrategyKeywordDensity
	}
	if sql, ok := parseFullResponseValidated(raw); ok {
		return sql, model.StrategyFullResponse
	}
	if sql, ok := parseEmergencyRegex(raw); ok {
		return sql, model.StrategyEmergencyRegex
	}
	return raw, model.StrategyRawResponse
}

var (
	sqlTagPattern     = regexp.MustCompile(`(?is)<SQL>\s*(.*?)\s*</SQL>`)
	dashSectionPattern = regexp.MustCompile(`(?is)-{2,}\s*OPTIMIZED SQL\s*-{2,}\s*\n(.*?)(?:\n-{2,}|\z)`)
	fencedSQLPattern  = regexp.MustCompile("(?is)```(?:sql)?\\s*\\n(.*?)\\n```")
	sqlStartKeywords  = []string{"SELECT", "WITH", "INSERT", "UPDATE", "DELETE", "CREATE"}
)

// parseTaggedSection handles strategy 1: explicit tagged sections.
func parseTaggedSection(raw string) (string, bool) {
	if m := sqlTagPattern.FindStringSubmatch(raw); len(m) > 1 {
		return strings.TrimSpace(m[1]), true
	}
	if m := dashSectionPattern.FindStringSubmatch(raw); len(m) > 1 {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

// parseFencedCodeBlock handles strategy 2: a fenced code block, optionally
// hinted with "sql".
func parseFencedCodeBlock(raw string) (string, bool) {
	if m := fencedSQLPattern.FindStringSubmatch(raw); len(m) > 1 {
		candidate := strings.TrimSpace(m[1])
		if candidate != "" {
			return candidate, true
		}
	}
	return "", false
}

// parseFirstSQLToken handles strategy 3: the first block whose first
// non-comment token is a SQL start keyword.
func parseFirstSQLToken(raw string) (string, bool) {
	blocks := strings.Split(raw, "\n\n")
	for _, block := range blocks {
		trimmed := strings.TrimSpace(stripLeadingComments(block))
		if trimmed == "" {
			continue
		}
		if startsWithSQLKeyword(trimmed) {
			return trimmed, true
		}
	}
	return "", false
}

// parseKeywordDensity handles strategy 4: the longest contiguous span, at
// least two lines long, of lines that each contain an SQL keyword.
func parseKeywordDensity(raw string) (string, bool) {
	lines := strings.Split(raw, "\n")
	bestStart, bestEnd, bestLen := -1, -1, 0
	curStart := -1
	for i, line := range lines {
		if isSQLDominatedLine(line) {
			if curStart == -1 {
				curStart = i
			}
			if i-curStart+1 > bestLen {
				bestLen = i - curStart + 1
				bestStart, bestEnd = curStart, i
			}
		} else {
			curStart = -1
		}
	}
	if bestStart == -1 || bestLen < 2 {
		return "", false
	}
	candidate := strings.TrimSpace(strings.Join(lines[bestStart:bestEnd+1], "\n"))
	return candidate, candidate != ""
}

// parseFullResponseValidated handles strategy 5: strip prose and see if
// what remains is plausibly a single SQL statement.
func parseFullResponseValidated(raw string) (string, bool) {
	trimmed := strings.TrimSpace(stripLeadingComments(raw))
	if trimmed == "" {
		return "", false
	}
	if startsWithSQLKeyword(trimmed) && strings.Count(trimmed, "\n") < 40 {
		return trimmed, true
	}
	return "", false
}

var emergencyPattern = regexp.MustCompile(`(?is)\b(SELECT|WITH|INSERT|UPDATE|DELETE|CREATE)\b.*`)

// parseEmergencyRegex handles strategy 6: scan for any SQL-starting
// keyword and take the longest match to end of response.
func parseEmergencyRegex(raw string) (string, bool) {
	matches := emergencyPattern.FindAllString(raw, -1)
	if len(matches) == 0 {
		return "", false
	}
	longest := matches[0]
	for _, m := range matches[1:] {
		if len(m) > len(longest) {
			longest = m
		}
	}
	return strings.TrimSpace(longest), true
}

func stripLeadingComments(s string) string {
	lines := strings.Split(s, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "--") {
		i++
	}
	return strings.Join(lines[i:], "\n")
}

func startsWithSQLKeyword(s string) bool {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for _, kw := range sqlStartKeywords {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

func isSQLDominatedLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	upper := strings.ToUpper(trimmed)
	keywordHits := 0
	for _, kw := range append(append([]string{}, sqlStartKeywords...), "FROM", "WHERE", "JOIN", "GROUP", "ORDER", "HAVING", "AND", "OR", "ON") {
		if strings.Contains(upper, kw) {
			keywordHits++
		}
	}
	return keywordHits > 0
}
