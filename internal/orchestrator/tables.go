package orchestrator

import "regexp"

var tableRefPattern = regexp.MustCompile(`(?i)\b(?:from|join|into|update)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)

// referencedTables returns the distinct table names syntactically
// referenced by sql (spec §4.5 step 1: "tables syntactically referenced in
// the SQL"). This is a lightweight lexical scan, not a real SQL parser —
// matching the spec's Non-goal of "no SQL parser beyond
// fingerprinting/classification".
func referencedTables(sql string) []string {
	matches := tableRefPattern.FindAllStringSubmatch(sql, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
