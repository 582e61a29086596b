// Package normalize turns a raw captured SQL statement into the canonical
// form used for fingerprinting, pattern matching, and display: literals
// replaced with placeholders, whitespace collapsed, identifiers
// lower-cased, and repeated value lists collapsed to a single tuple.
package normalize

import (
	"regexp"
	"strings"
)

var (
	lineCommentPattern  = regexp.MustCompile(`--[^\n]*`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespacePattern   = regexp.MustCompile(`\s+`)

	singleQuotedString = regexp.MustCompile(`'(?:[^'\\]|\\.|'')*'`)
	doubleQuotedString = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
	numericLiteral     = regexp.MustCompile(`(?i)(?:\b|^)-?\d+(?:\.\d+)?\b`)

	// valueListPattern finds runs of two or more "(?, ?, ...)" tuples
	// separated by commas, the shape a bulk INSERT ... VALUES produces.
	valueListPattern = regexp.MustCompile(`(\([?,\s]*\?[?,\s]*\))(\s*,\s*\(\s*\?[?,\s]*\))+`)

	inListPattern = regexp.MustCompile(`(?i)\bIN\s*\(\s*\?(?:\s*,\s*\?)*\s*\)`)
)

// Normalize canonicalizes a raw SQL statement: comments are stripped,
// string and numeric literals are replaced with "?", whitespace collapses
// to single spaces, non-quoted identifiers are lower-cased, and repeated
// VALUES tuples or IN-list members collapse to one representative
// placeholder. Double-quoted spans are quoted identifiers (ANSI-SQL,
// Postgres, Oracle), not string literals; they pass through untouched,
// case included, so the detector and fingerprinter keep the real object
// name underneath a quoted identifier.
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(sql string) string {
	s := lineCommentPattern.ReplaceAllString(sql, "")
	s = blockCommentPattern.ReplaceAllString(s, "")

	s = normalizeOutsideQuotedIdentifiers(s)

	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	s = collapseValueLists(s)
	s = inListPattern.ReplaceAllString(s, "in (?)")

	return s
}

// normalizeOutsideQuotedIdentifiers applies literal substitution and
// lower-casing to every span of s that falls outside a double-quoted
// identifier, leaving each quoted span exactly as written.
func normalizeOutsideQuotedIdentifiers(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range doubleQuotedString.FindAllStringIndex(s, -1) {
		b.WriteString(normalizeLiteralsAndCase(s[last:loc[0]]))
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(normalizeLiteralsAndCase(s[last:]))
	return b.String()
}

func normalizeLiteralsAndCase(s string) string {
	s = singleQuotedString.ReplaceAllString(s, "?")
	s = numericLiteral.ReplaceAllString(s, "?")
	return strings.ToLower(s)
}

// collapseValueLists repeatedly folds "(?, ?), (?, ?), ..." down to a
// single representative tuple, so two bulk inserts differing only in row
// count normalize identically.
func collapseValueLists(s string) string {
	for {
		next := valueListPattern.ReplaceAllString(s, "$1")
		if next == s {
			return s
		}
		s = next
	}
}
