package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// Fingerprint derives a stable 16-hex-character identifier for a
// normalized query: two statements differing only in literal values
// produce the same fingerprint (spec §4.3). Fingerprint is a pure
// function of Normalize's output, so it is itself idempotent and
// order-independent across repeated calls with the same raw SQL.
func Fingerprint(sql string) string {
	n := Normalize(sql)
	sum := sha256.Sum256([]byte(n))
	return hex.EncodeToString(sum[:])[:16]
}

// identifierPattern matches either a double-quoted identifier (kept
// verbatim by Normalize, so still present with its original case) or a
// lower-cased bare identifier/dotted pair; both forms get collapsed to
// "id" below so two structurally identical queries share a signature
// whether or not their table/column names needed quoting.
var identifierPattern = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|[a-z_][a-z0-9_]*(?:\.[a-z_][a-z0-9_]*)?`)

var keywordSet = map[string]bool{
	"select": true, "from": true, "where": true, "and": true, "or": true,
	"join": true, "inner": true, "left": true, "right": true, "outer": true,
	"full": true, "on": true, "group": true, "by": true, "order": true,
	"having": true, "limit": true, "offset": true, "as": true, "distinct": true,
	"in": true, "is": true, "null": true, "not": true, "exists": true,
	"union": true, "all": true, "case": true, "when": true, "then": true,
	"else": true, "end": true, "asc": true, "desc": true, "with": true,
	"insert": true, "into": true, "values": true, "update": true, "set": true,
	"delete": true, "count": true, "sum": true, "avg": true, "min": true,
	"max": true, "over": true, "partition": true,
}

// PatternSignature strips table and column identifiers from a normalized
// query, keeping only SQL keywords, placeholders, and punctuation, so that
// structurally similar queries against different tables share a signature
// (spec §3 "OptimizationPattern", §4.7 pattern lookup).
func PatternSignature(sql string) string {
	n := Normalize(sql)
	return identifierPattern.ReplaceAllStringFunc(n, func(tok string) string {
		if keywordSet[tok] || tok == "?" {
			return tok
		}
		return "id"
	})
}
