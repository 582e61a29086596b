package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlopt/engine/internal/model"
)

func TestParseResponse_TaggedSection(t *testing.T) {
	sql, strategy := parseResponse("Sure thing.\n<SQL>SELECT id FROM users WHERE active = true</SQL>\nThis avoids a full scan.")
	assert.Equal(t, "SELECT id FROM users WHERE active = true", sql)
	assert.Equal(t, model.StrategyTaggedSection, strategy)
}

func TestParseResponse_DashSection(t *testing.T) {
	raw := "--- OPTIMIZED SQL ---\nSELECT id FROM users WHERE active = true\n---\nExplanation here."
	sql, strategy := parseResponse(raw)
	assert.Equal(t, "SELECT id FROM users WHERE active = true", sql)
	assert.Equal(t, model.StrategyTaggedSection, strategy)
}

func TestParseResponse_FencedCodeBlock(t *testing.T) {
	raw := "Here you go:\n```sql\nSELECT id FROM users WHERE active = true\n```\nThat should help."
	sql, strategy := parseResponse(raw)
	assert.Equal(t, "SELECT id FROM users WHERE active = true", sql)
	assert.Equal(t, model.StrategyFencedCodeBlock, strategy)
}

func TestParseResponse_FirstSQLToken(t *testing.T) {
	raw := "Some preface text without code fences.\n\nSELECT id FROM users WHERE active = true\n\nThat should help a lot with the scan."
	sql, strategy := parseResponse(raw)
	assert.Equal(t, "SELECT id FROM users WHERE active = true", sql)
	assert.Equal(t, model.StrategyFirstSQLToken, strategy)
}

func TestParseResponse_RawResponseFallbackNeverFails(t *testing.T) {
	raw := "I cannot assist further right now, apologies for the inconvenience."
	sql, strategy := parseResponse(raw)
	assert.Equal(t, raw, sql)
	assert.Equal(t, model.StrategyRawResponse, strategy)
}

func TestExtractRecommendations(t *testing.T) {
	raw := "<SQL>SELECT 1</SQL>\nExplanation.\n- Add an index on users(active)\n- Avoid SELECT *"
	recs := extractRecommendations(raw)
	assert.Equal(t, []string{"Add an index on users(active)", "Avoid SELECT *"}, recs)
}

func TestReferencedTables(t *testing.T) {
	tables := referencedTables("SELECT u.id FROM users u JOIN orders o ON o.user_id = u.id WHERE u.active = true")
	assert.ElementsMatch(t, []string{"users", "orders"}, tables)
}
