package detector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/detector"
	"github.com/sqlopt/engine/internal/model"
)

func seqScanPlan(table string, estimated, actual float64) *model.Plan {
	return &model.Plan{
		Engine: model.EnginePG,
		Root: &model.PlanNode{
			OpType:   model.OpSeqScan,
			Relation: table,
			Rows:     model.RowEstimate{Estimated: estimated, Actual: actual},
		},
	}
}

func TestDetector_MissingIndex(t *testing.T) {
	cfg := config.Default().Detector
	d := detector.New(&cfg, logger.NewLogger("test"))

	in := &detector.Input{
		Engine:        model.EnginePG,
		SQL:           "SELECT * FROM orders WHERE customer_id = 1",
		NormalizedSQL: "select * from orders where customer_id = ?",
		Plan:          seqScanPlan("orders", 50000, 49000),
		TableRows:     map[string]int64{"orders": 500000},
	}

	result := d.Detect(in)
	require.NotEmpty(t, result.Issues)

	found := false
	for _, issue := range result.Issues {
		if issue.Type == model.IssueMissingIndex {
			found = true
		}
	}
	assert.True(t, found, "expected a MISSING_INDEX finding")
}

func TestDetector_MissingIndexFiresBelowLargeTableThreshold(t *testing.T) {
	cfg := config.Default().Detector
	d := detector.New(&cfg, logger.NewLogger("test"))

	in := &detector.Input{
		Engine:        model.EnginePG,
		SQL:           "SELECT * FROM users WHERE email = 'a@example.com'",
		NormalizedSQL: "select * from users where email = ?",
		Plan:          seqScanPlan("users", 15000, 14000),
		TableRows:     map[string]int64{"users": 50000},
	}

	result := d.Detect(in)

	var types []model.IssueType
	for _, issue := range result.Issues {
		types = append(types, issue.Type)
	}
	assert.Contains(t, types, model.IssueMissingIndex, "a 50,000-row table is below the large-table threshold but still above missing_index_row_threshold")
}

func TestDetector_OrderingIsStable(t *testing.T) {
	cfg := config.Default().Detector
	d := detector.New(&cfg, logger.NewLogger("test"))

	in := &detector.Input{
		Engine:        model.EnginePG,
		SQL:           "SELECT * FROM a WHERE 1=1 OR 1=1 OR 1=1 OR 1=1",
		NormalizedSQL: "select * from a where ? or ? or ? or ?",
		Plan:          seqScanPlan("a", 200000, 190000),
		TableRows:     map[string]int64{"a": 500000},
	}

	r1 := d.Detect(in)
	r2 := d.Detect(in)
	require.Equal(t, len(r1.Issues), len(r2.Issues))
	for i := range r1.Issues {
		assert.Equal(t, r1.Issues[i].Type, r2.Issues[i].Type)
		assert.Equal(t, r1.Issues[i].Title, r2.Issues[i].Title)
	}

	for i := 1; i < len(r1.Issues); i++ {
		assert.GreaterOrEqual(t, r1.Issues[i-1].Severity, r1.Issues[i].Severity)
	}
}

func TestDetector_NoPlanNoPanic(t *testing.T) {
	cfg := config.Default().Detector
	d := detector.New(&cfg, logger.NewLogger("test"))

	in := &detector.Input{
		Engine:        model.EnginePG,
		SQL:           "SELECT 1",
		NormalizedSQL: "select ?",
	}
	result := d.Detect(in)
	assert.NotNil(t, result)
}

func TestDetector_SuboptimalPatterns(t *testing.T) {
	cfg := config.Default().Detector
	d := detector.New(&cfg, logger.NewLogger("test"))

	in := &detector.Input{
		Engine:        model.EnginePG,
		SQL:           "SELECT * FROM a UNION SELECT * FROM b",
		NormalizedSQL: "select * from a union select * from b",
	}
	result := d.Detect(in)
	var types []model.IssueType
	for _, i := range result.Issues {
		types = append(types, i.Type)
	}
	assert.Contains(t, types, model.IssueSuboptimalPattern)
}

func TestDetector_SuboptimalPatterns_LeadingWildcardLike(t *testing.T) {
	cfg := config.Default().Detector
	d := detector.New(&cfg, logger.NewLogger("test"))

	in := &detector.Input{
		Engine:        model.EnginePG,
		SQL:           "SELECT * FROM customers WHERE name LIKE '%smith'",
		NormalizedSQL: "select * from customers where name like '%smith'",
	}
	result := d.Detect(in)
	assert.Contains(t, issueTypes(result), model.IssueSuboptimalPattern)
}

func TestDetector_SuboptimalPatterns_NotInSubquery(t *testing.T) {
	cfg := config.Default().Detector
	d := detector.New(&cfg, logger.NewLogger("test"))

	in := &detector.Input{
		Engine:        model.EnginePG,
		SQL:           "SELECT * FROM orders WHERE customer_id NOT IN (SELECT id FROM banned_customers)",
		NormalizedSQL: "select * from orders where customer_id not in (select id from banned_customers)",
	}
	result := d.Detect(in)
	assert.Contains(t, issueTypes(result), model.IssueSuboptimalPattern)
}

func TestDetector_SuboptimalPatterns_ScalarSubqueryInSelect(t *testing.T) {
	cfg := config.Default().Detector
	d := detector.New(&cfg, logger.NewLogger("test"))

	in := &detector.Input{
		Engine: model.EnginePG,
		SQL:    "SELECT id, (SELECT count(*) FROM orders o WHERE o.customer_id = c.id) FROM customers c",
		NormalizedSQL: "select id, (select count(*) from orders o where o.customer_id = c.id) from customers c",
	}
	result := d.Detect(in)
	assert.Contains(t, issueTypes(result), model.IssueSuboptimalPattern)
}

func issueTypes(r *model.DetectionResult) []model.IssueType {
	var types []model.IssueType
	for _, i := range r.Issues {
		types = append(types, i.Type)
	}
	return types
}
