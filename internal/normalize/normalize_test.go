package normalize_test

import (
	"testing"

	"github.com/sqlopt/engine/internal/normalize"
	"github.com/stretchr/testify/assert"
)

func TestNormalize_LiteralsReplaced(t *testing.T) {
	sql := `SELECT * FROM orders WHERE customer_id = 42 AND status = 'shipped'`
	got := normalize.Normalize(sql)
	assert.Equal(t, `select * from orders where customer_id = ? and status = ?`, got)
}

func TestNormalize_StripsComments(t *testing.T) {
	sql := "SELECT id -- pull the id\nFROM users /* active only */ WHERE active = 1"
	got := normalize.Normalize(sql)
	assert.NotContains(t, got, "pull the id")
	assert.NotContains(t, got, "active only")
}

func TestNormalize_CollapsesValueLists(t *testing.T) {
	two := normalize.Normalize("INSERT INTO t (a, b) VALUES (1, 2), (3, 4)")
	three := normalize.Normalize("INSERT INTO t (a, b) VALUES (1, 2), (3, 4), (5, 6)")
	assert.Equal(t, two, three)
}

func TestNormalize_CollapsesInLists(t *testing.T) {
	short := normalize.Normalize("SELECT * FROM t WHERE id IN (1, 2)")
	long := normalize.Normalize("SELECT * FROM t WHERE id IN (1, 2, 3, 4, 5)")
	assert.Equal(t, short, long)
}

func TestNormalize_PreservesQuotedIdentifiers(t *testing.T) {
	sql := `SELECT "Email" FROM "Users" WHERE "Email" = 'x'`
	got := normalize.Normalize(sql)
	assert.Equal(t, `select "Email" from "Users" where "Email" = ?`, got)
}

func TestNormalize_Idempotent(t *testing.T) {
	sql := `select  A.x , a.y from Foo a where a.z = 'v' and a.n in (1,2,3)`
	once := normalize.Normalize(sql)
	twice := normalize.Normalize(once)
	assert.Equal(t, once, twice)
}

func TestFingerprint_StableAcrossLiterals(t *testing.T) {
	a := normalize.Fingerprint("SELECT * FROM orders WHERE id = 1")
	b := normalize.Fingerprint("SELECT * FROM orders WHERE id = 999999")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestFingerprint_DiffersAcrossShape(t *testing.T) {
	a := normalize.Fingerprint("SELECT * FROM orders WHERE id = 1")
	b := normalize.Fingerprint("SELECT * FROM orders WHERE id = 1 AND status = 'x'")
	assert.NotEqual(t, a, b)
}

func TestPatternSignature_TableAgnostic(t *testing.T) {
	a := normalize.PatternSignature("SELECT * FROM orders WHERE customer_id = 1")
	b := normalize.PatternSignature("SELECT * FROM invoices WHERE client_id = 1")
	assert.Equal(t, a, b)
}
