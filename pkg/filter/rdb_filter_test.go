package filter

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/flowgate/dts/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

var backtick = []EscapePair{{Left: '`', Right: '`'}}

// Idempotence: calling FilterTb twice with the same arguments on the same
// Filter returns the same result (the filter holds no mutable state that a
// query could perturb).
func TestFilterTbIsIdempotent(t *testing.T) {
	f := New("", "", "db.t1,db.t2", "", "", backtick)
	first := f.FilterTb("db", "t1")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, f.FilterTb("db", "t1"))
	}
}

// Precedence: an explicit ignore match beats a do match (spec.md section 4.4).
func TestFilterDBIgnoreBeatsDo(t *testing.T) {
	f := New("db1,db2", "db1", "", "", "", backtick)
	assert.True(t, f.FilterDB("db1"))
	assert.False(t, f.FilterDB("db2"))
}

// An empty do_dbs list means "allow all" unless ignored.
func TestFilterDBAllowsAllWhenDoListEmpty(t *testing.T) {
	f := New("", "db1", "", "", "", backtick)
	assert.False(t, f.FilterDB("anything"))
	assert.True(t, f.FilterDB("db1"))
}

// A non-empty do_dbs list excludes anything not matched.
func TestFilterDBExcludesUnlistedWhenDoListNonEmpty(t *testing.T) {
	f := New("db1", "", "", "", "", backtick)
	assert.False(t, f.FilterDB("db1"))
	assert.True(t, f.FilterDB("db2"))
}

// FilterTb inherits FilterDB's decision in addition to its own table-level
// patterns.
func TestFilterTbInheritsDBFilter(t *testing.T) {
	f := New("", "db1", "", "", "", backtick)
	assert.True(t, f.FilterTb("db1", "anytable"))
}

func TestFilterTbIgnoreBeatsDo(t *testing.T) {
	f := New("", "", "db.*", "db.secret", "", backtick)
	assert.True(t, f.FilterTb("db", "secret"))
	assert.False(t, f.FilterTb("db", "public"))
}

// FilterEvent only applies its allow-list once the table itself passes.
func TestFilterEventRespectsDoEventsAllowList(t *testing.T) {
	f := New("", "", "", "", "insert,delete", backtick)
	assert.False(t, f.FilterEvent("db", "t", types.RowInsert))
	assert.True(t, f.FilterEvent("db", "t", types.RowUpdate))
	assert.False(t, f.FilterEvent("db", "t", types.RowDelete))
}

// An empty do_events means no event-level filtering at all.
func TestFilterEventAllowsAllWhenEmpty(t *testing.T) {
	f := New("", "", "", "", "", backtick)
	assert.False(t, f.FilterEvent("db", "t", types.RowInsert))
	assert.False(t, f.FilterEvent("db", "t", types.RowUpdate))
	assert.False(t, f.FilterEvent("db", "t", types.RowDelete))
}

// A table excluded at the table level is also excluded at the event level,
// regardless of do_events.
func TestFilterEventInheritsTableFilter(t *testing.T) {
	f := New("", "", "", "db.t", "insert", backtick)
	assert.True(t, f.FilterEvent("db", "t", types.RowInsert))
}

func TestGlobMatchesWildcards(t *testing.T) {
	assert.True(t, Glob("*", "anything"))
	assert.True(t, Glob("db_*", "db_prod"))
	assert.False(t, Glob("db_*", "other"))
	assert.True(t, Glob("t?", "t1"))
	assert.False(t, Glob("t?", "t12"))
	assert.True(t, Glob("exact", "exact"))
	assert.False(t, Glob("exact", "exacter"))
}

// Idempotence: Glob is a pure function, so repeated calls with the same
// inputs always agree.
func TestGlobIsIdempotent(t *testing.T) {
	first := Glob("db_*", "db_prod")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Glob("db_*", "db_prod"))
	}
}

func TestUnquoteStripsMatchingEscapePair(t *testing.T) {
	assert.Equal(t, "db", Unquote("`db`", backtick))
	assert.Equal(t, "db", Unquote("db", backtick))
	assert.Equal(t, "x", Unquote("x", backtick))
}

func TestTokenizePreservesDelimitersInsideEscapePair(t *testing.T) {
	tokens := Tokenize("`a,b`,c", []rune{','}, backtick)
	assert.Equal(t, []string{"`a,b`", "c"}, tokens)
}
