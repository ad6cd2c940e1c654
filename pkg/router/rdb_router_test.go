package router

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/flowgate/dts/pkg/filter"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

var backtick = []filter.EscapePair{{Left: '`', Right: '`'}}

// Identity: with no db_map/tb_map configured, every (db, tb) routes to
// itself.
func TestGetRouteIsIdentityWhenUnconfigured(t *testing.T) {
	r := New("", "", backtick)
	db, tb := r.GetRoute("db", "t")
	assert.Equal(t, "db", db)
	assert.Equal(t, "t", tb)
}

// tb_map takes precedence over db_map for a matching (db, tb).
func TestGetRouteTbMapBeatsDBMap(t *testing.T) {
	r := New("db:otherdb", "db.t:db2.t2", backtick)
	db, tb := r.GetRoute("db", "t")
	assert.Equal(t, "db2", db)
	assert.Equal(t, "t2", tb)
}

// db_map applies when no tb_map entry matches.
func TestGetRouteFallsBackToDBMap(t *testing.T) {
	r := New("db:otherdb", "db.t:db2.t2", backtick)
	db, tb := r.GetRoute("db", "other_table")
	assert.Equal(t, "otherdb", db)
	assert.Equal(t, "other_table", tb)
}

// A (db, tb) matching neither map routes to itself.
func TestGetRouteIdentityWhenNoMapMatches(t *testing.T) {
	r := New("unrelated:x", "unrelated.t:y.t", backtick)
	db, tb := r.GetRoute("db", "t")
	assert.Equal(t, "db", db)
	assert.Equal(t, "t", tb)
}

// Identity/determinism property: GetRoute is a pure function of (db, tb) —
// repeated calls (through the memoization cache) always agree.
func TestGetRouteIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	r := New("db:otherdb", "db.t:db2.t2", backtick)
	first, firstTb := r.GetRoute("db", "t")
	for i := 0; i < 5; i++ {
		db, tb := r.GetRoute("db", "t")
		assert.Equal(t, first, db)
		assert.Equal(t, firstTb, tb)
	}
}

func TestGetRouteHandlesQuotedIdentifiers(t *testing.T) {
	r := New("", "`db`.`t`:`db2`.`t2`", backtick)
	db, tb := r.GetRoute("db", "t")
	assert.Equal(t, "db2", db)
	assert.Equal(t, "t2", tb)
}
