package types

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

// Round-trip: constructing a ColValue and reading it back through the
// matching accessor returns the original value, for each variant below.
func TestColValueRoundTrips(t *testing.T) {
	i, ok := NewInt64(-42).Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(-42), i)

	u, ok := NewUint64(42).Uint64()
	assert.True(t, ok)
	assert.Equal(t, uint64(42), u)

	f, ok := NewDouble(3.5).Float64()
	assert.True(t, ok)
	assert.Equal(t, 3.5, f)

	b, ok := NewBool(true).Bool()
	assert.True(t, ok)
	assert.True(t, b)

	assert.Equal(t, "hello", NewString("hello").ToString())
	assert.Equal(t, "2024-01-01", NewDate("2024-01-01").ToString())

	raw, ok := NewBlob([]byte{0x01, 0x02}).Bytes()
	assert.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02}, raw)

	doc, ok := NewMongoDoc(map[string]any{"a": 1}).Doc()
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1}, doc)
}

// None is the sentinel: IsNone is true, it hashes to 0, renders as "", and
// its Native() bind value is nil.
func TestNoneIsDistinguishedSentinel(t *testing.T) {
	n := None()
	assert.True(t, n.IsNone())
	assert.False(t, n.IsUnchangedToast())
	assert.Equal(t, uint64(0), n.HashCode())
	assert.Equal(t, "", n.ToString())
	assert.Nil(t, n.Native())
}

// UnchangedToast must never collapse into None: a PostgreSQL sinker needs to
// tell "real NULL" ('n') apart from "untouched TOASTed column" ('u') so it
// can omit the column from an UPDATE's SET clause instead of nulling it.
func TestUnchangedToastIsDistinctFromNone(t *testing.T) {
	ut := UnchangedToast()
	assert.True(t, ut.IsUnchangedToast())
	assert.False(t, ut.IsNone())
	assert.NotEqual(t, KindNone, ut.Kind)
	assert.Equal(t, KindUnchangedToast, ut.Kind)

	n := None()
	assert.False(t, n.Equal(ut))
	assert.False(t, ut.Equal(n))
}

// Native() never fabricates a bind value for UnchangedToast: a caller that
// forgets to special-case it (rather than skipping the column outright)
// still binds nil, never a wrong non-NULL value.
func TestUnchangedToastNativeIsNil(t *testing.T) {
	assert.Nil(t, UnchangedToast().Native())
	assert.Equal(t, "", UnchangedToast().ToString())
}

// Equal treats a Kind mismatch as "changed" conservatively, and agrees with
// itself reflexively for every variant exercised here.
func TestEqualIsReflexiveAndKindSensitive(t *testing.T) {
	assert.True(t, NewInt64(1).Equal(NewInt64(1)))
	assert.False(t, NewInt64(1).Equal(NewInt64(2)))
	assert.False(t, NewInt64(1).Equal(NewUint64(1)))
	assert.True(t, None().Equal(None()))
}

// HashCode is a pure, deterministic function: equal values hash equally and
// None always hashes to the "not mergeable" sentinel 0 even though a real
// string value could theoretically hash to 0 too (fnv collision is fine,
// the merger treats any 0 as unmergeable).
func TestHashCodeIsDeterministic(t *testing.T) {
	a := NewString("same")
	b := NewString("same")
	assert.Equal(t, a.HashCode(), b.HashCode())
	assert.NotEqual(t, a.HashCode(), NewString("different").HashCode())
}

func TestMallocSizeReflectsPayloadWeight(t *testing.T) {
	assert.Equal(t, 0, None().MallocSize())
	assert.Equal(t, 0, UnchangedToast().MallocSize())
	assert.Equal(t, 3, NewBlob([]byte{1, 2, 3}).MallocSize())
	assert.Equal(t, len("hello"), NewString("hello").MallocSize())
}
