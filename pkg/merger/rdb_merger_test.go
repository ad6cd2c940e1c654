package merger

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/flowgate/dts/pkg/meta"
	"github.com/flowgate/dts/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

type fakeTbMetaLookup struct {
	tm *meta.TbMeta
}

func (f *fakeTbMetaLookup) GetTbMeta(_ context.Context, _, _ string) (*meta.TbMeta, error) {
	return f.tm, nil
}

func keyedTbMeta() *meta.TbMeta {
	return &meta.TbMeta{
		Schema: "db", Tb: "t",
		Cols:   []string{"id", "v"},
		IDCols: []string{"id"},
		KeyMap: map[string][]string{"primary": {"id"}},
	}
}

func keylessTbMeta() *meta.TbMeta {
	return &meta.TbMeta{
		Schema: "db", Tb: "t",
		Cols: []string{"id", "v"},
	}
}

func row(id int64, v int64) map[string]types.ColValue {
	return map[string]types.ColValue{"id": types.NewInt64(id), "v": types.NewInt64(v)}
}

// Scenario D: delete then insert of the exact same key merges cleanly into a
// single delete+insert pair rather than degrading to unmerged.
func TestMergeDeleteThenInsertSameKeyMerges(t *testing.T) {
	m := New(&fakeTbMetaLookup{tm: keyedTbMeta()})
	rows := []*types.RowData{
		types.NewDeleteRow("db", "t", row(1, 10), "p1"),
		types.NewInsertRow("db", "t", row(1, 11), "p2"),
	}
	out, err := m.Merge(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].UnmergedRows)
	assert.Len(t, out[0].DeleteRows, 1)
	assert.Len(t, out[0].InsertRows, 1)
}

// An Insert followed by a Delete of the same key keeps only the Delete: the
// pending insert is dropped and the delete is still recorded, in case the
// row already exists at the destination.
func TestMergeInsertThenDeleteSameKeyKeepsOnlyDelete(t *testing.T) {
	m := New(&fakeTbMetaLookup{tm: keyedTbMeta()})
	rows := []*types.RowData{
		types.NewInsertRow("db", "t", row(1, 10), "p1"),
		types.NewDeleteRow("db", "t", row(1, 10), "p2"),
	}
	out, err := m.Merge(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].UnmergedRows)
	assert.Len(t, out[0].DeleteRows, 1)
	assert.Empty(t, out[0].InsertRows)
}

// Safety property (white-box, since a real 64-bit hash collision can't be
// forced through column values): collides() must report true whenever a
// bucket already holds a row at the same hash whose identity values differ,
// and false when the identity is the same (Scenario D).
func TestCollidesDetectsDifferentIdentityAtSameHash(t *testing.T) {
	tm := keyedTbMeta()
	buf := map[uint64]*types.RowData{
		7: types.NewInsertRow("db", "t", row(1, 10), "p1"),
	}
	differentIdentity := types.NewInsertRow("db", "t", row(2, 10), "p2")
	assert.True(t, collides(buf, tm, differentIdentity, 7))

	sameIdentity := types.NewInsertRow("db", "t", row(1, 99), "p3")
	assert.False(t, collides(buf, tm, sameIdentity, 7))

	assert.False(t, collides(buf, tm, differentIdentity, 8))
}

// Safety property: two rows with the exact same id_cols values must always
// hash identically, so they can be recognized as a Scenario D merge rather
// than a collision.
func TestHashCodeIsStableForIdenticalIdentity(t *testing.T) {
	tm := keyedTbMeta()
	a := types.NewInsertRow("db", "t", row(1, 10), "p1")
	b := types.NewDeleteRow("db", "t", row(1, 999), "p2")
	assert.Equal(t, hashCode(a, tm), hashCode(b, tm))
	assert.NotZero(t, hashCode(a, tm))
}

// An Update that changes an id_cols value is ambiguous to merge (the spec's
// resolved Open Question): it must always degrade to unmerged, never a
// silent delete+insert replace.
func TestMergeUpdateWithIDColChangeIsUnmerged(t *testing.T) {
	m := New(&fakeTbMetaLookup{tm: keyedTbMeta()})
	u := types.NewUpdateRow("db", "t", row(1, 10), row(2, 10), "p1")
	out, err := m.Merge(context.Background(), []*types.RowData{u})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].UnmergedRows, 1)
	assert.Empty(t, out[0].InsertRows)
	assert.Empty(t, out[0].DeleteRows)
}

// A plain Update (no id_cols change) merges into a delete of Before plus an
// insert of After.
func TestMergeUpdateWithoutIDColChangeSplitsIntoDeleteInsert(t *testing.T) {
	m := New(&fakeTbMetaLookup{tm: keyedTbMeta()})
	u := types.NewUpdateRow("db", "t", row(1, 10), row(1, 20), "p1")
	out, err := m.Merge(context.Background(), []*types.RowData{u})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].UnmergedRows)
	assert.Len(t, out[0].DeleteRows, 1)
	assert.Len(t, out[0].InsertRows, 1)
}

// Safety property: a table with no key_map (hash 0, the "not mergeable"
// sentinel) must always degrade every row to unmerged.
func TestMergeKeylessTableIsAlwaysUnmerged(t *testing.T) {
	m := New(&fakeTbMetaLookup{tm: keylessTbMeta()})
	rows := []*types.RowData{
		types.NewInsertRow("db", "t", row(1, 10), "p1"),
		types.NewDeleteRow("db", "t", row(1, 10), "p2"),
	}
	out, err := m.Merge(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Len(t, out[0].UnmergedRows, 2)
}

// Once a table degrades to unmerged, every subsequent row for that table
// stays serial even if it would otherwise merge cleanly.
func TestMergeStaysUnmergedOnceDegraded(t *testing.T) {
	m := New(&fakeTbMetaLookup{tm: keyedTbMeta()})
	rows := []*types.RowData{
		types.NewUpdateRow("db", "t", row(1, 10), row(2, 10), "p1"), // degrades
		types.NewInsertRow("db", "t", row(3, 30), "p2"),
	}
	out, err := m.Merge(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Len(t, out[0].UnmergedRows, 2)
	assert.Empty(t, out[0].InsertRows)
}

// Rows for different tables are bucketed independently, in first-seen order.
func TestMergeBucketsByFullTableNameInArrivalOrder(t *testing.T) {
	m := New(&fakeTbMetaLookup{tm: keyedTbMeta()})
	rows := []*types.RowData{
		types.NewInsertRow("db", "b", row(1, 1), "p1"),
		types.NewInsertRow("db", "a", row(1, 1), "p2"),
	}
	out, err := m.Merge(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "db.b", out[0].Tb)
	assert.Equal(t, "db.a", out[1].Tb)
}
