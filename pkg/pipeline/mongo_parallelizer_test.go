package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

func mongoDoc(t *testing.T, id string) types.ColValue {
	t.Helper()
	raw, err := bson.Marshal(bson.D{{Key: "_id", Value: id}, {Key: "v", Value: 1}})
	require.NoError(t, err)
	return types.NewMongoDoc(bson.Raw(raw))
}

func mongoInsertRow(t *testing.T, tb, id string) *types.RowData {
	return types.NewInsertRow("db", tb, map[string]types.ColValue{mongoDocColumn: mongoDoc(t, id)}, "")
}

func mongoDeleteRow(t *testing.T, tb, id string) *types.RowData {
	return types.NewDeleteRow("db", tb, map[string]types.ColValue{mongoDocColumn: mongoDoc(t, id)}, "")
}

func TestPartitionByTable(t *testing.T) {
	rows := []*types.RowData{
		mongoInsertRow(t, "a", "1"),
		mongoInsertRow(t, "b", "1"),
		mongoInsertRow(t, "a", "2"),
	}
	groups := partitionByTable(rows)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 1)
}

func TestMongoMergeDMLInsertThenDelete(t *testing.T) {
	rows := []*types.RowData{
		mongoInsertRow(t, "a", "1"),
		mongoDeleteRow(t, "a", "1"),
	}
	inserts, deletes, unmerged := mongoMergeDML(rows)
	assert.Empty(t, inserts)
	assert.Len(t, deletes, 1)
	assert.Empty(t, unmerged)
}

func TestMongoMergeDMLUpdateSplitsIntoDeleteAndInsert(t *testing.T) {
	before := map[string]types.ColValue{mongoDocColumn: mongoDoc(t, "1")}
	after := map[string]types.ColValue{mongoDocColumn: mongoDoc(t, "1")}
	row := types.NewUpdateRow("db", "a", before, after, "")

	inserts, deletes, unmerged := mongoMergeDML([]*types.RowData{row})
	assert.Len(t, inserts, 1)
	assert.Len(t, deletes, 1)
	assert.Empty(t, unmerged)
}

func TestMongoMergeDMLFallsThroughToUnmergedWhenIDMissing(t *testing.T) {
	noID := types.NewInsertRow("db", "a", map[string]types.ColValue{"x": types.NewInt64(1)}, "")
	ok := mongoInsertRow(t, "a", "2")

	inserts, deletes, unmerged := mongoMergeDML([]*types.RowData{noID, ok})
	assert.Empty(t, inserts)
	assert.Empty(t, deletes)
	require.Len(t, unmerged, 2)
	assert.Same(t, noID, unmerged[0])
}

func TestMongoParallelizerSinkDML(t *testing.T) {
	s := &fakeSinker{}
	p := NewMongoParallelizer(10, 1)
	assert.Equal(t, "mongo", p.Name())

	rows := []*types.RowData{mongoInsertRow(t, "a", "1"), mongoDeleteRow(t, "b", "2")}
	err := p.SinkDML(t.Context(), []sinker.Sinker{s}, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, s.rowCount())
	assert.NoError(t, p.Close())
}
