package partitioner

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

func partCol(col string) *string { return &col }

func row(id, part int64) map[string]types.ColValue {
	return map[string]types.ColValue{"id": types.NewInt64(id), "part": types.NewInt64(part)}
}

// Safety property: Insert and Delete rows are always partitionable
// regardless of table metadata.
func TestCanBePartitionedAlwaysTrueForInsertAndDelete(t *testing.T) {
	tm := &meta.TbMeta{KeyMap: map[string][]string{"primary": {"id"}}, PartitionCol: partCol("part")}
	p := New(&fakeTbMetaLookup{tm: tm})

	ins := types.NewInsertRow("db", "t", row(1, 1), "p1")
	ok, err := p.CanBePartitioned(context.Background(), ins)
	require.NoError(t, err)
	assert.True(t, ok)

	del := types.NewDeleteRow("db", "t", row(1, 1), "p1")
	ok, err = p.CanBePartitioned(context.Background(), del)
	require.NoError(t, err)
	assert.True(t, ok)
}

// Safety property: an Update that changes any unique-key column is never
// partitionable, regardless of whether that key is the chosen identity key.
func TestCanBePartitionedFalseWhenAnyUniqueKeyColumnChanges(t *testing.T) {
	tm := &meta.TbMeta{
		KeyMap: map[string][]string{
			"primary": {"id"},
			"uq_part": {"part"},
		},
	}
	p := New(&fakeTbMetaLookup{tm: tm})
	u := types.NewUpdateRow("db", "t", row(1, 1), row(1, 2), "p1")
	ok, err := p.CanBePartitioned(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Safety property: an Update that changes the partition column (even when
// it isn't part of any unique key) is never partitionable.
func TestCanBePartitionedFalseWhenPartitionColumnChanges(t *testing.T) {
	tm := &meta.TbMeta{
		KeyMap:       map[string][]string{"primary": {"id"}},
		PartitionCol: partCol("part"),
	}
	p := New(&fakeTbMetaLookup{tm: tm})
	u := types.NewUpdateRow("db", "t", row(1, 1), row(1, 2), "p1")
	ok, err := p.CanBePartitioned(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, ok)
}

// An Update that only touches non-key, non-partition columns is partitionable.
func TestCanBePartitionedTrueWhenOnlyOtherColumnsChange(t *testing.T) {
	tm := &meta.TbMeta{
		KeyMap:       map[string][]string{"primary": {"id"}},
		PartitionCol: partCol("part"),
	}
	p := New(&fakeTbMetaLookup{tm: tm})
	before := row(1, 1)
	after := row(1, 1)
	after["extra"] = types.NewInt64(999)
	u := types.NewUpdateRow("db", "t", before, after, "p1")
	ok, err := p.CanBePartitioned(context.Background(), u)
	require.NoError(t, err)
	assert.True(t, ok)
}

// n<=1 always routes to partition 0.
func TestPartitionIndexDegeneratesToZeroForSingleSinker(t *testing.T) {
	tm := &meta.TbMeta{PartitionCol: partCol("part")}
	p := New(&fakeTbMetaLookup{tm: tm})
	idx, err := p.PartitionIndex(context.Background(), types.NewInsertRow("db", "t", row(1, 5), "p1"), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

// A missing partition column (or no PartitionCol declared) routes to 0.
func TestPartitionIndexZeroWhenNoPartitionColumn(t *testing.T) {
	tm := &meta.TbMeta{}
	p := New(&fakeTbMetaLookup{tm: tm})
	idx, err := p.PartitionIndex(context.Background(), types.NewInsertRow("db", "t", row(1, 5), "p1"), 4)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

// Safety property: PartitionIndex is a pure, deterministic function of the
// partition column's value — same value, same index, every call — which is
// what lets the parallelizer route without a shared coordination point.
func TestPartitionIndexIsDeterministic(t *testing.T) {
	tm := &meta.TbMeta{PartitionCol: partCol("part")}
	p := New(&fakeTbMetaLookup{tm: tm})
	r := types.NewInsertRow("db", "t", row(1, 42), "p1")

	first, err := p.PartitionIndex(context.Background(), r, 8)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := p.PartitionIndex(context.Background(), r, 8)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 8)
}
