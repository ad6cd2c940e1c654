package pipeline

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

// fakeSinker records every SinkDML call it receives, safe for concurrent
// use by dispatchRoundRobin's errgroup fan-out.
type fakeSinker struct {
	mu      sync.Mutex
	batches [][]*types.RowData
	batched []bool
	err     error
}

var _ sinker.Sinker = (*fakeSinker)(nil)

func (f *fakeSinker) SinkDML(_ context.Context, batch []*types.RowData, batched bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	f.batched = append(f.batched, batched)
	return nil
}

func (f *fakeSinker) Close() error { return nil }

func (f *fakeSinker) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func insertRow(tb string) *types.RowData {
	return types.NewInsertRow("db", tb, map[string]types.ColValue{"id": types.NewInt64(1)}, "")
}

func TestSubBatchSize(t *testing.T) {
	assert.Equal(t, 25, subBatchSize(100, 10, 4))
	assert.Equal(t, 10, subBatchSize(10, 10, 100))
	assert.Equal(t, 1, subBatchSize(0, 0, 0))
}

func TestDispatchRoundRobinEmpty(t *testing.T) {
	next, err := dispatchRoundRobin(context.Background(), nil, nil, 10, 2, true, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, next)
}

func TestDispatchRoundRobinFansOutAndAdvancesCursor(t *testing.T) {
	s0, s1 := &fakeSinker{}, &fakeSinker{}
	sinkers := []sinker.Sinker{s0, s1}

	var rows []*types.RowData
	for i := 0; i < 6; i++ {
		rows = append(rows, insertRow("t"))
	}

	next, err := dispatchRoundRobin(context.Background(), sinkers, rows, 3, 3, true, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, next)
	assert.Equal(t, 6, s0.rowCount()+s1.rowCount())
}

func TestDispatchRoundRobinPropagatesError(t *testing.T) {
	boom := assert.AnError
	s0 := &fakeSinker{err: boom}
	rows := []*types.RowData{insertRow("t")}

	_, err := dispatchRoundRobin(context.Background(), []sinker.Sinker{s0}, rows, 10, 1, true, 0)
	assert.ErrorIs(t, err, boom)
}

func TestSinkUnmergedSeriallyBatchesContiguousRuns(t *testing.T) {
	s := &fakeSinker{}
	del := types.NewDeleteRow("db", "t", map[string]types.ColValue{"id": types.NewInt64(1)}, "")
	rows := []*types.RowData{insertRow("t"), insertRow("t"), del}

	err := sinkUnmergedSerially(context.Background(), s, rows)
	require.NoError(t, err)

	require.Len(t, s.batches, 2)
	assert.Len(t, s.batches[0], 2)
	assert.True(t, s.batched[0])
	assert.Len(t, s.batches[1], 1)
	assert.False(t, s.batched[1])
}
