package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgate/dts/pkg/buffer"
	"github.com/flowgate/dts/pkg/router"
	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(noopWriter{})
	return logrus.NewEntry(l)
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDrainDMLStopsAtKindBoundary(t *testing.T) {
	buf := buffer.New(100)
	ctx := context.Background()
	require.NoError(t, buf.Push(ctx, types.NewDmlData(insertRow("t"))))
	require.NoError(t, buf.Push(ctx, types.NewDdlData(&types.DdlData{Schema: "db", Tb: "t", Query: "ALTER TABLE t ADD x INT"})))

	p := &Pipeline{buffer: buf, batchSize: 100, batchSinkInterval: time.Second}
	rows, _, err := p.drainDML(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	require.NotNil(t, p.pending)
	assert.Equal(t, types.DtDdl, p.pending.Kind)
}

func TestDrainDMLFoldsCommitPositionWithoutEndingBatch(t *testing.T) {
	buf := buffer.New(100)
	ctx := context.Background()
	require.NoError(t, buf.Push(ctx, types.NewDmlData(insertRow("t"))))
	require.NoError(t, buf.Push(ctx, types.NewCommitData(1, "pos-1")))
	require.NoError(t, buf.Push(ctx, types.NewDmlData(insertRow("t"))))

	p := &Pipeline{buffer: buf, batchSize: 100, batchSinkInterval: time.Second}
	rows, commitPosition, err := p.drainDML(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "pos-1", commitPosition)
}

func TestDrainDMLRespectsBatchSize(t *testing.T) {
	buf := buffer.New(100)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, buf.Push(ctx, types.NewDmlData(insertRow("t"))))
	}
	p := &Pipeline{buffer: buf, batchSize: 3, batchSinkInterval: time.Second}
	rows, _, err := p.drainDML(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestDrainDMLStopsOnNonPartitionableUpdate(t *testing.T) {
	buf := buffer.New(100)
	ctx := context.Background()
	require.NoError(t, buf.Push(ctx, types.NewDmlData(insertRow("t"))))
	before := map[string]types.ColValue{"id": types.NewInt64(1)}
	after := map[string]types.ColValue{"id": types.NewInt64(2)}
	require.NoError(t, buf.Push(ctx, types.NewDmlData(types.NewUpdateRow("db", "t", before, after, ""))))
	require.NoError(t, buf.Push(ctx, types.NewDmlData(insertRow("t"))))

	calls := 0
	p := &Pipeline{
		buffer:            buf,
		batchSize:         100,
		batchSinkInterval: time.Second,
		canPartition: func(context.Context, *types.RowData) (bool, error) {
			calls++
			return false, nil
		},
	}
	rows, _, err := p.drainDML(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, calls)
	require.NotNil(t, p.pending)
	assert.Equal(t, types.RowUpdate, p.pending.Row.Type)
}

func TestPipelineHandleDDLSkipsWhenSinkerLacksDDLSinker(t *testing.T) {
	s := &fakeSinker{}
	p := New(buffer.New(10), NewSerialParallelizer(), []sinker.Sinker{s}, 10, time.Hour, time.Second, testLogger())

	err := p.handleDDL(context.Background(), types.NewDdlData(&types.DdlData{Schema: "db", Tb: "t", Query: "ALTER TABLE t ADD x INT", Position: "pos-ddl"}))
	require.NoError(t, err)
	assert.Equal(t, "pos-ddl", p.lastReceivedPosition)
}

type fakeDDLSinker struct {
	fakeSinker
	queries []string
}

func (f *fakeDDLSinker) SinkDDL(_ context.Context, query string) error {
	f.queries = append(f.queries, query)
	return nil
}

type fakeInvalidator struct {
	invalidated    []string
	invalidatedAll int
}

func (f *fakeInvalidator) Invalidate(schema, tb string) {
	f.invalidated = append(f.invalidated, schema+"."+tb)
}
func (f *fakeInvalidator) InvalidateAll() { f.invalidatedAll++ }

func TestPipelineHandleDDLReplaysAndInvalidates(t *testing.T) {
	s := &fakeDDLSinker{}
	inv := &fakeInvalidator{}
	p := New(buffer.New(10), NewSerialParallelizer(), []sinker.Sinker{s}, 10, time.Hour, time.Second, testLogger(),
		WithInvalidator(inv), WithDefaultSchema("db"))

	err := p.handleDDL(context.Background(), types.NewDdlData(&types.DdlData{Query: "ALTER TABLE `t` ADD COLUMN `x` INT", Position: "pos-ddl"}))
	require.NoError(t, err)
	require.Len(t, s.queries, 1)
	assert.Equal(t, "ALTER TABLE `t` ADD COLUMN `x` INT", s.queries[0])
	assert.Equal(t, []string{"db.t"}, inv.invalidated)
}

func TestPipelineHandleDMLAppliesRouter(t *testing.T) {
	s := &fakeSinker{}
	r := router.New("", "db.t:db2.t2", nil)
	p := New(buffer.New(10), NewSerialParallelizer(), []sinker.Sinker{s}, 10, time.Hour, time.Second, testLogger(), WithRouter(r))

	ctx := context.Background()
	require.NoError(t, p.buffer.Push(ctx, types.NewDmlData(insertRow("t"))))
	require.NoError(t, p.handleDML(ctx))

	require.Len(t, s.batches, 1)
	require.Len(t, s.batches[0], 1)
	assert.Equal(t, "db2", s.batches[0][0].Schema)
	assert.Equal(t, "t2", s.batches[0][0].Tb)
}

func TestPipelineStartDrainsUntilStopAndBufferEmpty(t *testing.T) {
	s := &fakeSinker{}
	buf := buffer.New(10)
	p := New(buf, NewSerialParallelizer(), []sinker.Sinker{s}, 10, time.Hour, time.Millisecond, testLogger())

	ctx := context.Background()
	require.NoError(t, buf.Push(ctx, types.NewDmlData(insertRow("t"))))
	require.NoError(t, buf.Push(ctx, types.NewCommitData(1, "commit-1")))
	p.Stop()

	require.NoError(t, p.Start(ctx))
	assert.Equal(t, 1, s.rowCount())
	assert.Equal(t, "commit-1", p.syncer.CheckpointPosition())
}
