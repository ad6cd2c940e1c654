package pipeline

import (
	"context"

	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

// SnapshotParallelizer is the snapshot parallel_type: a full-table snapshot
// read only ever produces Insert rows keyed on a PK-range scan, so there is
// no delete/insert collision to resolve and no need for RdbMerger's
// identity-hash dedup step — the batch is simply chunked and fanned out.
// Grounded on the same chunking shape
// original_source/dt-parallelizer/src/merge_parallelizer.rs's
// sink_dml_internal uses for its own Insert bucket (round-robin dispatch of
// subBatchSize chunks across parallel_size sinkers), narrowed to skip the
// merge step a snapshot task never needs.
type SnapshotParallelizer struct {
	batchSize    int
	parallelSize int
}

func NewSnapshotParallelizer(batchSize, parallelSize int) *SnapshotParallelizer {
	return &SnapshotParallelizer{batchSize: batchSize, parallelSize: parallelSize}
}

func (p *SnapshotParallelizer) Name() string { return "snapshot" }
func (p *SnapshotParallelizer) Close() error { return nil }

func (p *SnapshotParallelizer) SinkDML(ctx context.Context, sinkers []sinker.Sinker, rows []*types.RowData) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := dispatchRoundRobin(ctx, sinkers, rows, p.batchSize, p.parallelSize, true, 0)
	return err
}
