package pipeline

import (
	"context"

	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

// SerialParallelizer is the serial parallel_type: every row goes through
// sinker 0 in original arrival order, no merge and no partitioning. Used
// for a struct-sink/check task or any source where per-row ordering across
// the whole batch (not just per table) must be preserved. There is no
// dedicated serial_parallelizer.rs in the retrieval pack; this reuses
// dispatch.go's sinkUnmergedSerially helper, the same batched-run-by-type
// replay merge_parallelizer.rs applies to its own unmerged bucket, since a
// fully serial batch is exactly the degenerate case of "everything is
// unmerged."
type SerialParallelizer struct{}

func NewSerialParallelizer() *SerialParallelizer { return &SerialParallelizer{} }

func (p *SerialParallelizer) Name() string { return "serial" }
func (p *SerialParallelizer) Close() error { return nil }

func (p *SerialParallelizer) SinkDML(ctx context.Context, sinkers []sinker.Sinker, rows []*types.RowData) error {
	if len(rows) == 0 {
		return nil
	}
	return sinkUnmergedSerially(ctx, sinkers[0], rows)
}
