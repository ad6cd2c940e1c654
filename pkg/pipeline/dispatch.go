package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

// subBatchSize computes the spec.md section 4.9 sub-batch bound: "size ≤
// max(batch_size, |data|/parallel_size)", so a wide parallel_size doesn't
// shatter a small batch into single-row dispatches.
func subBatchSize(dataLen, batchSize, parallelSize int) int {
	if parallelSize < 1 {
		parallelSize = 1
	}
	size := max(batchSize, dataLen/parallelSize)
	if size < 1 {
		size = 1
	}
	return size
}

// dispatchRoundRobin splits data into chunks of subBatchSize and fans each
// chunk out to sinkers[next%len(sinkers)] in parallel, advancing next across
// calls the way the grounding file's `futures.len() % parallel_size`
// indexing does across the delete/insert/unmerged phases of one merge. next
// is returned so callers chain multiple dispatch rounds without resetting
// the round-robin cursor (see merge_parallelizer.go's sink_dml_internal
// equivalent).
func dispatchRoundRobin(ctx context.Context, sinkers []sinker.Sinker, data []*types.RowData, batchSize, parallelSize int, batched bool, next int) (int, error) {
	if len(data) == 0 {
		return next, nil
	}
	size := subBatchSize(len(data), batchSize, parallelSize)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < len(data); i += size {
		end := min(i+size, len(data))
		sub := data[i:end]
		s := sinkers[next%len(sinkers)]
		next++
		g.Go(func() error {
			return s.SinkDML(gctx, sub, batched)
		})
	}
	if err := g.Wait(); err != nil {
		return next, err
	}
	return next, nil
}

// sinkUnmergedSerially replays rows through a single sinker, batching
// contiguous same-type runs (matching merge_parallelizer.rs's
// sink_unmerged_rows): a run of Inserts goes through the batched path,
// Delete/Update runs go through the per-row path, both on the same sinker
// slot to preserve the original arrival order the merger left intact.
func sinkUnmergedSerially(ctx context.Context, s sinker.Sinker, data []*types.RowData) error {
	start := 0
	for i := 1; i <= len(data); i++ {
		if i == len(data) || data[i].Type != data[start].Type {
			sub := data[start:i]
			if data[start].Type == types.RowInsert {
				if err := s.SinkDML(ctx, sub, true); err != nil {
					return err
				}
			} else if err := s.SinkDML(ctx, sub, false); err != nil {
				return err
			}
			start = i
		}
	}
	return nil
}
