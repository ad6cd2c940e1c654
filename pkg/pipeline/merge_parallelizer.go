package pipeline

import (
	"context"

	"github.com/flowgate/dts/pkg/merger"
	"github.com/flowgate/dts/pkg/partitioner"
	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

// MergeParallelizer is the rdb_merge parallel_type (the default for a
// relational/document CDC task): it merges a drained batch per table into
// delete/insert/unmerged buckets and dispatches each independently,
// grounded on
// original_source/dt-parallelizer/src/merge_parallelizer.rs's
// MergeParallelizer::sink_dml / sink_dml_internal.
type MergeParallelizer struct {
	merger       *merger.Merger
	batchSize    int
	parallelSize int
}

func NewMergeParallelizer(m *merger.Merger, batchSize, parallelSize int) *MergeParallelizer {
	return &MergeParallelizer{merger: m, batchSize: batchSize, parallelSize: parallelSize}
}

func (p *MergeParallelizer) Name() string { return "rdb_merge" }
func (p *MergeParallelizer) Close() error { return nil }

func (p *MergeParallelizer) SinkDML(ctx context.Context, sinkers []sinker.Sinker, rows []*types.RowData) error {
	tbMergedDatas, err := p.merger.Merge(ctx, rows)
	if err != nil {
		return err
	}

	next := 0
	for _, tbData := range tbMergedDatas {
		next, err = dispatchRoundRobin(ctx, sinkers, tbData.DeleteRows, p.batchSize, p.parallelSize, true, next)
		if err != nil {
			return err
		}
	}
	for _, tbData := range tbMergedDatas {
		next, err = dispatchRoundRobin(ctx, sinkers, tbData.InsertRows, p.batchSize, p.parallelSize, true, next)
		if err != nil {
			return err
		}
	}
	for _, tbData := range tbMergedDatas {
		if len(tbData.UnmergedRows) == 0 {
			continue
		}
		s := sinkers[next%len(sinkers)]
		next++
		if err := sinkUnmergedSerially(ctx, s, tbData.UnmergedRows); err != nil {
			return err
		}
	}
	return nil
}

// canPartitionFunc adapts a partitioner.Partitioner to the closure Drain
// needs, keeping the pipeline package's Drain helper independent of the
// concrete partitioner type.
func canPartitionFunc(p *partitioner.Partitioner) func(ctx context.Context, row *types.RowData) (bool, error) {
	return func(ctx context.Context, row *types.RowData) (bool, error) {
		return p.CanBePartitioned(ctx, row)
	}
}
