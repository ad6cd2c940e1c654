// Package partitioner implements the row partitioner from spec.md section
// 4.7: it decides whether a row may be parallelized and computes its
// partition index.
package partitioner

import (
	"context"
	"hash/fnv"

	"github.com/flowgate/dts/pkg/meta"
	"github.com/flowgate/dts/pkg/types"
)

// TbMetaLookup resolves the TbMeta needed to check unique-key/partition
// column changes.
type TbMetaLookup interface {
	GetTbMeta(ctx context.Context, schema, tb string) (*meta.TbMeta, error)
}

type Partitioner struct {
	metaLookup TbMetaLookup
}

func New(metaLookup TbMetaLookup) *Partitioner {
	return &Partitioner{metaLookup: metaLookup}
}

// CanBePartitioned reports whether row may be applied in parallel with
// other rows of the same batch. Insert/Delete are always partitionable; an
// Update is partitionable unless a unique-key or the partition column
// changed (spec.md section 4.7).
func (p *Partitioner) CanBePartitioned(ctx context.Context, row *types.RowData) (bool, error) {
	if row.Type != types.RowUpdate {
		return true, nil
	}
	tm, err := p.metaLookup.GetTbMeta(ctx, row.Schema, row.Tb)
	if err != nil {
		return false, err
	}
	for _, key := range tm.KeyMap {
		for _, col := range key {
			if changed(row, col) {
				return false, nil
			}
		}
	}
	if tm.PartitionCol != nil && changed(row, *tm.PartitionCol) {
		return false, nil
	}
	return true, nil
}

func changed(row *types.RowData, col string) bool {
	before, ok1 := row.Before[col]
	after, ok2 := row.After[col]
	if !ok1 || !ok2 {
		return false
	}
	return !before.Equal(after)
}

// PartitionIndex returns the partition slot for row among n parallel
// sinkers. n<=1 always returns 0; a row whose partition column is absent
// also returns 0 (spec.md section 4.7).
func (p *Partitioner) PartitionIndex(ctx context.Context, row *types.RowData, n int) (int, error) {
	if n <= 1 {
		return 0, nil
	}
	tm, err := p.metaLookup.GetTbMeta(ctx, row.Schema, row.Tb)
	if err != nil {
		return 0, err
	}
	if tm.PartitionCol == nil {
		return 0, nil
	}
	v, ok := row.PartitionValue(*tm.PartitionCol)
	if !ok {
		return 0, nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(v.ToString()))
	return int(h.Sum64() % uint64(n)), nil
}
