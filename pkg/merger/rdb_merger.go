// Package merger implements RdbMerger from spec.md section 4.6, grounded on
// original_source/dt-parallelizer/src/rdb_merger.rs. It collapses a drained
// batch of RowData per table into (deletes, inserts, unmerged) so merged
// batches can be applied out of order while unmerged rows stay serial.
package merger

import (
	"context"

	"github.com/flowgate/dts/pkg/meta"
	"github.com/flowgate/dts/pkg/types"
)

// TbMetaLookup resolves the TbMeta needed to compute row identity and
// detect id-column collisions. It is satisfied by any dialect MetaManager
// via a thin adaptor in the pipeline wiring.
type TbMetaLookup interface {
	GetTbMeta(ctx context.Context, schema, tb string) (*meta.TbMeta, error)
}

// TbMergedData is the per-table output of a merge: deletes and inserts keyed
// by identity hash (order is not meaningful, the pipeline applies them as
// unordered parallel batches), and unmerged rows that must be applied
// serially in original arrival order.
type TbMergedData struct {
	Tb           string
	DeleteRows   []*types.RowData
	InsertRows   []*types.RowData
	UnmergedRows []*types.RowData
}

type tbBuckets struct {
	deleteRows   map[uint64]*types.RowData
	insertRows   map[uint64]*types.RowData
	unmergedRows []*types.RowData
}

func newBuckets() *tbBuckets {
	return &tbBuckets{
		deleteRows: make(map[uint64]*types.RowData),
		insertRows: make(map[uint64]*types.RowData),
	}
}

// Merger merges a drained batch of rows, one TbMetaLookup per source
// dialect (callers merging a batch that spans multiple source dialects —
// not expected in this pipeline's single-source-per-task model — should
// construct one Merger per dialect).
type Merger struct {
	metaLookup TbMetaLookup
}

func New(metaLookup TbMetaLookup) *Merger {
	return &Merger{metaLookup: metaLookup}
}

// Merge classifies rows per full table name following spec.md section 4.6's
// per-row algorithm, in arrival order.
func (m *Merger) Merge(ctx context.Context, rows []*types.RowData) ([]*TbMergedData, error) {
	tbData := make(map[string]*tbBuckets)
	var order []string
	for _, row := range rows {
		full := row.FullTableName()
		b, ok := tbData[full]
		if !ok {
			b = newBuckets()
			tbData[full] = b
			order = append(order, full)
		}
		if err := m.mergeRow(ctx, b, row); err != nil {
			return nil, err
		}
	}

	results := make([]*TbMergedData, 0, len(order))
	for _, tb := range order {
		b := tbData[tb]
		result := &TbMergedData{Tb: tb, UnmergedRows: b.unmergedRows}
		for _, r := range b.deleteRows {
			result.DeleteRows = append(result.DeleteRows, r)
		}
		for _, r := range b.insertRows {
			result.InsertRows = append(result.InsertRows, r)
		}
		results = append(results, result)
	}
	return results, nil
}

func (m *Merger) mergeRow(ctx context.Context, b *tbBuckets, row *types.RowData) error {
	// Step 1: once a table has degraded to unmerged, all subsequent rows
	// for that table stay serial.
	if len(b.unmergedRows) > 0 {
		b.unmergedRows = append(b.unmergedRows, row)
		return nil
	}

	tm, err := m.metaLookup.GetTbMeta(ctx, row.Schema, row.Tb)
	if err != nil {
		return err
	}

	// Step 2: hash 0 is the "not mergeable" sentinel (empty key_map).
	hashCode := hashCode(row, tm)
	if hashCode == 0 {
		b.unmergedRows = append(b.unmergedRows, row)
		return nil
	}

	switch row.Type {
	case types.RowDelete:
		if collides(b.insertRows, tm, row, hashCode) || collides(b.deleteRows, tm, row, hashCode) {
			b.unmergedRows = append(b.unmergedRows, row)
			return nil
		}
		delete(b.insertRows, hashCode)
		b.deleteRows[hashCode] = row

	case types.RowUpdate:
		// Step 3: an id-column change makes the merged representation
		// ambiguous; spec.md mandates unmerged here (resolved Open
		// Question, never the "silent replace" alternative).
		if idColsChanged(tm, row) {
			b.unmergedRows = append(b.unmergedRows, row)
			return nil
		}

		del := types.NewDeleteRow(row.Schema, row.Tb, row.Before, row.Position)
		ins := types.NewInsertRow(row.Schema, row.Tb, row.After, row.Position)
		insHash := hashCode(ins, tm)

		if collides(b.insertRows, tm, ins, insHash) || collides(b.deleteRows, tm, del, hashCode) {
			b.unmergedRows = append(b.unmergedRows, row)
			return nil
		}
		b.deleteRows[hashCode] = del
		b.insertRows[insHash] = ins

	case types.RowInsert:
		if collides(b.insertRows, tm, row, hashCode) {
			b.unmergedRows = append(b.unmergedRows, row)
			return nil
		}
		b.insertRows[hashCode] = row
	}
	return nil
}

// hashCode computes the row identity hash: an FNV-style combination of each
// id_cols value's HashCode (after for Insert, before otherwise).
// 0 is returned for tables with no key_map (spec.md section 4.6).
func hashCode(row *types.RowData, tm *meta.TbMeta) uint64 {
	if len(tm.IDCols) == 0 {
		return 0
	}
	values := row.IdentityValues(tm.IDCols)
	h := uint64(1469598103934665603) // FNV-1a offset basis
	const prime = 1099511628211
	for _, v := range values {
		vh := v.HashCode()
		h ^= vh
		h *= prime
	}
	if h == 0 {
		// Never collide with the sentinel for "not mergeable".
		h = 1
	}
	return h
}

// idColsChanged reports whether any id_cols value differs between before
// and after on an Update row.
func idColsChanged(tm *meta.TbMeta, row *types.RowData) bool {
	for _, col := range tm.IDCols {
		b := row.Before[col]
		a := row.After[col]
		if !b.Equal(a) {
			return true
		}
	}
	return false
}

// collides reports whether buf already holds a row at hc whose identity
// values differ from row's — a same-hash, different-identity collision
// (spec.md section 4.6). A buf entry with identical identity values is not
// a collision (Scenario D: delete-then-insert of the exact same key).
func collides(buf map[uint64]*types.RowData, tm *meta.TbMeta, row *types.RowData, hc uint64) bool {
	existing, ok := buf[hc]
	if !ok {
		return false
	}
	rowValues := identityOf(row)
	existingValues := identityOf(existing)
	for _, col := range tm.IDCols {
		if !rowValues[col].Equal(existingValues[col]) {
			return true
		}
	}
	return false
}

func identityOf(row *types.RowData) map[string]types.ColValue {
	if row.Type == types.RowInsert {
		return row.After
	}
	return row.Before
}
