package pipeline

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

// mongoDocColumn is the synthetic column every Mongo RowData carries its
// bson payload under (pkg/extractor/mongo's docColumn, pkg/sinker/mongo's
// docColumn); duplicated here rather than exported cross-package since it
// is a wire-level constant of the Mongo dialect, not shared pipeline state.
const mongoDocColumn = "doc"

// MongoParallelizer is the mongo parallel_type. Grounded on
// original_source/dt-pipeline/src/mongo_parallelizer.rs: partition a
// drained batch by full table name, then within each table walk rows in
// order merging into insert/delete maps keyed by the document's `_id`
// (Update rows split into a synthetic Delete+Insert pair exactly like
// MongoParallelizer::merge_dml), stopping the merge and falling through to
// unmerged the moment a row's `_id` cannot be read (an oplog Update whose
// `after` holds a diff document rather than a full doc, per the grounding
// file's comment on get_hash_key).
type MongoParallelizer struct {
	batchSize    int
	parallelSize int
}

func NewMongoParallelizer(batchSize, parallelSize int) *MongoParallelizer {
	return &MongoParallelizer{batchSize: batchSize, parallelSize: parallelSize}
}

func (p *MongoParallelizer) Name() string { return "mongo" }
func (p *MongoParallelizer) Close() error { return nil }

func (p *MongoParallelizer) SinkDML(ctx context.Context, sinkers []sinker.Sinker, rows []*types.RowData) error {
	byTable := partitionByTable(rows)

	next := 0
	var err error
	for _, tbRows := range byTable {
		inserts, deletes, unmerged := mongoMergeDML(tbRows)
		next, err = dispatchRoundRobin(ctx, sinkers, deletes, p.batchSize, p.parallelSize, true, next)
		if err != nil {
			return err
		}
		next, err = dispatchRoundRobin(ctx, sinkers, inserts, p.batchSize, p.parallelSize, true, next)
		if err != nil {
			return err
		}
		if len(unmerged) > 0 {
			s := sinkers[next%len(sinkers)]
			next++
			if err := s.SinkDML(ctx, unmerged, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func partitionByTable(rows []*types.RowData) []([]*types.RowData) {
	index := make(map[string]int)
	var groups [][]*types.RowData
	for _, row := range rows {
		key := row.FullTableName()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], row)
	}
	return groups
}

// mongoMergeDML mirrors MongoParallelizer::merge_dml: it consumes rows from
// the front, building insert/delete maps keyed by docID, until a row's
// identity can't be read, at which point that row and everything after it
// (in original order) becomes unmerged.
func mongoMergeDML(rows []*types.RowData) (inserts, deletes, unmerged []*types.RowData) {
	insertMap := make(map[string]*types.RowData)
	deleteMap := make(map[string]*types.RowData)

	i := 0
	for ; i < len(rows); i++ {
		row := rows[i]
		id, ok := mongoRowID(row)
		if !ok {
			break
		}
		switch row.Type {
		case types.RowInsert:
			insertMap[id] = row
		case types.RowDelete:
			delete(insertMap, id)
			deleteMap[id] = row
		case types.RowUpdate:
			del := types.NewDeleteRow(row.Schema, row.Tb, row.Before, row.Position)
			ins := types.NewInsertRow(row.Schema, row.Tb, row.After, row.Position)
			deleteMap[id] = del
			insertMap[id] = ins
		}
	}
	unmerged = rows[i:]

	for _, r := range insertMap {
		inserts = append(inserts, r)
	}
	for _, r := range deleteMap {
		deletes = append(deletes, r)
	}
	return inserts, deletes, unmerged
}

// mongoRowID extracts a stable string form of the row's `_id` from its
// identity source (After for Insert, Before otherwise), matching
// get_hash_key's identity source selection. ok is false when the doc
// column is missing or holds no `_id` (the oplog diff-document case the
// grounding file's comment documents).
func mongoRowID(row *types.RowData) (string, bool) {
	src := row.Before
	if row.Type == types.RowInsert {
		src = row.After
	}
	col, ok := src[mongoDocColumn]
	if !ok {
		return "", false
	}
	docAny, ok := col.Doc()
	if !ok {
		return "", false
	}
	doc, ok := docAny.(bson.Raw)
	if !ok {
		return "", false
	}
	idVal, err := doc.LookupErr("_id")
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%x", idVal.Value), true
}
