package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	adaptpg "github.com/flowgate/dts/pkg/adapt/pg"
	"github.com/flowgate/dts/pkg/buffer"
	"github.com/flowgate/dts/pkg/dtserr"
	"github.com/flowgate/dts/pkg/filter"
	metapg "github.com/flowgate/dts/pkg/meta/pg"
	"github.com/flowgate/dts/pkg/types"
)

const DefaultSliceSize = 2000

// SnapshotExtractor copies schema.tb in key-ordered slices, the same
// protocol as the MySQL snapshot extractor, grounded on
// original_source/dt-connector/src/extractor/pg/pg_snapshot_extractor.rs.
// Column values come back already decoded by pgx's own type mapping;
// adapt/pg.FromQuery covers both the built-ins pgx decodes natively and the
// catch-all text fallback for everything TypeRegistry.PgColType resolves to
// KindString (arrays, ranges, geometry, user-defined types).
type SnapshotExtractor struct {
	pool        *pgxpool.Pool
	metaManager *metapg.MetaManager
	buf         *buffer.Buffer
	filter      *filter.Filter
	logger      *logrus.Entry

	Schema    string
	Tb        string
	SliceSize int
	// ResumeValue, if non-nil, is the last order_col value seen on a prior
	// run, so extraction resumes from there (spec.md section 4.2.1).
	ResumeValue *types.ColValue
}

func NewSnapshotExtractor(pool *pgxpool.Pool, metaManager *metapg.MetaManager, buf *buffer.Buffer, flt *filter.Filter, logger *logrus.Entry, schema, tb string) *SnapshotExtractor {
	return &SnapshotExtractor{
		pool: pool, metaManager: metaManager, buf: buf, filter: flt, logger: logger,
		Schema: schema, Tb: tb, SliceSize: DefaultSliceSize,
	}
}

func (e *SnapshotExtractor) Extract(ctx context.Context) error {
	if e.filter.FilterTb(e.Schema, e.Tb) {
		return nil
	}
	tm, err := e.metaManager.GetTbMeta(ctx, e.Schema, e.Tb)
	if err != nil {
		return err
	}

	if tm.OrderCol == nil {
		return e.extractUnordered(ctx, tm.Cols, tm.ColTypeMap)
	}
	return e.extractSliced(ctx, *tm.OrderCol, tm.Cols, tm.ColTypeMap)
}

func (e *SnapshotExtractor) extractSliced(ctx context.Context, orderCol string, cols []string, colTypes map[string]types.ColType) error {
	var last *types.ColValue
	if e.ResumeValue != nil {
		v := *e.ResumeValue
		last = &v
	}

	for {
		rows, err := e.fetchSlice(ctx, orderCol, cols, colTypes, last)
		if err != nil {
			return err
		}
		for _, row := range rows {
			after := make(map[string]types.ColValue, len(cols))
			for i, c := range cols {
				after[c] = row[i]
			}
			rd := types.NewInsertRow(e.Schema, e.Tb, after, "")
			if err := e.buf.Push(ctx, types.NewDmlData(rd)); err != nil {
				return err
			}
			v := after[orderCol]
			last = &v
		}
		if len(rows) < e.SliceSize {
			return nil
		}
	}
}

func (e *SnapshotExtractor) extractUnordered(ctx context.Context, cols []string, colTypes map[string]types.ColType) error {
	q := fmt.Sprintf("SELECT * FROM %s.%s", pgIdent(e.Schema), pgIdent(e.Tb))
	rows, err := e.pool.Query(ctx, q)
	if err != nil {
		return dtserr.Connection("query "+e.Schema+"."+e.Tb, err)
	}
	defer rows.Close()

	for rows.Next() {
		values, err := scanRow(rows, cols, colTypes)
		if err != nil {
			return err
		}
		after := make(map[string]types.ColValue, len(cols))
		for i, c := range cols {
			after[c] = values[i]
		}
		rd := types.NewInsertRow(e.Schema, e.Tb, after, "")
		if err := e.buf.Push(ctx, types.NewDmlData(rd)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return dtserr.Connection("iterate "+e.Schema+"."+e.Tb, err)
	}
	return nil
}

func (e *SnapshotExtractor) fetchSlice(ctx context.Context, orderCol string, cols []string, colTypes map[string]types.ColType, last *types.ColValue) ([][]types.ColValue, error) {
	var q string
	var args []any
	if last == nil {
		q = fmt.Sprintf("SELECT * FROM %s.%s ORDER BY %s ASC LIMIT $1", pgIdent(e.Schema), pgIdent(e.Tb), pgIdent(orderCol))
		args = []any{e.SliceSize}
	} else {
		q = fmt.Sprintf("SELECT * FROM %s.%s WHERE %s > $1 ORDER BY %s ASC LIMIT $2", pgIdent(e.Schema), pgIdent(e.Tb), pgIdent(orderCol), pgIdent(orderCol))
		args = []any{last.ToString(), e.SliceSize}
	}

	rows, err := e.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, dtserr.Connection("query slice of "+e.Schema+"."+e.Tb, err)
	}
	defer rows.Close()

	var result [][]types.ColValue
	for rows.Next() {
		values, err := scanRow(rows, cols, colTypes)
		if err != nil {
			return nil, err
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return nil, dtserr.Connection("iterate slice of "+e.Schema+"."+e.Tb, err)
	}
	return result, nil
}

// scanRow reads pgx's own decoded values (rows.Values(), not a Scan into
// pre-typed destinations) since the column set is dynamic per table, then
// converts each to ColValue per its declared kind.
func scanRow(rows interface{ Values() ([]any, error) }, cols []string, colTypes map[string]types.ColType) ([]types.ColValue, error) {
	raw, err := rows.Values()
	if err != nil {
		return nil, dtserr.Conversion("read row values", err)
	}
	out := make([]types.ColValue, len(cols))
	for i, c := range cols {
		if i >= len(raw) {
			out[i] = types.None()
			continue
		}
		ct := colTypes[c]
		v, err := adaptpg.FromQuery(ct, raw[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
