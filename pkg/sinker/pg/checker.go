package pg

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	adaptpg "github.com/flowgate/dts/pkg/adapt/pg"
	"github.com/flowgate/dts/pkg/dtserr"
	metapg "github.com/flowgate/dts/pkg/meta/pg"
	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

// Checker is the PostgreSQL check sinker (spec.md section 4.8), grounded on
// original_source/ape-dts/src/sinker/pg/pg_checker.rs.
type Checker struct {
	pool        *pgxpool.Pool
	metaManager *metapg.MetaManager
	checkLog    *sinker.CheckLog
	logger      *logrus.Entry
}

func NewChecker(pool *pgxpool.Pool, metaManager *metapg.MetaManager, checkLog *sinker.CheckLog, logger *logrus.Entry) *Checker {
	return &Checker{pool: pool, metaManager: metaManager, checkLog: checkLog, logger: logger}
}

var _ sinker.Sinker = (*Checker)(nil)

func (c *Checker) Close() error {
	c.pool.Close()
	return nil
}

func (c *Checker) SinkDML(ctx context.Context, batch []*types.RowData, batched bool) error {
	if len(batch) == 0 {
		return nil
	}
	if !batched {
		return c.serialCheck(ctx, batch)
	}
	return c.batchCheck(ctx, batch)
}

func (c *Checker) serialCheck(ctx context.Context, batch []*types.RowData) error {
	tm, err := c.metaManager.GetTbMeta(ctx, batch[0].Schema, batch[0].Tb)
	if err != nil {
		return err
	}
	qb := sinker.NewQueryBuilder(tm, quoteIdent, placeholder)

	for _, row := range batch {
		query, binds := qb.SelectQuery(row)
		dst, found, err := c.fetchOne(ctx, query, binds, tm.Cols, tm.ColTypeMap)
		if err != nil {
			return dtserr.Sink("pg check select "+row.FullTableName(), err)
		}
		if !found {
			if err := c.checkLog.LogMiss(row, tm.Cols); err != nil {
				return err
			}
			continue
		}
		if !sinker.RowsEqual(identitySource(row), dst, tm.Cols) {
			if err := c.checkLog.LogDiff(row, tm.Cols); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Checker) batchCheck(ctx context.Context, batch []*types.RowData) error {
	tm, err := c.metaManager.GetTbMeta(ctx, batch[0].Schema, batch[0].Tb)
	if err != nil {
		return err
	}
	qb := sinker.NewQueryBuilder(tm, quoteIdent, placeholder)
	if !qb.HasKey {
		return c.serialCheck(ctx, batch)
	}

	query, binds := qb.BatchSelectQuery(batch)
	rows, err := c.pool.Query(ctx, query, binds...)
	if err != nil {
		return dtserr.Sink("pg check batch select "+batch[0].FullTableName(), err)
	}
	dstByKey := make(map[string]map[string]types.ColValue, len(batch))
	for rows.Next() {
		m, err := scanRow(rows, tm.Cols, tm.ColTypeMap)
		if err != nil {
			rows.Close()
			return err
		}
		key := qb.IdentityKey(types.NewInsertRow(batch[0].Schema, batch[0].Tb, m, ""))
		dstByKey[key] = m
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return dtserr.Sink("pg check batch iterate "+batch[0].FullTableName(), err)
	}
	rows.Close()

	for _, row := range batch {
		dst, ok := dstByKey[qb.IdentityKey(row)]
		if !ok {
			if err := c.checkLog.LogMiss(row, tm.Cols); err != nil {
				return err
			}
			continue
		}
		if !sinker.RowsEqual(identitySource(row), dst, tm.Cols) {
			if err := c.checkLog.LogDiff(row, tm.Cols); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Checker) fetchOne(ctx context.Context, query string, binds []any, cols []string, colTypes map[string]types.ColType) (map[string]types.ColValue, bool, error) {
	rows, err := c.pool.Query(ctx, query, binds...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, rows.Err()
	}
	m, err := scanRow(rows, cols, colTypes)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func identitySource(row *types.RowData) map[string]types.ColValue {
	if row.Type == types.RowInsert {
		return row.After
	}
	return row.Before
}

func scanRow(rows pgx.Rows, cols []string, colTypes map[string]types.ColType) (map[string]types.ColValue, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, dtserr.Conversion("scan pg check row", err)
	}
	out := make(map[string]types.ColValue, len(cols))
	for i, col := range cols {
		v, err := adaptpg.FromQuery(colTypes[col], values[i])
		if err != nil {
			return nil, err
		}
		out[col] = v
	}
	return out, nil
}
