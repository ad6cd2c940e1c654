package mysql

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	adaptmysql "github.com/flowgate/dts/pkg/adapt/mysql"
	"github.com/flowgate/dts/pkg/dtserr"
	metamysql "github.com/flowgate/dts/pkg/meta/mysql"
	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

// Checker is the MySQL check sinker (spec.md section 4.8): for every input
// batch it re-SELECTs the same rows from the sink and logs miss/diff lines,
// grounded on
// original_source/dt-connector/src/sinker/mysql/mysql_checker.rs.
type Checker struct {
	db          *sql.DB
	metaManager *metamysql.MetaManager
	checkLog    *sinker.CheckLog
	logger      *logrus.Entry
}

func NewChecker(db *sql.DB, metaManager *metamysql.MetaManager, checkLog *sinker.CheckLog, logger *logrus.Entry) *Checker {
	return &Checker{db: db, metaManager: metaManager, checkLog: checkLog, logger: logger}
}

var _ sinker.Sinker = (*Checker)(nil)

func (c *Checker) Close() error { return c.db.Close() }

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
			return dtserr.Sink("mysql check select "+row.FullTableName(), err)
		}
		if !found {
			if err := c.checkLog.LogMiss(row, tm.Cols); err != nil {
				return err
			}
			continue
		}
		if !sinker.RowsEqual(identitySourceFull(row), dst, tm.Cols) {
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
	rows, err := c.db.QueryContext(ctx, query, binds...)
	if err != nil {
		return dtserr.Sink("mysql check batch select "+batch[0].FullTableName(), err)
	}
	dstByKey := make(map[string]map[string]types.ColValue, len(batch))
	for rows.Next() {
		values, err := scanRow(rows, tm.Cols, tm.ColTypeMap)
		if err != nil {
			rows.Close()
			return err
		}
		m := make(map[string]types.ColValue, len(tm.Cols))
		for i, col := range tm.Cols {
			m[col] = values[i]
		}
		key := qb.IdentityKey(types.NewInsertRow(batch[0].Schema, batch[0].Tb, m, ""))
		dstByKey[key] = m
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return dtserr.Sink("mysql check batch iterate "+batch[0].FullTableName(), err)
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
		if !sinker.RowsEqual(identitySourceFull(row), dst, tm.Cols) {
			if err := c.checkLog.LogDiff(row, tm.Cols); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Checker) fetchOne(ctx context.Context, query string, binds []any, cols []string, colTypes map[string]types.ColType) (map[string]types.ColValue, bool, error) {
	rows, err := c.db.QueryContext(ctx, query, binds...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, rows.Err()
	}
	values, err := scanRow(rows, cols, colTypes)
	if err != nil {
		return nil, false, err
	}
	m := make(map[string]types.ColValue, len(cols))
	for i, col := range cols {
		m[col] = values[i]
	}
	return m, true, nil
}

func identitySourceFull(row *types.RowData) map[string]types.ColValue {
	if row.Type == types.RowInsert {
		return row.After
	}
	return row.Before
}

func scanRow(rows *sql.Rows, cols []string, colTypes map[string]types.ColType) ([]types.ColValue, error) {
	raw := make([]sql.RawBytes, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range raw {
		scanArgs[i] = &raw[i]
	}
	if err := rows.Scan(scanArgs...); err != nil {
		return nil, dtserr.Conversion("scan check row", err)
	}
	out := make([]types.ColValue, len(cols))
	for i, col := range cols {
		ct := colTypes[col]
		var native any
		if raw[i] != nil {
			native = []byte(append([]byte(nil), raw[i]...))
		}
		v, err := adaptmysql.FromNative(ct, native)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
