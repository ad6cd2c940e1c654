// Package duckdb implements the DuckDB dialect's MetaManager, grounded on
// original_source/dt-common/src/meta/duckdb/duckdb_meta_manager.rs:
// DESCRIBE for columns, information_schema.table_constraints joined to
// key_column_usage for unique keys.
package duckdb

import (
	"context"
	"database/sql"
	"strings"

	"github.com/flowgate/dts/pkg/dtserr"
	"github.com/flowgate/dts/pkg/meta"
	"github.com/flowgate/dts/pkg/types"
)

type MetaManager struct {
	db       *sql.DB
	registry *types.TypeRegistry
	cache    *meta.Cache
}

func NewMetaManager(db *sql.DB, registry *types.TypeRegistry) *MetaManager {
	return &MetaManager{db: db, registry: registry, cache: meta.NewCache()}
}

func (m *MetaManager) GetTbMeta(ctx context.Context, schema, tb string) (*meta.TbMeta, error) {
	return m.cache.Get(schema, tb, func() (*meta.TbMeta, error) {
		return m.buildTbMeta(ctx, schema, tb)
	})
}

func (m *MetaManager) Invalidate(schema, tb string) { m.cache.Invalidate(schema, tb) }
func (m *MetaManager) InvalidateAll()                { m.cache.InvalidateAll() }

func (m *MetaManager) buildTbMeta(ctx context.Context, schema, tb string) (*meta.TbMeta, error) {
	cols, colTypeMap, err := m.parseCols(ctx, schema, tb)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, meta.ErrEmptyColumns(schema, tb)
	}
	keyMap, err := m.parseKeys(ctx, schema, tb)
	if err != nil {
		return nil, err
	}
	return meta.BuildTbMeta(schema, tb, cols, colTypeMap, keyMap, nil)
}

func (m *MetaManager) parseCols(ctx context.Context, schema, tb string) ([]string, map[string]types.ColType, error) {
	q := `DESCRIBE "` + strings.ReplaceAll(schema, `"`, `""`) + `"."` + strings.ReplaceAll(tb, `"`, `""`) + `"`
	rows, err := m.db.QueryContext(ctx, q)
	if err != nil {
		return nil, nil, dtserr.Metadata("describe "+schema+"."+tb, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, dtserr.Metadata("describe columns "+schema+"."+tb, err)
	}

	var colNames []string
	colTypeMap := make(map[string]types.ColType)
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		scanArgs := make([]any, len(cols))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, nil, dtserr.Metadata("scan describe row "+schema+"."+tb, err)
		}
		// DESCRIBE's result columns are (column_name, column_type, null,
		// key, default, extra); only the first two are needed here.
		colName := values[0].String
		colType := values[1].String
		colNames = append(colNames, colName)
		colTypeMap[colName] = m.registry.DuckDBColType(colType)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, dtserr.Metadata("iterate describe "+schema+"."+tb, err)
	}
	return colNames, colTypeMap, nil
}

func (m *MetaManager) parseKeys(ctx context.Context, schema, tb string) (map[string][]string, error) {
	const q = `SELECT tc.constraint_name, tc.constraint_type, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
		WHERE tc.table_schema = ? AND tc.table_name = ?`
	rows, err := m.db.QueryContext(ctx, q, schema, tb)
	if err != nil {
		return nil, dtserr.Metadata("query constraints for "+schema+"."+tb, err)
	}
	defer rows.Close()

	keyMap := make(map[string][]string)
	for rows.Next() {
		var keyName, keyType, col string
		if err := rows.Scan(&keyName, &keyType, &col); err != nil {
			return nil, dtserr.Metadata("scan constraint row for "+schema+"."+tb, err)
		}
		keyName = strings.ToLower(keyName)
		col = strings.ToLower(col)
		if strings.EqualFold(keyType, "PRIMARY KEY") {
			keyName = meta.PrimaryKeyName
		}
		keyMap[keyName] = append(keyMap[keyName], col)
	}
	if err := rows.Err(); err != nil {
		return nil, dtserr.Metadata("iterate constraints for "+schema+"."+tb, err)
	}
	return keyMap, nil
}
