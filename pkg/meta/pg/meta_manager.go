// Package pg implements the PostgreSQL dialect's MetaManager, grounded on
// original_source/dt-meta/src/pg/pg_meta_manager.rs: table columns and their
// type OIDs from pg_catalog, unique indexes from pg_index, and an
// oid->TbMeta index kept alongside the name index so the logical
// replication extractor's Relation messages (which carry an OID) can update
// TbMeta.Cols to match the replication column order (spec.md section 4.2.4).
package pg

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowgate/dts/pkg/dtserr"
	"github.com/flowgate/dts/pkg/meta"
	"github.com/flowgate/dts/pkg/types"
)

type MetaManager struct {
	pool     *pgxpool.Pool
	registry *types.TypeRegistry

	mu        sync.RWMutex
	byName    map[string]*meta.TbMeta
	byOID     map[uint32]*meta.TbMeta
	nameToOID map[string]uint32
}

func NewMetaManager(pool *pgxpool.Pool, registry *types.TypeRegistry) *MetaManager {
	return &MetaManager{
		pool:      pool,
		registry:  registry,
		byName:    make(map[string]*meta.TbMeta),
		byOID:     make(map[uint32]*meta.TbMeta),
		nameToOID: make(map[string]uint32),
	}
}

func fullName(schema, tb string) string { return schema + "." + tb }

// GetTbMeta is the cache-through accessor from spec.md section 4.3.
func (m *MetaManager) GetTbMeta(ctx context.Context, schema, tb string) (*meta.TbMeta, error) {
	name := fullName(schema, tb)
	m.mu.RLock()
	if tm, ok := m.byName[name]; ok {
		m.mu.RUnlock()
		return tm, nil
	}
	m.mu.RUnlock()

	oid, err := m.getOID(ctx, schema, tb)
	if err != nil {
		return nil, err
	}
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
	tm, err := meta.BuildTbMeta(schema, tb, cols, colTypeMap, keyMap, nil)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.byName[name] = tm
	m.byOID[oid] = tm
	m.nameToOID[name] = oid
	m.mu.Unlock()
	return tm, nil
}

// GetTbMetaByOID supports the logical replication extractor, whose Relation
// messages identify a table only by OID.
func (m *MetaManager) GetTbMetaByOID(oid uint32) (*meta.TbMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tm, ok := m.byOID[oid]
	return tm, ok
}

// UpdateTbMetaByOID rewrites TbMeta.Cols/ColTypeMap to match a Relation
// message's column list (spec.md section 4.2.4): the replication stream's
// column order and type list is authoritative for decoding subsequent
// Insert/Update/Delete tuples on that relation, even if it has since
// diverged from information_schema (a DDL may be mid-flight).
func (m *MetaManager) UpdateTbMetaByOID(oid uint32, schema, tb string, cols []string, colTypeMap map[string]types.ColType, keyMap map[string][]string) (*meta.TbMeta, error) {
	tm, err := meta.BuildTbMeta(schema, tb, cols, colTypeMap, keyMap, nil)
	if err != nil {
		return nil, err
	}
	name := fullName(schema, tb)
	m.mu.Lock()
	m.byOID[oid] = tm
	m.byName[name] = tm
	m.nameToOID[name] = oid
	m.mu.Unlock()
	return tm, nil
}

// Invalidate drops the cached TbMeta for (schema, tb), by both indexes.
func (m *MetaManager) Invalidate(schema, tb string) {
	name := fullName(schema, tb)
	m.mu.Lock()
	defer m.mu.Unlock()
	if oid, ok := m.nameToOID[name]; ok {
		delete(m.byOID, oid)
		delete(m.nameToOID, name)
	}
	delete(m.byName, name)
}

// InvalidateAll drops every cached entry.
func (m *MetaManager) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byName = make(map[string]*meta.TbMeta)
	m.byOID = make(map[uint32]*meta.TbMeta)
	m.nameToOID = make(map[string]uint32)
}

func (m *MetaManager) getOID(ctx context.Context, schema, tb string) (uint32, error) {
	const q = `SELECT ($1 || '.' || $2)::regclass::oid`
	var oid uint32
	if err := m.pool.QueryRow(ctx, q, schema, tb).Scan(&oid); err != nil {
		return 0, dtserr.Metadata("resolve oid for "+schema+"."+tb, err)
	}
	return oid, nil
}

func (m *MetaManager) parseCols(ctx context.Context, schema, tb string) ([]string, map[string]types.ColType, error) {
	const colsQ = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`
	rows, err := m.pool.Query(ctx, colsQ, schema, tb)
	if err != nil {
		return nil, nil, dtserr.Metadata("query columns for "+schema+"."+tb, err)
	}
	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			rows.Close()
			return nil, nil, dtserr.Metadata("scan column for "+schema+"."+tb, err)
		}
		cols = append(cols, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, dtserr.Metadata("iterate columns for "+schema+"."+tb, err)
	}

	colSet := make(map[string]bool, len(cols))
	for _, c := range cols {
		colSet[c] = true
	}

	const typeQ = `SELECT a.attname AS col_name, a.atttypid AS col_type_oid
		FROM pg_class t, pg_attribute a
		WHERE a.attrelid = t.oid
			AND t.relname = $1
			AND t.relnamespace = (SELECT oid FROM pg_namespace WHERE nspname = $2)
			AND a.attnum > 0 AND NOT a.attisdropped`
	trows, err := m.pool.Query(ctx, typeQ, tb, schema)
	if err != nil {
		return nil, nil, dtserr.Metadata("query column types for "+schema+"."+tb, err)
	}
	defer trows.Close()
	colTypeMap := make(map[string]types.ColType)
	for trows.Next() {
		var col string
		var oid uint32
		if err := trows.Scan(&col, &oid); err != nil {
			return nil, nil, dtserr.Metadata("scan column type for "+schema+"."+tb, err)
		}
		if !colSet[col] {
			continue
		}
		colTypeMap[col] = m.registry.PgColType(oid, "")
	}
	if err := trows.Err(); err != nil {
		return nil, nil, dtserr.Metadata("iterate column types for "+schema+"."+tb, err)
	}
	return cols, colTypeMap, nil
}

func (m *MetaManager) parseKeys(ctx context.Context, schema, tb string) (map[string][]string, error) {
	const q = `SELECT i.relname AS index_name, a.attname AS col_name, ix.indisprimary AS is_primary
		FROM pg_class t, pg_class i, pg_index ix, pg_attribute a
		WHERE t.oid = ix.indrelid
			AND i.oid = ix.indexrelid
			AND a.attrelid = t.oid
			AND a.attnum = ANY(ix.indkey)
			AND t.relkind = 'r'
			AND t.relname = $1
			AND t.relnamespace = (SELECT oid FROM pg_namespace WHERE nspname = $2)
			AND ix.indisunique = true
		ORDER BY i.relname`
	rows, err := m.pool.Query(ctx, q, tb, schema)
	if err != nil {
		return nil, dtserr.Metadata("query indexes for "+schema+"."+tb, err)
	}
	defer rows.Close()

	keyMap := make(map[string][]string)
	for rows.Next() {
		var indexName, colName string
		var isPrimary bool
		if err := rows.Scan(&indexName, &colName, &isPrimary); err != nil {
			return nil, dtserr.Metadata("scan index row for "+schema+"."+tb, err)
		}
		colName = strings.ToLower(colName)
		keyName := strings.ToLower(indexName)
		if isPrimary {
			keyName = meta.PrimaryKeyName
		}
		keyMap[keyName] = append(keyMap[keyName], colName)
	}
	if err := rows.Err(); err != nil {
		return nil, dtserr.Metadata("iterate indexes for "+schema+"."+tb, err)
	}
	return keyMap, nil
}
