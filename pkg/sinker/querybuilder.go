package sinker

import (
	"fmt"
	"strings"

	"github.com/flowgate/dts/pkg/meta"
	"github.com/flowgate/dts/pkg/types"
)

// QueryBuilder renders the parameterized INSERT/UPDATE/DELETE statements a
// relational sinker needs from a TbMeta, independent of bind-placeholder
// syntax ("?" for MySQL, "$N" for PostgreSQL) and insert-upsert dialect
// (REPLACE INTO vs INSERT ... ON CONFLICT), both supplied by the caller.
// Grounded on original_source/src/sinker/rdb_sinker_util.rs, whose
// RdbSinkerUtil is likewise shared by the MySQL and PostgreSQL sinkers
// (new_for_mysql/new_for_pg) rather than duplicated per dialect.
type QueryBuilder struct {
	Schema string
	Tb     string
	Cols   []string
	// WhereCols locates a row for UPDATE/DELETE: the chosen unique key's
	// columns, or every column when the table declares no key.
	WhereCols []string
	HasKey    bool

	Quote func(ident string) string
	// Placeholder returns the bind placeholder for the n-th (1-based) bound
	// value in the whole statement.
	Placeholder func(n int) string
}

func NewQueryBuilder(tm *meta.TbMeta, quote func(string) string, placeholder func(int) string) *QueryBuilder {
	whereCols := tm.IDCols
	hasKey := len(whereCols) > 0
	if !hasKey {
		whereCols = tm.Cols
	}
	return &QueryBuilder{
		Schema: tm.Schema, Tb: tm.Tb, Cols: tm.Cols,
		WhereCols: whereCols, HasKey: hasKey,
		Quote: quote, Placeholder: placeholder,
	}
}

func colValue(m map[string]types.ColValue, col string) types.ColValue {
	if v, ok := m[col]; ok {
		return v
	}
	return types.None()
}

func (b *QueryBuilder) table() string {
	return b.Quote(b.Schema) + "." + b.Quote(b.Tb)
}

func (b *QueryBuilder) QuotedCols(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = b.Quote(c)
	}
	return strings.Join(out, ",")
}

// InsertQuery builds "<verb> INTO table(cols) VALUES(phs)<suffix>" for one
// row (After, in Cols order).
func (b *QueryBuilder) InsertQuery(verb, suffix string, row *types.RowData) (string, []any) {
	counter := 0
	phs := make([]string, len(b.Cols))
	binds := make([]any, len(b.Cols))
	for i, c := range b.Cols {
		counter++
		phs[i] = b.Placeholder(counter)
		binds[i] = colValue(row.After, c).Native()
	}
	sql := fmt.Sprintf("%s INTO %s(%s) VALUES(%s)%s", verb, b.table(), b.QuotedCols(b.Cols), strings.Join(phs, ","), suffix)
	return sql, binds
}

// BatchInsertQuery builds a multi-row VALUES list for a contiguous batch,
// all of the same table and all Insert rows.
func (b *QueryBuilder) BatchInsertQuery(verb, suffix string, batch []*types.RowData) (string, []any) {
	counter := 0
	rows := make([]string, 0, len(batch))
	binds := make([]any, 0, len(batch)*len(b.Cols))
	for _, row := range batch {
		phs := make([]string, len(b.Cols))
		for i, c := range b.Cols {
			counter++
			phs[i] = b.Placeholder(counter)
			binds = append(binds, colValue(row.After, c).Native())
		}
		rows = append(rows, "("+strings.Join(phs, ",")+")")
	}
	sql := fmt.Sprintf("%s INTO %s(%s) VALUES %s%s", verb, b.table(), b.QuotedCols(b.Cols), strings.Join(rows, ","), suffix)
	return sql, binds
}

// whereClause mirrors the original's get_where_info: a None value renders
// as "col IS NULL" with no bind, anything else as "col = ph" with a bind.
// counter is threaded through so callers composing SET + WHERE (UPDATE) can
// keep bind-placeholder numbering contiguous for dialects like PostgreSQL.
func (b *QueryBuilder) whereClause(from map[string]types.ColValue, counter *int) (string, []any) {
	parts := make([]string, 0, len(b.WhereCols))
	var binds []any
	for _, c := range b.WhereCols {
		v := colValue(from, c)
		if v.IsNone() {
			parts = append(parts, b.Quote(c)+" IS NULL")
			continue
		}
		*counter++
		parts = append(parts, b.Quote(c)+"="+b.Placeholder(*counter))
		binds = append(binds, v.Native())
	}
	return strings.Join(parts, " AND "), binds
}

// DeleteQuery builds a single-row DELETE keyed on Before. limitSuffix (e.g.
// " LIMIT 1") is appended only when the table has no unique key, matching
// the original's key_map.is_empty() check; pass "" for dialects that don't
// support a DELETE ... LIMIT form.
func (b *QueryBuilder) DeleteQuery(limitSuffix string, row *types.RowData) (string, []any) {
	counter := 0
	where, binds := b.whereClause(row.Before, &counter)
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", b.table(), where)
	if !b.HasKey {
		sql += limitSuffix
	}
	return sql, binds
}

// UpdateQuery builds a single-row UPDATE: SET every After column, WHERE
// Before's identity columns (or all columns, if the table has no key). A
// column whose After value is UnchangedToast (a PostgreSQL TOASTed column a
// pgoutput tuple left out because it didn't change) is omitted from the SET
// clause entirely rather than bound as NULL, per spec.md section 3/4.2.4.
func (b *QueryBuilder) UpdateQuery(limitSuffix string, row *types.RowData) (string, []any) {
	counter := 0
	setParts := make([]string, 0, len(b.Cols))
	binds := make([]any, 0, len(b.Cols))
	for _, c := range b.Cols {
		v := colValue(row.After, c)
		if v.IsUnchangedToast() {
			continue
		}
		counter++
		setParts = append(setParts, b.Quote(c)+"="+b.Placeholder(counter))
		binds = append(binds, v.Native())
	}
	where, whereBinds := b.whereClause(row.Before, &counter)
	binds = append(binds, whereBinds...)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", b.table(), strings.Join(setParts, ","), where)
	if !b.HasKey {
		sql += limitSuffix
	}
	return sql, binds
}

// BatchDeleteQuery builds the spec's "DELETE ... WHERE (id_cols) IN (...)"
// form. Only valid when the table has a key (HasKey); callers must degrade
// keyless-table deletes to the per-row DeleteQuery path.
func (b *QueryBuilder) BatchDeleteQuery(batch []*types.RowData) (string, []any) {
	counter := 0
	idCols := b.WhereCols
	tuples := make([]string, 0, len(batch))
	binds := make([]any, 0, len(batch)*len(idCols))
	for _, row := range batch {
		tuple := make([]string, len(idCols))
		for i, c := range idCols {
			counter++
			tuple[i] = b.Placeholder(counter)
			binds = append(binds, colValue(row.Before, c).Native())
		}
		tuples = append(tuples, "("+strings.Join(tuple, ",")+")")
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE (%s) IN (%s)", b.table(), b.QuotedCols(idCols), strings.Join(tuples, ","))
	return sql, binds
}

// identitySource returns the column map a row exposes its identity through:
// After for Insert, Before otherwise.
func identitySource(row *types.RowData) map[string]types.ColValue {
	if row.Type == types.RowInsert {
		return row.After
	}
	return row.Before
}

// SelectQuery builds the checker's single-row fetch, keyed by WhereCols.
func (b *QueryBuilder) SelectQuery(row *types.RowData) (string, []any) {
	counter := 0
	where, binds := b.whereClause(identitySource(row), &counter)
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s", b.QuotedCols(b.Cols), b.table(), where)
	return sql, binds
}

// BatchSelectQuery builds the checker's "(id_cols) IN (...)" batch fetch.
// Only valid when the table has a key; callers degrade to SelectQuery
// otherwise.
func (b *QueryBuilder) BatchSelectQuery(batch []*types.RowData) (string, []any) {
	counter := 0
	idCols := b.WhereCols
	tuples := make([]string, 0, len(batch))
	binds := make([]any, 0, len(batch)*len(idCols))
	for _, row := range batch {
		src := identitySource(row)
		tuple := make([]string, len(idCols))
		for i, c := range idCols {
			counter++
			tuple[i] = b.Placeholder(counter)
			binds = append(binds, colValue(src, c).Native())
		}
		tuples = append(tuples, "("+strings.Join(tuple, ",")+")")
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE (%s) IN (%s)", b.QuotedCols(b.Cols), b.table(), b.QuotedCols(idCols), strings.Join(tuples, ","))
	return sql, binds
}

// IdentityKey renders a row's identity columns into a stable map key for
// matching a fetched destination row back to its source row in a batch
// check (spec.md section 4.8's "compare hashed identity columns").
func (b *QueryBuilder) IdentityKey(row *types.RowData) string {
	src := identitySource(row)
	parts := make([]string, len(b.WhereCols))
	for i, c := range b.WhereCols {
		parts[i] = colValue(src, c).ToString()
	}
	return strings.Join(parts, "\x00")
}
