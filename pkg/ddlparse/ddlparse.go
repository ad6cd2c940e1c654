// Package ddlparse extracts the (schema, table) a DDL statement affects, so
// the pipeline can invalidate the right TbMeta cache entry (spec.md section
// 4.3) without re-querying information_schema on every DDL. Grounded on the
// teacher's own ALTER-statement inspection in
// pkg/utils.AlgorithmInplaceConsideredSafe, which reaches for
// github.com/pingcap/tidb/pkg/parser rather than regexing DDL text.
package ddlparse

import (
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"

	"github.com/flowgate/dts/pkg/dtserr"
)

// AffectedTable parses query and returns the (schema, tb) pair it targets.
// defaultSchema fills in a table name the statement doesn't qualify (MySQL
// DDL is often run with a USE'd database in scope). ok is false for
// statements that don't target exactly one table the pipeline cares about
// (multi-table DROP beyond the first, statements without a table at all).
func AffectedTable(defaultSchema, query string) (schema, tb string, ok bool, err error) {
	p := parser.New()
	stmtNodes, _, perr := p.Parse(query, "", "")
	if perr != nil {
		return "", "", false, dtserr.Protocol("parse ddl: "+query, perr)
	}
	if len(stmtNodes) == 0 {
		return "", "", false, nil
	}

	switch stmt := stmtNodes[0].(type) {
	case *ast.CreateTableStmt:
		s, t := resolve(defaultSchema, stmt.Table)
		return s, t, true, nil

	case *ast.DropTableStmt:
		if len(stmt.Tables) == 0 {
			return "", "", false, nil
		}
		s, t := resolve(defaultSchema, stmt.Tables[0])
		return s, t, true, nil

	case *ast.AlterTableStmt:
		s, t := resolve(defaultSchema, stmt.Table)
		return s, t, true, nil

	case *ast.TruncateTableStmt:
		s, t := resolve(defaultSchema, stmt.Table)
		return s, t, true, nil

	case *ast.RenameTableStmt:
		if len(stmt.TableToTables) == 0 {
			return "", "", false, nil
		}
		s, t := resolve(defaultSchema, stmt.TableToTables[0].OldTable)
		return s, t, true, nil

	default:
		return "", "", false, nil
	}
}

func resolve(defaultSchema string, tn *ast.TableName) (schema, tb string) {
	schema = tn.Schema.O
	if schema == "" {
		schema = defaultSchema
	}
	return schema, tn.Name.O
}
