// Package duckdb implements the DuckDB sinker from spec.md section 4.8,
// grounded on
// original_source/dt-connector/src/sinker/duckdb/duckdb_sinker.rs. DuckDB
// is an embedded engine reached in-process rather than over the network, so
// unlike pkg/sinker/mysql and pkg/sinker/pg there is no retry/backoff loop
// here — the grounding file executes directly and propagates any error.
package duckdb

import (
	"context"
	"database/sql"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/sirupsen/logrus"

	"github.com/flowgate/dts/pkg/dtserr"
	metaduckdb "github.com/flowgate/dts/pkg/meta/duckdb"
	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

type Sinker struct {
	db          *sql.DB
	metaManager *metaduckdb.MetaManager
	logger      *logrus.Entry
}

func New(db *sql.DB, metaManager *metaduckdb.MetaManager, logger *logrus.Entry) *Sinker {
	return &Sinker{db: db, metaManager: metaManager, logger: logger}
}

var _ sinker.Sinker = (*Sinker)(nil)

func (s *Sinker) Close() error { return s.db.Close() }

var _ sinker.DDLSinker = (*Sinker)(nil)

// SinkDDL executes query directly: DDL is a serialization barrier run once
// on sinker 0 (spec.md section 4.9), and DuckDB's embedded access has no
// connection-retry class to guard it with.
func (s *Sinker) SinkDDL(ctx context.Context, query string) error {
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return dtserr.Sink("duckdb sink ddl", err)
	}
	return nil
}

func (s *Sinker) SinkDML(ctx context.Context, batch []*types.RowData, batched bool) error {
	if len(batch) == 0 {
		return nil
	}
	if !batched {
		return s.serialSink(ctx, batch)
	}
	switch batch[0].Type {
	case types.RowInsert:
		return s.batchInsert(ctx, batch)
	case types.RowDelete:
		return s.batchDelete(ctx, batch)
	default:
		return s.serialSink(ctx, batch)
	}
}

func (s *Sinker) builder(ctx context.Context, row *types.RowData) (*sinker.QueryBuilder, error) {
	tm, err := s.metaManager.GetTbMeta(ctx, row.Schema, row.Tb)
	if err != nil {
		return nil, err
	}
	return sinker.NewQueryBuilder(tm, quoteIdent, placeholder), nil
}

func quoteIdent(ident string) string { return `"` + ident + `"` }
func placeholder(int) string         { return "?" }

func (s *Sinker) serialSink(ctx context.Context, batch []*types.RowData) error {
	for _, row := range batch {
		qb, err := s.builder(ctx, row)
		if err != nil {
			return err
		}
		var query string
		var binds []any
		switch row.Type {
		case types.RowInsert:
			query, binds = qb.InsertQuery("INSERT", "", row)
		case types.RowUpdate:
			query, binds = qb.UpdateQuery("", row)
		case types.RowDelete:
			query, binds = qb.DeleteQuery("", row)
		}
		if _, err := s.db.ExecContext(ctx, query, binds...); err != nil {
			return dtserr.Sink("duckdb sink row "+row.FullTableName(), err)
		}
	}
	return nil
}

func (s *Sinker) batchInsert(ctx context.Context, batch []*types.RowData) error {
	qb, err := s.builder(ctx, batch[0])
	if err != nil {
		return err
	}
	query, binds := qb.BatchInsertQuery("INSERT", "", batch)
	if _, err := s.db.ExecContext(ctx, query, binds...); err != nil {
		s.logger.WithError(err).WithField("table", batch[0].FullTableName()).
			Warn("batch insert failed, deleting then re-inserting")
		if derr := s.deleteByAfter(ctx, qb, batch); derr != nil {
			return derr
		}
		query, binds = qb.BatchInsertQuery("INSERT", "", batch)
		if _, err := s.db.ExecContext(ctx, query, binds...); err != nil {
			return dtserr.Sink("duckdb batch insert after delete "+batch[0].FullTableName(), err)
		}
	}
	return nil
}

// deleteByAfter deletes each row keyed by its After values (the row it is
// about to (re-)insert), matching the grounding file's build-delete-data
// step: it constructs a synthetic Delete RowData from After and deletes
// that, rather than looking up Before (an Insert row has no Before).
func (s *Sinker) deleteByAfter(ctx context.Context, qb *sinker.QueryBuilder, batch []*types.RowData) error {
	deletes := make([]*types.RowData, len(batch))
	for i, row := range batch {
		deletes[i] = types.NewDeleteRow(row.Schema, row.Tb, row.After, "")
	}
	if !qb.HasKey {
		for _, row := range deletes {
			query, binds := qb.DeleteQuery("", row)
			if _, err := s.db.ExecContext(ctx, query, binds...); err != nil {
				return dtserr.Sink("duckdb delete before reinsert "+row.FullTableName(), err)
			}
		}
		return nil
	}
	query, binds := qb.BatchDeleteQuery(deletes)
	if _, err := s.db.ExecContext(ctx, query, binds...); err != nil {
		return dtserr.Sink("duckdb batch delete before reinsert "+batch[0].FullTableName(), err)
	}
	return nil
}

func (s *Sinker) batchDelete(ctx context.Context, batch []*types.RowData) error {
	qb, err := s.builder(ctx, batch[0])
	if err != nil {
		return err
	}
	if !qb.HasKey {
		return s.serialSink(ctx, batch)
	}
	query, binds := qb.BatchDeleteQuery(batch)
	if _, err := s.db.ExecContext(ctx, query, binds...); err != nil {
		s.logger.WithError(err).WithField("table", batch[0].FullTableName()).
			Warn("batch delete failed, degrading to per-row")
		return s.serialSink(ctx, batch)
	}
	return nil
}
