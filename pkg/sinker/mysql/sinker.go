// Package mysql implements the MySQL sinker from spec.md section 4.8,
// grounded on original_source/dt-connector/src/sinker/mysql/mysql_sinker.rs:
// REPLACE INTO for batched Insert (idempotent upsert), a single DELETE ...
// WHERE (id_cols) IN (...) for batched Delete, per-row degrade for Update
// batches and on any batch failure, and an optional transactional mode that
// runs a user-supplied transaction_command ahead of the batch (data
// marking).
package mysql

import (
	"context"
	"database/sql"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/flowgate/dts/pkg/dbconn"
	"github.com/flowgate/dts/pkg/dtserr"
	metamysql "github.com/flowgate/dts/pkg/meta/mysql"
	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

// MySQL error numbers worth retrying the whole transaction for, identical
// to the teacher's own pkg/dbconn.canRetryError classification.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errCannotConnect   = 2003
	errConnLost        = 2013
	errReadOnly        = 1290
	errQueryKilled     = 1836
)

type Sinker struct {
	db          *sql.DB
	metaManager *metamysql.MetaManager
	cfg         *dbconn.Config
	logger      *logrus.Entry

	// TransactionCommand, when non-empty, is executed first in the
	// transaction wrapping every sink_dml call (spec.md section 4.8's
	// "data-marking" transactional mode).
	TransactionCommand string
}

func New(db *sql.DB, metaManager *metamysql.MetaManager, logger *logrus.Entry) *Sinker {
	return &Sinker{db: db, metaManager: metaManager, cfg: dbconn.NewConfig(), logger: logger}
}

var _ sinker.Sinker = (*Sinker)(nil)

func (s *Sinker) Close() error {
	return s.db.Close()
}

var _ sinker.DDLSinker = (*Sinker)(nil)

// SinkDDL executes query directly (no transaction, no retry): DDL is a
// serialization barrier run once on sinker 0 (spec.md section 4.9), so
// there is no concurrent batch to degrade it against.
func (s *Sinker) SinkDDL(ctx context.Context, query string) error {
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return dtserr.Sink("mysql sink ddl", err)
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

func quoteIdent(ident string) string { return "`" + ident + "`" }
func placeholder(int) string         { return "?" }

// serialSink applies every row one by one, per spec.md's "permanent
// per-row failure is fatal": the first row that fails (after retries) is
// returned as an error, and the caller (pipeline) fails the task.
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
			query, binds = qb.InsertQuery("REPLACE", "", row)
		case types.RowUpdate:
			query, binds = qb.UpdateQuery(" LIMIT 1", row)
		case types.RowDelete:
			query, binds = qb.DeleteQuery(" LIMIT 1", row)
		}
		if _, err := s.execTransactional(ctx, []dbconn.Stmt{{Query: query, Args: binds}}); err != nil {
			return dtserr.Sink("mysql sink row "+row.FullTableName(), err)
		}
	}
	return nil
}

// batchInsert builds one multi-row REPLACE INTO statement; on failure it
// logs and degrades to serialSink for this batch (spec.md section 4.8).
func (s *Sinker) batchInsert(ctx context.Context, batch []*types.RowData) error {
	qb, err := s.builder(ctx, batch[0])
	if err != nil {
		return err
	}
	query, binds := qb.BatchInsertQuery("REPLACE", "", batch)
	if _, err := s.execTransactional(ctx, []dbconn.Stmt{{Query: query, Args: binds}}); err != nil {
		s.logger.WithError(err).WithField("table", batch[0].FullTableName()).
			Warn("batch insert failed, degrading to per-row")
		return s.serialSink(ctx, batch)
	}
	return nil
}

// batchDelete issues a single DELETE ... WHERE (id_cols) IN (...) when the
// table has a key; keyless tables have no id_cols to group on and fall
// back to per-row deletes directly.
func (s *Sinker) batchDelete(ctx context.Context, batch []*types.RowData) error {
	qb, err := s.builder(ctx, batch[0])
	if err != nil {
		return err
	}
	if !qb.HasKey {
		return s.serialSink(ctx, batch)
	}
	query, binds := qb.BatchDeleteQuery(batch)
	if _, err := s.execTransactional(ctx, []dbconn.Stmt{{Query: query, Args: binds}}); err != nil {
		s.logger.WithError(err).WithField("table", batch[0].FullTableName()).
			Warn("batch delete failed, degrading to per-row")
		return s.serialSink(ctx, batch)
	}
	return nil
}

// execTransactional wraps stmts (plus TransactionCommand, if configured)
// in one retryable transaction, matching the original's
// transaction_serial_sink/batch_insert/batch_delete, which always commit
// the transaction_command alongside the real statements.
func (s *Sinker) execTransactional(ctx context.Context, stmts []dbconn.Stmt) (int64, error) {
	all := stmts
	if s.TransactionCommand != "" {
		all = make([]dbconn.Stmt, 0, len(stmts)+1)
		all = append(all, dbconn.Stmt{Query: s.TransactionCommand})
		all = append(all, stmts...)
	}
	return dbconn.RetryableTransactionStmts(ctx, s.db, s.cfg, standardize, classify, all)
}

// standardize applies the session settings of the teacher's standardizeTrx:
// UTC, empty sql_mode and binary charset. It sets no lock timeouts; the
// lock-timeout fields of dbconn.Config are not applied here.
func standardize(ctx context.Context, trx *sql.Tx) error {
	stmts := []string{
		"SET time_zone='+00:00'",
		"SET sql_mode=''",
		"SET NAMES 'binary'",
	}
	for _, stmt := range stmts {
		if _, err := trx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// classify mirrors the teacher's canRetryError exactly.
func classify(err error) bool {
	var errNumber uint16
	if val, ok := err.(*gomysql.MySQLError); ok {
		errNumber = val.Number
	}
	switch errNumber {
	case errLockWaitTimeout, errDeadlock, errCannotConnect, errConnLost, errReadOnly, errQueryKilled:
		return true
	default:
		return false
	}
}
