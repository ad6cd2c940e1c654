// Package pg implements the PostgreSQL sinker from spec.md section 4.8,
// grounded on original_source/ape-dts/src/sinker/pg_sinker.rs: INSERT ...
// ON CONFLICT (id_cols) DO UPDATE SET ... for Insert paths (batched and
// not), batch-to-per-row degrade on failure, and a single
// DELETE ... WHERE (id_cols) IN (...) for batched Delete. Uses pgx's native
// pool (the extractor side of this package already does, for the
// replication connection) rather than database/sql, so the retry/backoff
// loop is a small pgx-flavored twin of pkg/dbconn's rather than a reuse of
// it.
package pg

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/flowgate/dts/pkg/dtserr"
	metapg "github.com/flowgate/dts/pkg/meta/pg"
	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

const maxRetries = 5

type Sinker struct {
	pool        *pgxpool.Pool
	metaManager *metapg.MetaManager
	logger      *logrus.Entry
}

func New(pool *pgxpool.Pool, metaManager *metapg.MetaManager, logger *logrus.Entry) *Sinker {
	return &Sinker{pool: pool, metaManager: metaManager, logger: logger}
}

var _ sinker.Sinker = (*Sinker)(nil)

func (s *Sinker) Close() error {
	s.pool.Close()
	return nil
}

var _ sinker.DDLSinker = (*Sinker)(nil)

// SinkDDL executes query directly (no transaction, no retry): DDL is a
// serialization barrier run once on sinker 0 (spec.md section 4.9).
func (s *Sinker) SinkDDL(ctx context.Context, query string) error {
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return dtserr.Sink("pg sink ddl", err)
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

func quoteIdent(ident string) string { return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"` }
func placeholder(n int) string       { return "$" + strconv.Itoa(n) }

// upsertSuffix builds " ON CONFLICT (id_cols) DO UPDATE SET col=EXCLUDED.col,..."
// for every non-identity column, or "DO NOTHING" if every column is part of
// the key, matching the original's get_insert_query but referencing the
// standard EXCLUDED pseudo-table instead of re-binding the after-values a
// second time.
func upsertSuffix(qb *sinker.QueryBuilder) string {
	if !qb.HasKey {
		return ""
	}
	inKey := make(map[string]bool, len(qb.WhereCols))
	for _, c := range qb.WhereCols {
		inKey[c] = true
	}
	var setParts []string
	for _, c := range qb.Cols {
		if inKey[c] {
			continue
		}
		q := qb.Quote(c)
		setParts = append(setParts, q+"=EXCLUDED."+q)
	}
	if len(setParts) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", qb.QuotedCols(qb.WhereCols))
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", qb.QuotedCols(qb.WhereCols), strings.Join(setParts, ","))
}

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
			query, binds = qb.InsertQuery("INSERT", upsertSuffix(qb), row)
		case types.RowUpdate:
			query, binds = qb.UpdateQuery("", row)
		case types.RowDelete:
			query, binds = qb.DeleteQuery("", row)
		}
		if err := s.exec(ctx, query, binds); err != nil {
			return dtserr.Sink("pg sink row "+row.FullTableName(), err)
		}
	}
	return nil
}

func (s *Sinker) batchInsert(ctx context.Context, batch []*types.RowData) error {
	qb, err := s.builder(ctx, batch[0])
	if err != nil {
		return err
	}
	query, binds := qb.BatchInsertQuery("INSERT", upsertSuffix(qb), batch)
	if err := s.exec(ctx, query, binds); err != nil {
		s.logger.WithError(err).WithField("table", batch[0].FullTableName()).
			Warn("batch insert failed, degrading to per-row")
		return s.serialSink(ctx, batch)
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
	if err := s.exec(ctx, query, binds); err != nil {
		s.logger.WithError(err).WithField("table", batch[0].FullTableName()).
			Warn("batch delete failed, degrading to per-row")
		return s.serialSink(ctx, batch)
	}
	return nil
}

// exec retries the whole statement in its own transaction up to maxRetries
// times on a transient error, the pgx-native twin of
// dbconn.RetryableTransactionStmts.
func (s *Sinker) exec(ctx context.Context, query string, binds []any) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		var tx pgx.Tx
		tx, err = s.pool.Begin(ctx)
		if err != nil {
			backoff(i)
			continue
		}
		if _, err = tx.Exec(ctx, query, binds...); err != nil {
			_ = tx.Rollback(ctx)
			if classify(err) {
				backoff(i)
				continue
			}
			return err
		}
		if err = tx.Commit(ctx); err != nil {
			backoff(i)
			continue
		}
		return nil
	}
	return err
}

// classify treats PostgreSQL's transaction-rollback class (serialization
// failure, deadlock) and connection-exception class as retryable, mirroring
// the MySQL sinker's classify in spirit for PostgreSQL's own SQLSTATE
// taxonomy.
func classify(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "57P03", "08000", "08003", "08006":
		return true
	default:
		return false
	}
}

func backoff(attempt int) {
	factor := attempt * rand.Intn(10)
	time.Sleep(time.Duration(factor) * time.Millisecond)
}
