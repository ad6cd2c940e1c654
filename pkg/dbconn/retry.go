// Package dbconn generalizes the teacher's (block-spirit pkg/dbconn)
// retryable-transaction helper for use by every relational sinker, rather
// than a single schema-migration tool. The retry/backoff policy and the
// "rollback and retry the whole transaction" strategy is unchanged; the
// per-engine error classification is now pluggable via RetryClassifier so
// MySQL and PostgreSQL sinkers can share one implementation.
package dbconn

import (
	"context"
	"database/sql"
	"math/rand"
	"time"
)

// Config mirrors the teacher's DBConfig: lock timeouts and retry limits for
// the managed transaction helpers below.
type Config struct {
	LockWaitTimeoutSecs       int
	InnodbLockWaitTimeoutSecs int
	MaxRetries                int
}

func NewConfig() *Config {
	return &Config{LockWaitTimeoutSecs: 30, InnodbLockWaitTimeoutSecs: 3, MaxRetries: 5}
}

// RetryClassifier decides whether a statement error is transient (retry the
// whole transaction) or permanent (fail fast), per spec.md section 7's
// sink-error taxonomy: "degrade batch to per-row; a per-row failure is
// fatal". Each dialect sinker package supplies its own classifier (MySQL's
// looks at *mysql.MySQLError numbers, PostgreSQL's at pgconn.PgError codes).
type RetryClassifier func(err error) bool

// Standardizer runs the session-level statements a dialect needs applied to
// every connection/transaction before real work starts (timezone, sql_mode,
// ...). Each dialect sinker supplies its own statements; MySQL's set UTC,
// an empty sql_mode and the binary charset, and set no lock timeouts.
type Standardizer func(ctx context.Context, tx *sql.Tx) error

// RetryableTransaction retries every statement in a transaction, rolling
// back and restarting the whole transaction on a transient error, up to
// MaxRetries times — identical in spirit to the teacher's
// dbconn.RetryableTransaction, generalized across dialects via standardize
// and classify.
func RetryableTransaction(ctx context.Context, db *sql.DB, cfg *Config, standardize Standardizer, classify RetryClassifier, stmts ...string) (int64, error) {
	var err error
	var rowsAffected int64

retryLoop:
	for i := 0; i < cfg.MaxRetries; i++ {
		var trx *sql.Tx
		trx, err = db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
		if err != nil {
			backoff(i)
			continue retryLoop
		}
		if standardize != nil {
			if err = standardize(ctx, trx); err != nil {
				_ = trx.Rollback()
				backoff(i)
				continue retryLoop
			}
		}
		for _, stmt := range stmts {
			if stmt == "" {
				continue
			}
			var res sql.Result
			res, err = trx.ExecContext(ctx, stmt)
			if err != nil {
				if classify != nil && classify(err) {
					_ = trx.Rollback()
					backoff(i)
					continue retryLoop
				}
				_ = trx.Rollback()
				return rowsAffected, err
			}
			if n, e := res.RowsAffected(); e == nil {
				rowsAffected += n
			}
		}
		if err = trx.Commit(); err != nil {
			_ = trx.Rollback()
			backoff(i)
			continue retryLoop
		}
		return rowsAffected, nil
	}
	return rowsAffected, err
}

// Stmt is one parameterized statement in a RetryableTransactionStmts batch.
type Stmt struct {
	Query string
	Args  []any
}

// RetryableTransactionStmts is RetryableTransaction generalized to
// parameterized statements, for sinkers executing batched INSERT/UPDATE/
// DELETE with bound arguments rather than the teacher's own
// fully-rendered-text statements.
func RetryableTransactionStmts(ctx context.Context, db *sql.DB, cfg *Config, standardize Standardizer, classify RetryClassifier, stmts []Stmt) (int64, error) {
	var err error
	var rowsAffected int64

retryLoop:
	for i := 0; i < cfg.MaxRetries; i++ {
		var trx *sql.Tx
		trx, err = db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
		if err != nil {
			backoff(i)
			continue retryLoop
		}
		if standardize != nil {
			if err = standardize(ctx, trx); err != nil {
				_ = trx.Rollback()
				backoff(i)
				continue retryLoop
			}
		}
		for _, stmt := range stmts {
			if stmt.Query == "" {
				continue
			}
			var res sql.Result
			res, err = trx.ExecContext(ctx, stmt.Query, stmt.Args...)
			if err != nil {
				if classify != nil && classify(err) {
					_ = trx.Rollback()
					backoff(i)
					continue retryLoop
				}
				_ = trx.Rollback()
				return rowsAffected, err
			}
			if n, e := res.RowsAffected(); e == nil {
				rowsAffected += n
			}
		}
		if err = trx.Commit(); err != nil {
			_ = trx.Rollback()
			backoff(i)
			continue retryLoop
		}
		return rowsAffected, nil
	}
	return rowsAffected, err
}

func backoff(attempt int) {
	factor := attempt * rand.Intn(10)
	time.Sleep(time.Duration(factor) * time.Millisecond)
}
