// Package sinker defines the common sinker contract every dialect sink
// package (mysql, pg, clickhouse, starrocks, mongo, redis, duckdb)
// implements, per spec.md section 4.8. Grounded on the original's own
// `Sinker` trait (dt-connector/src/sinker/*, e.g. mysql_sinker.rs), narrowed
// to the row-level DML path since DDL replay and meta invalidation are
// handled by the pipeline/ddlparse packages rather than per-sinker here.
package sinker

import (
	"context"

	"github.com/flowgate/dts/pkg/types"
)

// Sinker applies a batch of row changes, all belonging to one table, to a
// destination. batched indicates the caller has grouped same-type rows
// (all Insert, or all Delete) and the sinker may use a batch-optimized
// path; when false (or the batch is mixed/Update) the sinker applies rows
// one by one.
type Sinker interface {
	SinkDML(ctx context.Context, batch []*types.RowData, batched bool) error
	Close() error
}

// DDLSinker is implemented by the SQL-based dialects (mysql, pg, duckdb):
// spec.md section 4.9 replays DDL serially on sinker 0 between DML
// barriers. ClickHouse/StarRocks (stream-load only), MongoDB (schemaless),
// and Redis (no DDL concept) do not implement it; the pipeline logs and
// skips a DDL item when sinker 0 doesn't satisfy this interface.
type DDLSinker interface {
	SinkDDL(ctx context.Context, query string) error
}
