package pipeline

import (
	"context"

	redissinker "github.com/flowgate/dts/pkg/sinker/redis"
	"github.com/flowgate/dts/pkg/types"
)

// RedisDispatcher is the redis parallel_type. Redis's cluster-aware key-hash
// routing already happens inside redissinker.Sinker (its UniversalClient
// targets the right node per key), so unlike MergeParallelizer/
// MongoParallelizer there is no delete/insert bucketing or table
// partitioning step to perform here: a RedisEntry batch forwards to the one
// Redis sinker in arrival order, preserving per-key command ordering the
// way a PSYNC replica stream requires. RedisEntry carries no table identity
// and no before/after column map, so it cannot satisfy Parallelizer's
// []*types.RowData signature; this is a deliberately separate, narrower
// type rather than a forced-fit implementation of that interface.
type RedisDispatcher struct {
	sinker *redissinker.Sinker
}

func NewRedisDispatcher(s *redissinker.Sinker) *RedisDispatcher {
	return &RedisDispatcher{sinker: s}
}

func (d *RedisDispatcher) Name() string { return "redis" }
func (d *RedisDispatcher) Close() error { return d.sinker.Close() }

func (d *RedisDispatcher) SinkEntries(ctx context.Context, entries []*types.RedisEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return d.sinker.SinkEntries(ctx, entries)
}
