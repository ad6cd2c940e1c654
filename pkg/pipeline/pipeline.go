package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowgate/dts/pkg/buffer"
	"github.com/flowgate/dts/pkg/ddlparse"
	"github.com/flowgate/dts/pkg/router"
	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

// Invalidator is satisfied by every dialect's MetaManager (pkg/meta/mysql,
// pkg/meta/pg, pkg/meta/duckdb): a DDL item invalidates the one table it
// names, or the whole cache when AffectedTable can't resolve a single
// table (a multi-statement or unrecognized DDL).
type Invalidator interface {
	Invalidate(schema, tb string)
	InvalidateAll()
}

// CanPartitionFunc reports whether a row may be dispatched in parallel with
// the rest of its batch (pkg/partitioner.Partitioner.CanBePartitioned,
// adapted by canPartitionFunc in merge_parallelizer.go). nil disables the
// check, which is the right default for the mongo and redis parallel_types:
// neither dispatch strategy fans individual rows out by partition index.
type CanPartitionFunc func(ctx context.Context, row *types.RowData) (bool, error)

// Pipeline is the driver loop from spec.md section 4.9: drain the buffer,
// classify each item, dispatch DML through the configured Parallelizer, run
// DDL serially on sinker 0, and checkpoint on an interval. Grounded on
// original_source/dt-pipeline/src/pipeline.rs's Pipeline::start/stop.
type Pipeline struct {
	buffer       *buffer.Buffer
	router       *router.Router
	invalidator  Invalidator
	canPartition CanPartitionFunc
	defaultSchema string

	parallelizer Parallelizer
	sinkers      []sinker.Sinker
	redis        *RedisDispatcher

	batchSize           int
	batchSinkInterval   time.Duration
	checkpointInterval  time.Duration

	syncer   *Syncer
	posLog   *PositionLogger
	monLog   *MonitorLogger
	logger   *logrus.Entry

	pending              *types.DtData
	lastReceivedPosition string
	sinkedCount          uint64
	shutdown             atomic.Bool
}

// Option configures optional Pipeline collaborators not every task needs
// (a mongo or redis task has no Router/Invalidator/partitioner wired).
type Option func(*Pipeline)

func WithRouter(r *router.Router) Option { return func(p *Pipeline) { p.router = r } }
func WithInvalidator(inv Invalidator) Option {
	return func(p *Pipeline) { p.invalidator = inv }
}
func WithCanPartition(f CanPartitionFunc) Option {
	return func(p *Pipeline) { p.canPartition = f }
}
func WithDefaultSchema(schema string) Option {
	return func(p *Pipeline) { p.defaultSchema = schema }
}
func WithRedisDispatcher(d *RedisDispatcher) Option {
	return func(p *Pipeline) { p.redis = d }
}

func New(
	buf *buffer.Buffer,
	parallelizer Parallelizer,
	sinkers []sinker.Sinker,
	batchSize int,
	checkpointInterval, batchSinkInterval time.Duration,
	logger *logrus.Entry,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		buffer:             buf,
		parallelizer:       parallelizer,
		sinkers:            sinkers,
		batchSize:          batchSize,
		batchSinkInterval:  batchSinkInterval,
		checkpointInterval: checkpointInterval,
		syncer:             NewSyncer(),
		posLog:             NewPositionLogger(logger),
		monLog:             NewMonitorLogger(logger),
		logger:             logger.WithField("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Syncer() *Syncer { return p.syncer }

// Stop requests the loop exit once the buffer drains, matching
// pipeline.rs's stop() which lets in-flight work finish rather than
// aborting mid-batch.
func (p *Pipeline) Stop() { p.shutdown.Store(true) }

// Close releases every sinker plus the parallelizer and (if configured)
// the redis dispatcher, matching pipeline.rs's stop() teardown.
func (p *Pipeline) Close() error {
	var firstErr error
	for _, s := range p.sinkers {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.parallelizer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if p.redis != nil {
		if err := p.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pipeline) next(ctx context.Context) (types.DtData, error) {
	if p.pending != nil {
		item := *p.pending
		p.pending = nil
		return item, nil
	}
	return p.buffer.Pop(ctx)
}

// Start runs the drain -> classify -> dispatch -> checkpoint loop until ctx
// is canceled or Stop has been called and the buffer is empty, mirroring
// pipeline.rs's `while !self.shutdown || !buffer.is_empty()`.
func (p *Pipeline) Start(ctx context.Context) error {
	nextCheckpoint := time.Now().Add(p.checkpointInterval)
	for !p.shutdown.Load() || !p.buffer.IsEmpty() || p.pending != nil {
		item, err := p.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch item.Kind {
		case types.DtDml:
			p.pending = &item
			if err := p.handleDML(ctx); err != nil {
				return err
			}
		case types.DtDdl:
			if err := p.handleDDL(ctx, item); err != nil {
				return err
			}
		case types.DtCommit:
			p.syncer.SetCheckpointPosition(item.Position)
		case types.DtRedis:
			p.pending = &item
			if err := p.handleRedis(ctx); err != nil {
				return err
			}
		case types.DtRaw:
			p.lastReceivedPosition = item.Position
		}

		if time.Now().After(nextCheckpoint) {
			p.checkpoint()
			nextCheckpoint = time.Now().Add(p.checkpointInterval)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Millisecond):
		}
	}
	p.checkpoint()
	return nil
}

func (p *Pipeline) handleDML(ctx context.Context) error {
	rows, commitPosition, err := p.drainDML(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		if commitPosition != "" {
			p.syncer.SetCheckpointPosition(commitPosition)
		}
		return nil
	}
	if p.router != nil {
		for _, row := range rows {
			row.Schema, row.Tb = p.router.GetRoute(row.Schema, row.Tb)
		}
	}
	if err := p.parallelizer.SinkDML(ctx, p.sinkers, rows); err != nil {
		return err
	}
	p.sinkedCount += uint64(len(rows))
	p.lastReceivedPosition = rows[len(rows)-1].Position
	if commitPosition != "" {
		p.syncer.SetCheckpointPosition(commitPosition)
	}
	return nil
}

func (p *Pipeline) handleRedis(ctx context.Context) error {
	entries, err := p.drainRedis(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 || p.redis == nil {
		return nil
	}
	if err := p.redis.SinkEntries(ctx, entries); err != nil {
		return err
	}
	p.sinkedCount += uint64(len(entries))
	return nil
}

// handleDDL replays a DDL statement serially on sinker 0 (spec.md section
// 4.9): sinker 0 must satisfy sinker.DDLSinker, or the statement is logged
// and skipped (the ClickHouse/StarRocks/Mongo/Redis dialects never do). It
// also invalidates the affected TbMeta so the next row through that table
// rebuilds its column/key shape from the altered schema.
func (p *Pipeline) handleDDL(ctx context.Context, item types.DtData) error {
	ddl := item.Ddl
	if ddl == nil {
		return nil
	}

	if p.invalidator != nil {
		schema, tb, ok, err := ddlparse.AffectedTable(p.defaultSchema, ddl.Query)
		if err != nil {
			p.logger.WithError(err).WithField("query", ddl.Query).Warn("ddl parse failed, invalidating entire meta cache")
			p.invalidator.InvalidateAll()
		} else if ok {
			p.invalidator.Invalidate(schema, tb)
		} else {
			p.invalidator.InvalidateAll()
		}
	}

	if len(p.sinkers) > 0 {
		if ddlSinker, ok := p.sinkers[0].(sinker.DDLSinker); ok {
			if err := ddlSinker.SinkDDL(ctx, ddl.Query); err != nil {
				return err
			}
		} else {
			p.logger.WithField("query", ddl.Query).Warn("sinker does not support ddl replay, skipping")
		}
	}

	p.lastReceivedPosition = ddl.Position
	return nil
}

func (p *Pipeline) checkpoint() {
	p.posLog.LogCurrent(p.lastReceivedPosition)
	if cp := p.syncer.CheckpointPosition(); cp != "" {
		p.posLog.LogCheckpoint(cp)
	}
	p.monLog.LogThroughput(0, p.sinkedCount)
}
