package pipeline

import (
	"context"
	"time"

	"github.com/flowgate/dts/pkg/types"
)

// drainDML pulls DtDml items (plus any interleaved DtCommit markers, whose
// position it folds into commitPosition without ending the batch) until one
// of: batchSize rows collected, the buffer runs dry, batchSinkInterval
// elapses, or the next item is a different kind — in which case that item
// is stashed on p.pending for the next call, exactly the lookahead-of-one
// original_source/dt-pipeline/src/pipeline.rs gets for free from Rust's
// channel `try_recv` but this slice-backed Buffer has no peek for.
func (p *Pipeline) drainDML(ctx context.Context) (rows []*types.RowData, commitPosition string, err error) {
	deadline := time.Now().Add(p.batchSinkInterval)
	for len(rows) < p.batchSize {
		if len(rows) > 0 && (p.buffer.IsEmpty() || time.Now().After(deadline)) {
			break
		}
		item, perr := p.next(ctx)
		if perr != nil {
			return rows, commitPosition, perr
		}
		switch item.Kind {
		case types.DtDml:
			if item.Row == nil {
				continue
			}
			if p.canPartition != nil && item.Row.Type == types.RowUpdate {
				can, perr := p.canPartition(ctx, item.Row)
				if perr != nil {
					return rows, commitPosition, perr
				}
				if !can && len(rows) > 0 {
					p.pending = &item
					return rows, commitPosition, nil
				}
			}
			rows = append(rows, item.Row)
		case types.DtCommit:
			commitPosition = item.Position
		default:
			p.pending = &item
			return rows, commitPosition, nil
		}
	}
	return rows, commitPosition, nil
}

// drainRedis mirrors drainDML for the redis parallel_type's RedisEntry
// stream: spec.md section 4.9 applies the same batch_size/batch_sink_interval
// bound regardless of payload shape.
func (p *Pipeline) drainRedis(ctx context.Context) (entries []*types.RedisEntry, err error) {
	deadline := time.Now().Add(p.batchSinkInterval)
	for len(entries) < p.batchSize {
		if len(entries) > 0 && (p.buffer.IsEmpty() || time.Now().After(deadline)) {
			break
		}
		item, perr := p.next(ctx)
		if perr != nil {
			return entries, perr
		}
		switch item.Kind {
		case types.DtRedis:
			if item.Redis != nil {
				entries = append(entries, item.Redis)
			}
		case types.DtCommit:
			// Redis has no transactional position concept the pipeline
			// tracks separately; fold straight into received position.
			p.lastReceivedPosition = item.Position
		default:
			p.pending = &item
			return entries, nil
		}
	}
	return entries, nil
}
