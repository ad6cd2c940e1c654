package mysql

import (
	"context"
	"fmt"
	"time"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"

	adaptmysql "github.com/flowgate/dts/pkg/adapt/mysql"
	"github.com/flowgate/dts/pkg/buffer"
	"github.com/flowgate/dts/pkg/dtserr"
	"github.com/flowgate/dts/pkg/filter"
	"github.com/flowgate/dts/pkg/meta"
	metamysql "github.com/flowgate/dts/pkg/meta/mysql"
	"github.com/flowgate/dts/pkg/types"
)

// CdcExtractor streams binlog events via a raw replication.BinlogSyncer (not
// canal's higher-level wrapper) so the table_id -> TableMapEvent bookkeeping
// and the reverse-order column walk stay explicit, matching spec.md section
// 4.2.3's state machine and original_source's mysql_cdc_extractor.rs almost
// line for line.
type CdcExtractor struct {
	metaManager *metamysql.MetaManager
	buf         *buffer.Buffer
	filter      *filter.Filter
	logger      *logrus.Entry

	Host, User, Password string
	Port                 uint16
	ServerID             uint32
	BinlogFilename       string
	BinlogPosition       uint32

	// OnDDL, if set, receives the DdlData (schema, query, position) for every
	// observed QueryEvent that is not a transaction-control statement, so the
	// pipeline can invalidate
	// TbMeta (spec.md section 4.3).
	OnDDL func(ddl *types.DdlData)

	syncer *replication.BinlogSyncer
}

func NewCdcExtractor(metaManager *metamysql.MetaManager, buf *buffer.Buffer, flt *filter.Filter, logger *logrus.Entry) *CdcExtractor {
	return &CdcExtractor{metaManager: metaManager, buf: buf, filter: flt, logger: logger}
}

// Extract connects and streams until ctx is canceled or a fatal error is
// observed (spec.md's "CDC extractors only set shut_down on fatal error").
func (e *CdcExtractor) Extract(ctx context.Context) error {
	cfg := replication.BinlogSyncerConfig{
		ServerID: e.ServerID,
		Flavor:   "mysql",
		Host:     e.Host,
		Port:     e.Port,
		User:     e.User,
		Password: e.Password,
	}
	e.syncer = replication.NewBinlogSyncer(cfg)
	defer e.syncer.Close()

	pos := gomysql.Position{Name: e.BinlogFilename, Pos: e.BinlogPosition}
	streamer, err := e.syncer.StartSync(pos)
	if err != nil {
		return dtserr.Connection("start binlog sync from "+pos.String(), err)
	}

	tableMapEventMap := make(map[uint64]*replication.TableMapEvent)
	binlogFilename := e.BinlogFilename

	for {
		ev, err := streamer.GetEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return dtserr.Protocol("read binlog event", err)
		}

		switch data := ev.Event.(type) {
		case *replication.RotateEvent:
			binlogFilename = string(data.NextLogName)

		case *replication.TableMapEvent:
			tableMapEventMap[data.TableID] = data

		case *replication.RowsEvent:
			if err := e.handleRowsEvent(ctx, ev.Header, data, binlogFilename, tableMapEventMap); err != nil {
				return err
			}

		case *replication.XIDEvent:
			position := formatPosition(binlogFilename, ev.Header.LogPos, ev.Header.Timestamp)
			if err := e.buf.Push(ctx, types.NewCommitData(data.XID, position)); err != nil {
				return err
			}

		case *replication.QueryEvent:
			if e.OnDDL != nil && isDDL(string(data.Query)) {
				ddl := &types.DdlData{
					Schema:   string(data.Schema),
					Query:    string(data.Query),
					Position: formatPosition(binlogFilename, ev.Header.LogPos, ev.Header.Timestamp),
				}
				e.OnDDL(ddl)
			}
		}
	}
}

func (e *CdcExtractor) Close() {
	if e.syncer != nil {
		e.syncer.Close()
	}
}

func (e *CdcExtractor) handleRowsEvent(ctx context.Context, header *replication.EventHeader, ev *replication.RowsEvent, binlogFilename string, tableMapEventMap map[uint64]*replication.TableMapEvent) error {
	tme, ok := tableMapEventMap[ev.TableID]
	if !ok {
		return dtserr.Protocol(fmt.Sprintf("missing TableMap for table_id %d", ev.TableID), nil)
	}
	schema := string(tme.Schema)
	tb := string(tme.Table)
	if e.filter.FilterTb(schema, tb) {
		return nil
	}

	tm, err := e.metaManager.GetTbMeta(ctx, schema, tb)
	if err != nil {
		return err
	}
	position := formatPosition(binlogFilename, header.LogPos, header.Timestamp)

	switch header.EventType {
	case replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		if e.filter.FilterEvent(schema, tb, types.RowInsert) {
			return nil
		}
		for _, row := range ev.Rows {
			after, err := e.parseRow(tm, ev.ColumnBitmap1, row)
			if err != nil {
				return err
			}
			rd := types.NewInsertRow(schema, tb, after, position)
			if err := e.buf.Push(ctx, types.NewDmlData(rd)); err != nil {
				return err
			}
		}

	case replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		if e.filter.FilterEvent(schema, tb, types.RowDelete) {
			return nil
		}
		for _, row := range ev.Rows {
			before, err := e.parseRow(tm, ev.ColumnBitmap1, row)
			if err != nil {
				return err
			}
			rd := types.NewDeleteRow(schema, tb, before, position)
			if err := e.buf.Push(ctx, types.NewDmlData(rd)); err != nil {
				return err
			}
		}

	case replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		if e.filter.FilterEvent(schema, tb, types.RowUpdate) {
			return nil
		}
		for i := 0; i+1 < len(ev.Rows); i += 2 {
			before, err := e.parseRow(tm, ev.ColumnBitmap1, ev.Rows[i])
			if err != nil {
				return err
			}
			after, err := e.parseRow(tm, ev.ColumnBitmap2, ev.Rows[i+1])
			if err != nil {
				return err
			}
			rd := types.NewUpdateRow(schema, tb, before, after, position)
			if err := e.buf.Push(ctx, types.NewDmlData(rd)); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseRow walks tm.Cols in reverse, matching spec.md section 4.2.3's
// "iterate columns in reverse order consuming values from the event's
// column list" (the Go driver already gives us a fully materialized []any
// per row rather than a mutable buffer to drain, so reverse iteration here
// only preserves the documented column-skip semantics, not a destructive
// pop).
func (e *CdcExtractor) parseRow(tm *meta.TbMeta, includedBitmap []byte, row []any) (map[string]types.ColValue, error) {
	if len(row) == 0 {
		return map[string]types.ColValue{}, nil
	}
	data := make(map[string]types.ColValue, len(tm.Cols))
	valueIdx := len(row) - 1
	for i := len(tm.Cols) - 1; i >= 0; i-- {
		col := tm.Cols[i]
		if !bitSet(includedBitmap, i) {
			data[col] = types.None()
			continue
		}
		if valueIdx < 0 {
			return nil, dtserr.ColumnMismatch(fmt.Sprintf("column count mismatch for %s.%s", tm.Schema, tm.Tb), nil)
		}
		ct := tm.ColTypeMap[col]
		v, err := adaptmysql.FromNative(ct, row[valueIdx])
		if err != nil {
			return nil, err
		}
		data[col] = v
		valueIdx--
	}
	return data, nil
}

func bitSet(bitmap []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<uint(i%8)) != 0
}

// formatPosition renders the checkpoint position string spec.md section 6
// mandates: the binlog event timestamp (seconds since epoch on the wire) as
// an ISO8601 string with millisecond precision, not a raw epoch-ms integer.
func formatPosition(binlogFilename string, logPos uint32, timestamp uint32) string {
	ts := time.Unix(int64(timestamp), 0).UTC().Format("2006-01-02T15:04:05.000Z")
	return fmt.Sprintf("binlog_filename:%s,next_event_position:%d,timestamp:%s", binlogFilename, logPos, ts)
}

// isDDL filters out transaction-control statements (BEGIN/COMMIT emitted as
// QueryEvent under some isolation levels) from genuine DDL, matching the
// teacher's own ALTER-statement inspection in pkg/utils.
func isDDL(query string) bool {
	switch query {
	case "BEGIN", "COMMIT", "ROLLBACK":
		return false
	default:
		return len(query) > 0
	}
}
