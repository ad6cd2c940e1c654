package types

// DtDataKind tags the variant carried by a DtData value (spec.md section 3:
// Dml | Ddl | Commit | Redis | Raw).
type DtDataKind uint8

const (
	DtDml DtDataKind = iota
	DtDdl
	DtCommit
	DtRedis
	DtRaw
)

// DdlData carries a DDL statement observed on the source, enough for the
// pipeline to invalidate TbMeta and run the statement serially on sinker 0.
type DdlData struct {
	Schema string
	Tb     string
	Query  string
	// Position is the extractor position at which this DDL was observed.
	Position string
}

// RedisEntry is an opaque record produced by the Redis RDB EntryParser or
// forwarded verbatim from the replication stream post-RDB. Byte-level RDB
// parsing is out of scope per spec.md section 1; EntryParser (see
// pkg/extractor/redis) is the seam.
type RedisEntry struct {
	DBIndex int
	// Cmd is set for a forwarded replication command (RESP-encoded
	// arguments); Key/Value/ValueType are set for an RDB-sourced entry.
	Cmd       []string
	Key       []byte
	Value     []byte
	ValueType string
}

// DtData is the unit of work pushed through the Buffer. Exactly one of the
// accompanying fields is meaningful depending on Kind, mirroring the Rust
// enum's variants without virtual dispatch.
type DtData struct {
	Kind DtDataKind

	Row    *RowData
	Ddl    *DdlData
	Redis  *RedisEntry
	Raw    []byte

	// Xid and Position are populated for DtCommit: Position is the commit
	// position, i.e. the value that becomes checkpoint_position once
	// observed (spec.md section 4.9, Scenario F).
	Xid      uint64
	Position string
}

func NewDmlData(row *RowData) DtData { return DtData{Kind: DtDml, Row: row} }
func NewDdlData(ddl *DdlData) DtData { return DtData{Kind: DtDdl, Ddl: ddl} }
func NewCommitData(xid uint64, position string) DtData {
	return DtData{Kind: DtCommit, Xid: xid, Position: position}
}
func NewRedisData(entry *RedisEntry) DtData { return DtData{Kind: DtRedis, Redis: entry} }
func NewRawData(raw []byte) DtData          { return DtData{Kind: DtRaw, Raw: raw} }

// DataSize approximates the byte weight of this item for buffer accounting.
func (d DtData) DataSize() int {
	switch d.Kind {
	case DtDml:
		if d.Row != nil {
			return d.Row.DataSize
		}
		return 0
	case DtDdl:
		if d.Ddl != nil {
			return len(d.Ddl.Query)
		}
		return 0
	case DtRedis:
		if d.Redis != nil {
			return len(d.Redis.Key) + len(d.Redis.Value)
		}
		return 0
	case DtRaw:
		return len(d.Raw)
	default:
		return 0
	}
}
