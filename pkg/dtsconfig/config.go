// Package dtsconfig parses the INI task configuration from spec.md section
// 6, grounded on original_source/dt-common/src/config/task_config.rs (same
// section layout, same field names) but using gopkg.in/ini.v1 as the Go
// equivalent of the source's configparser::ini.
package dtsconfig

import (
	"strings"

	"gopkg.in/ini.v1"

	"github.com/flowgate/dts/pkg/dtserr"
)

type DbType string

const (
	DbTypeMySQL      DbType = "mysql"
	DbTypePostgres   DbType = "pg"
	DbTypeMongo      DbType = "mongo"
	DbTypeRedis      DbType = "redis"
	DbTypeClickHouse DbType = "clickhouse"
	DbTypeStarRocks  DbType = "starrocks"
	DbTypeDuckDB     DbType = "duckdb"
)

type ExtractType string

const (
	ExtractSnapshot ExtractType = "snapshot"
	ExtractCDC      ExtractType = "cdc"
	ExtractCheckLog ExtractType = "check_log"
	ExtractStruct   ExtractType = "struct"
)

type SinkType string

const (
	SinkWrite  SinkType = "write"
	SinkCheck  SinkType = "check"
	SinkStruct SinkType = "struct"
)

type ParallelType string

const (
	ParallelSnapshot ParallelType = "snapshot"
	ParallelRdbMerge ParallelType = "rdb_merge"
	ParallelSerial   ParallelType = "serial"
	ParallelMongo    ParallelType = "mongo"
	ParallelRedis    ParallelType = "redis"
)

// ExtractorConfig mirrors spec.md section 6's [extractor] section.
type ExtractorConfig struct {
	DbType      DbType
	ExtractType ExtractType
	URL         string

	// MySQL CDC
	BinlogFilename string
	BinlogPosition uint32
	ServerID       uint64

	// PostgreSQL CDC
	SlotName              string
	StartLSN              string
	HeartbeatIntervalSecs uint64

	// check_log
	CheckLogDir string
	BatchSize   int
}

// SinkerConfig mirrors spec.md section 6's [sinker] section.
type SinkerConfig struct {
	DbType      DbType
	SinkType    SinkType
	URL         string
	BatchSize   int
	CheckLogDir string
}

// PipelineConfig mirrors spec.md section 6's [pipeline] section.
type PipelineConfig struct {
	BufferSize             int
	ParallelSize           int
	ParallelType           ParallelType
	CheckpointIntervalSecs int
	BatchSinkIntervalSecs  int
}

// RuntimeConfig mirrors spec.md section 6's [runtime] section: log level and
// output, left intentionally thin — log4rs-style logging initialization is
// out of scope per spec.md section 1, so this only carries what pkg/logutil
// needs.
type RuntimeConfig struct {
	LogLevel string
	LogJSON  bool
}

// FilterConfig mirrors spec.md section 6's [filter] section.
type FilterConfig struct {
	DoDBs     string
	IgnoreDBs string
	DoTbs     string
	IgnoreTbs string
	DoEvents  string
}

// RouterConfig mirrors spec.md section 6's [router] section.
type RouterConfig struct {
	DbMap string
	TbMap string
}

// TaskConfig is the aggregate loaded from one INI file.
type TaskConfig struct {
	Extractor ExtractorConfig
	Sinker    SinkerConfig
	Pipeline  PipelineConfig
	Runtime   RuntimeConfig
	Filter    FilterConfig
	Router    RouterConfig
}

// Load parses path into a validated TaskConfig, or returns a
// dtserr.KindConfig error (spec.md section 7: "Filter/config errors: fatal
// at startup").
func Load(path string) (*TaskConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, dtserr.Config("load ini file "+path, err)
	}
	tc := &TaskConfig{}
	if err := loadExtractor(cfg, tc); err != nil {
		return nil, err
	}
	if err := loadSinker(cfg, tc); err != nil {
		return nil, err
	}
	loadPipeline(cfg, tc)
	loadRuntime(cfg, tc)
	loadFilter(cfg, tc)
	loadRouter(cfg, tc)
	return tc, nil
}

func loadExtractor(cfg *ini.File, tc *TaskConfig) error {
	sec := cfg.Section("extractor")
	tc.Extractor.DbType = DbType(strings.ToLower(sec.Key("db_type").String()))
	tc.Extractor.ExtractType = ExtractType(strings.ToLower(sec.Key("extract_type").String()))
	tc.Extractor.URL = sec.Key("url").String()
	if tc.Extractor.DbType == "" || tc.Extractor.ExtractType == "" {
		return dtserr.Config("extractor.db_type and extractor.extract_type are required", nil)
	}

	tc.Extractor.BinlogFilename = sec.Key("binlog_filename").String()
	tc.Extractor.BinlogPosition = uint32(sec.Key("binlog_position").MustUint(0))
	tc.Extractor.ServerID = uint64(sec.Key("server_id").MustInt64(0))

	tc.Extractor.SlotName = sec.Key("slot_name").String()
	tc.Extractor.StartLSN = sec.Key("start_lsn").String()
	tc.Extractor.HeartbeatIntervalSecs = uint64(sec.Key("heartbeat_interval_secs").MustInt64(10))

	tc.Extractor.CheckLogDir = sec.Key("check_log_dir").String()
	tc.Extractor.BatchSize = sec.Key("batch_size").MustInt(1000)
	return nil
}

func loadSinker(cfg *ini.File, tc *TaskConfig) error {
	sec := cfg.Section("sinker")
	tc.Sinker.DbType = DbType(strings.ToLower(sec.Key("db_type").String()))
	tc.Sinker.SinkType = SinkType(strings.ToLower(sec.Key("sink_type").String()))
	tc.Sinker.URL = sec.Key("url").String()
	if tc.Sinker.DbType == "" || tc.Sinker.SinkType == "" {
		return dtserr.Config("sinker.db_type and sinker.sink_type are required", nil)
	}
	tc.Sinker.BatchSize = sec.Key("batch_size").MustInt(1000)
	tc.Sinker.CheckLogDir = sec.Key("check_log_dir").String()
	return nil
}

func loadPipeline(cfg *ini.File, tc *TaskConfig) {
	sec := cfg.Section("pipeline")
	tc.Pipeline.BufferSize = sec.Key("buffer_size").MustInt(16000)
	tc.Pipeline.ParallelSize = sec.Key("parallel_size").MustInt(4)
	tc.Pipeline.ParallelType = ParallelType(strings.ToLower(sec.Key("parallel_type").MustString(string(ParallelRdbMerge))))
	tc.Pipeline.CheckpointIntervalSecs = sec.Key("checkpoint_interval_secs").MustInt(10)
	tc.Pipeline.BatchSinkIntervalSecs = sec.Key("batch_sink_interval_secs").MustInt(1)
}

func loadRuntime(cfg *ini.File, tc *TaskConfig) {
	sec := cfg.Section("runtime")
	tc.Runtime.LogLevel = sec.Key("log_level").MustString("info")
	tc.Runtime.LogJSON = sec.Key("log_json").MustBool(false)
}

func loadFilter(cfg *ini.File, tc *TaskConfig) {
	sec := cfg.Section("filter")
	tc.Filter.DoDBs = sec.Key("do_dbs").String()
	tc.Filter.IgnoreDBs = sec.Key("ignore_dbs").String()
	tc.Filter.DoTbs = sec.Key("do_tbs").String()
	tc.Filter.IgnoreTbs = sec.Key("ignore_tbs").String()
	tc.Filter.DoEvents = sec.Key("do_events").String()
}

func loadRouter(cfg *ini.File, tc *TaskConfig) {
	sec := cfg.Section("router")
	tc.Router.DbMap = sec.Key("db_map").String()
	tc.Router.TbMap = sec.Key("tb_map").String()
}
