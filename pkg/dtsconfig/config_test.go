package dtsconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/flowgate/dts/pkg/dtserr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func writeTaskIni(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "task.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMySQLCdcToMySQL(t *testing.T) {
	path := writeTaskIni(t, `
[extractor]
db_type=mysql
extract_type=cdc
url=root:@tcp(127.0.0.1:3306)/
binlog_filename=binlog.000001
binlog_position=4
server_id=1234

[sinker]
db_type=mysql
sink_type=write
url=root:@tcp(127.0.0.1:3307)/
batch_size=500

[pipeline]
buffer_size=8000
parallel_size=8
parallel_type=rdb_merge
checkpoint_interval_secs=5

[filter]
do_dbs=test_db
do_tbs=test_db.*

[router]
db_map=test_db:dest_db
`)

	tc, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DbTypeMySQL, tc.Extractor.DbType)
	assert.Equal(t, ExtractCDC, tc.Extractor.ExtractType)
	assert.Equal(t, "binlog.000001", tc.Extractor.BinlogFilename)
	assert.Equal(t, uint32(4), tc.Extractor.BinlogPosition)
	assert.Equal(t, uint64(1234), tc.Extractor.ServerID)

	assert.Equal(t, DbTypeMySQL, tc.Sinker.DbType)
	assert.Equal(t, SinkWrite, tc.Sinker.SinkType)
	assert.Equal(t, 500, tc.Sinker.BatchSize)

	assert.Equal(t, 8000, tc.Pipeline.BufferSize)
	assert.Equal(t, 8, tc.Pipeline.ParallelSize)
	assert.Equal(t, ParallelRdbMerge, tc.Pipeline.ParallelType)
	assert.Equal(t, 5, tc.Pipeline.CheckpointIntervalSecs)

	assert.Equal(t, "test_db", tc.Filter.DoDBs)
	assert.Equal(t, "test_db.*", tc.Filter.DoTbs)
	assert.Equal(t, "test_db:dest_db", tc.Router.DbMap)
}

func TestLoadDefaults(t *testing.T) {
	path := writeTaskIni(t, `
[extractor]
db_type=pg
extract_type=snapshot
url=postgres://localhost/db

[sinker]
db_type=pg
sink_type=write
url=postgres://localhost/db2
`)

	tc, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1000, tc.Sinker.BatchSize)
	assert.Equal(t, 16000, tc.Pipeline.BufferSize)
	assert.Equal(t, 4, tc.Pipeline.ParallelSize)
	assert.Equal(t, "info", tc.Runtime.LogLevel)
	assert.False(t, tc.Runtime.LogJSON)
}

func TestLoadMissingExtractorRequiredFields(t *testing.T) {
	path := writeTaskIni(t, `
[sinker]
db_type=mysql
sink_type=write
url=root:@tcp(127.0.0.1:3307)/
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, dtserr.IsKind(err, dtserr.KindConfig))
}

func TestLoadMissingSinkerRequiredFields(t *testing.T) {
	path := writeTaskIni(t, `
[extractor]
db_type=mysql
extract_type=cdc
url=root:@tcp(127.0.0.1:3306)/
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, dtserr.IsKind(err, dtserr.KindConfig))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.ini"))
	require.Error(t, err)
	assert.True(t, dtserr.IsKind(err, dtserr.KindConfig))
}
