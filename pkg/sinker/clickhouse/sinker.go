// Package clickhouse implements the ClickHouse sinker from spec.md section
// 4.8: rows land through HTTP stream-load ("INSERT INTO db.tb FORMAT JSON"),
// not a SQL driver, so there is no parameterized-query path to share with
// pkg/sinker/mysql or pkg/sinker/pg. Grounded on
// original_source/dt-connector/src/sinker/clickhouse/clickhouse_sinker.rs.
package clickhouse

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/flowgate/dts/pkg/dtserr"
	"github.com/flowgate/dts/pkg/sinker"
	"github.com/flowgate/dts/pkg/types"
)

// signCol/versionCol use spec.md's column naming for the soft-delete marker
// and the monotonic ordering column; the grounding file names the latter
// "_ape_dts_timestamp" but spec.md calls it "_ape_dts_version", so the name
// below follows spec.md while the max(now_ms, last+1) computation it guards
// is unchanged from the grounding.
const (
	signCol    = "_ape_dts_is_deleted"
	versionCol = "_ape_dts_version"
)

// Sinker streams batches to ClickHouse via its HTTP stream-load interface.
// Every Delete is represented as a soft-delete: the row is sent with
// signCol=1 rather than physically removed, matching the grounding file
// (this dialect has no "__op=delete" escape hatch the way StarRocks does).
type Sinker struct {
	httpClient *http.Client
	host, port string
	username, password string
	batchSize  int
	syncVersion int64
	logger     *logrus.Entry
}

func New(host, port, username, password string, batchSize int, logger *logrus.Entry) *Sinker {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Sinker{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		host:       host,
		port:       port,
		username:   username,
		password:   password,
		batchSize:  batchSize,
		logger:     logger,
	}
}

var _ sinker.Sinker = (*Sinker)(nil)

func (s *Sinker) Close() error { return nil }

// SinkDML ignores the batched flag: stream-load is a bulk HTTP load
// regardless of whether the caller asked for row-at-a-time semantics, so
// every call is chunked into batchSize-sized stream-load requests, matching
// the grounding file's unconditional call_batch_fn! dispatch.
func (s *Sinker) SinkDML(ctx context.Context, batch []*types.RowData, batched bool) error {
	if len(batch) == 0 {
		return nil
	}
	for start := 0; start < len(batch); start += s.batchSize {
		end := min(start+s.batchSize, len(batch))
		if err := s.sendData(ctx, batch[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sinker) sendData(ctx context.Context, chunk []*types.RowData) error {
	db, tb := chunk[0].Schema, chunk[0].Tb
	s.syncVersion = max(time.Now().UnixMilli(), s.syncVersion+1)

	loadData := make([]map[string]any, 0, len(chunk))
	for _, row := range chunk {
		cols := row.After
		if row.Type == types.RowDelete {
			cols = cloneWithSign(row.Before)
		}
		out := make(map[string]any, len(cols)+1)
		for col, v := range cols {
			out[col] = toJSONValue(v)
		}
		out[versionCol] = s.syncVersion
		loadData = append(loadData, out)
	}

	body, err := json.Marshal(loadData)
	if err != nil {
		return dtserr.Conversion("marshal clickhouse stream load body for "+db+"."+tb, err)
	}

	url := fmt.Sprintf("http://%s:%s/?query=INSERT INTO %s.%s FORMAT JSON", s.host, s.port, db, tb)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return dtserr.Sink("build clickhouse stream load request for "+db+"."+tb, err)
	}
	if s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return dtserr.Sink("clickhouse stream load "+db+"."+tb, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return dtserr.Sink(fmt.Sprintf("clickhouse stream load %s.%s failed, status=%d body=%s", db, tb, resp.StatusCode, respBody), nil)
	}
	return nil
}

// cloneWithSign returns a copy of before with signCol set to 1, leaving the
// caller's row untouched (unlike the grounding file, which mutates the row
// in place since it owns the batch exclusively).
func cloneWithSign(before map[string]types.ColValue) map[string]types.ColValue {
	out := make(map[string]types.ColValue, len(before)+1)
	for k, v := range before {
		out[k] = v
	}
	out[signCol] = types.NewInt64(1)
	return out
}

// toJSONValue converts a column value to a JSON-marshalable value. Native()
// returns []byte for RawString/Blob, which json.Marshal would base64-encode;
// the grounding file instead renders binary as a hex string (valid UTF-8
// RawString passes through as text, everything else gets a "0x" prefix).
func toJSONValue(v types.ColValue) any {
	switch v.Kind {
	case types.KindRawString:
		raw, _ := v.Bytes()
		if utf8.Valid(raw) {
			return string(raw)
		}
		return "0x" + hex.EncodeToString(raw)
	case types.KindBlob:
		raw, _ := v.Bytes()
		return "0x" + hex.EncodeToString(raw)
	default:
		return v.Native()
	}
}

