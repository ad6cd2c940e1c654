package sinker

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/flowgate/dts/pkg/types"
)

// CheckLog writes the miss/diff check-log lines from spec.md section 6 to
// <dir>/miss.log and <dir>/diff.log: one line per record, of the form
// "<schema>,<tb>,<col1>,<len1>,<val1>,...", len=-1 marking NULL. Shared by
// every dialect's Checker sinker.
type CheckLog struct {
	mu       sync.Mutex
	missFile *os.File
	diffFile *os.File
}

func NewCheckLog(dir string) (*CheckLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	missFile, err := os.OpenFile(filepath.Join(dir, "miss.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	diffFile, err := os.OpenFile(filepath.Join(dir, "diff.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		missFile.Close()
		return nil, err
	}
	return &CheckLog{missFile: missFile, diffFile: diffFile}, nil
}

func (c *CheckLog) LogMiss(row *types.RowData, cols []string) error {
	return c.write(c.missFile, row, cols)
}

func (c *CheckLog) LogDiff(row *types.RowData, cols []string) error {
	return c.write(c.diffFile, row, cols)
}

func (c *CheckLog) write(f *os.File, row *types.RowData, cols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(f, formatCheckLine(row, cols))
	return err
}

func (c *CheckLog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.missFile.Close()
	if derr := c.diffFile.Close(); err == nil {
		err = derr
	}
	return err
}

// RowsEqual compares two column maps over cols, treating a missing column
// as None, matching BaseChecker::compare_row_data's column-by-column
// comparison.
func RowsEqual(src, dst map[string]types.ColValue, cols []string) bool {
	for _, c := range cols {
		if !colValue(src, c).Equal(colValue(dst, c)) {
			return false
		}
	}
	return true
}

func formatCheckLine(row *types.RowData, cols []string) string {
	src := identitySource(row)
	var b strings.Builder
	b.WriteString(row.Schema)
	b.WriteByte(',')
	b.WriteString(row.Tb)
	for _, c := range cols {
		v, ok := src[c]
		b.WriteByte(',')
		b.WriteString(c)
		b.WriteByte(',')
		if !ok || v.IsNone() {
			b.WriteString("-1,")
			continue
		}
		text := v.ToString()
		b.WriteString(strconv.Itoa(len(text)))
		b.WriteByte(',')
		b.WriteString(text)
	}
	return b.String()
}
