package dbconn

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 30, cfg.LockWaitTimeoutSecs)
	assert.Equal(t, 3, cfg.InnodbLockWaitTimeoutSecs)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestStmtHoldsQueryAndArgs(t *testing.T) {
	s := Stmt{Query: "UPDATE t SET a = ? WHERE id = ?", Args: []any{1, 2}}
	assert.Equal(t, "UPDATE t SET a = ? WHERE id = ?", s.Query)
	assert.Equal(t, []any{1, 2}, s.Args)
}
