package sinker

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/flowgate/dts/pkg/meta"
	"github.com/flowgate/dts/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func backtickQuote(ident string) string { return "`" + ident + "`" }
func questionPlaceholder(int) string    { return "?" }
func dollarPlaceholder(n int) string    { return fmt.Sprintf("$%d", n) }

func keyedTbMeta() *meta.TbMeta {
	return &meta.TbMeta{
		Schema: "db", Tb: "t",
		Cols:   []string{"id", "big_blob", "v"},
		IDCols: []string{"id"},
	}
}

// A column whose After value is UnchangedToast is omitted from the UPDATE's
// SET clause entirely, not bound as NULL — the defect spec.md's Scenario E
// calls out.
func TestUpdateQueryOmitsUnchangedToastColumn(t *testing.T) {
	b := NewQueryBuilder(keyedTbMeta(), backtickQuote, questionPlaceholder)
	row := types.NewUpdateRow("db", "t",
		map[string]types.ColValue{"id": types.NewInt64(1), "big_blob": types.NewBlob([]byte("x")), "v": types.NewInt64(10)},
		map[string]types.ColValue{"id": types.NewInt64(1), "big_blob": types.UnchangedToast(), "v": types.NewInt64(20)},
		"pos-1",
	)

	sql, binds := b.UpdateQuery("", row)

	assert.NotContains(t, sql, "`big_blob`")
	assert.Contains(t, sql, "`v`=?")
	assert.Contains(t, sql, "`id`=?")
	// SET binds (id, v; big_blob skipped), then the WHERE bind (id).
	require.Len(t, binds, 3)
	assert.Equal(t, int64(1), binds[0])
	assert.Equal(t, int64(20), binds[1])
	assert.Equal(t, int64(1), binds[2])
}

// A real NULL (None), as opposed to UnchangedToast, is still included in the
// SET clause and bound as NULL via Native().
func TestUpdateQueryBindsRealNullColumn(t *testing.T) {
	b := NewQueryBuilder(keyedTbMeta(), backtickQuote, questionPlaceholder)
	row := types.NewUpdateRow("db", "t",
		map[string]types.ColValue{"id": types.NewInt64(1), "big_blob": types.NewBlob([]byte("x")), "v": types.NewInt64(10)},
		map[string]types.ColValue{"id": types.NewInt64(1), "big_blob": types.None(), "v": types.NewInt64(20)},
		"pos-1",
	)

	sql, binds := b.UpdateQuery("", row)

	assert.Contains(t, sql, "`big_blob`=?")
	// SET binds in Cols order (id, big_blob, v), then the WHERE bind (id).
	require.Len(t, binds, 4)
	assert.Equal(t, int64(1), binds[0])
	assert.Nil(t, binds[1])
	assert.Equal(t, int64(20), binds[2])
	assert.Equal(t, int64(1), binds[3])
}

// With the TOASTed column skipped from SET, the $N placeholder counter
// continues from the SET clause into the WHERE clause on the identity column.
func TestUpdateQueryWithDollarPlaceholdersThreadsCounterThroughWhere(t *testing.T) {
	b := NewQueryBuilder(keyedTbMeta(), backtickQuote, dollarPlaceholder)
	row := types.NewUpdateRow("db", "t",
		map[string]types.ColValue{"id": types.NewInt64(1), "big_blob": types.NewBlob([]byte("x")), "v": types.NewInt64(10)},
		map[string]types.ColValue{"id": types.NewInt64(1), "big_blob": types.UnchangedToast(), "v": types.NewInt64(20)},
		"pos-1",
	)

	sql, binds := b.UpdateQuery("", row)

	// Two SET binds ($1, $2) then the WHERE bind ($3); big_blob never
	// consumes a placeholder number.
	assert.Contains(t, sql, "$1")
	assert.Contains(t, sql, "$2")
	assert.Contains(t, sql, "WHERE `id`=$3")
	require.Len(t, binds, 3)
}
