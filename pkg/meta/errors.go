package meta

import (
	"fmt"

	"github.com/flowgate/dts/pkg/dtserr"
)

// ErrEmptyColumns is the hard MetadataError spec.md section 4.3 mandates
// when a table resolves to zero columns.
func ErrEmptyColumns(schema, tb string) error {
	return dtserr.Metadata(fmt.Sprintf("table %s.%s has no columns", schema, tb), nil)
}
