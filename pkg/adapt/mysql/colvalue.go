// Package mysql converts MySQL-native values — both decoded binlog row
// values (github.com/go-mysql-org/go-mysql/replication) and driver-scanned
// query values (github.com/go-sql-driver/mysql) — into the dialect-neutral
// types.ColValue, grounded on
// original_source/ape-dts/src/meta/adaptor/mysql_col_value_convertor.rs.
package mysql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowgate/dts/pkg/dtserr"
	"github.com/flowgate/dts/pkg/types"
)

// FromNative converts a single decoded value (from either a binlog row event
// or a database/sql row scan) to a ColValue, dispatching on the column's
// resolved Kind. A nil raw value always yields types.None() regardless of
// kind, matching MySQL NULL semantics for both paths.
func FromNative(ct types.ColType, raw any) (types.ColValue, error) {
	if raw == nil {
		return types.None(), nil
	}

	switch ct.Kind {
	case types.KindInt8, types.KindInt16, types.KindInt32, types.KindInt64:
		v, err := asInt64(raw)
		if err != nil {
			return types.ColValue{}, err
		}
		switch ct.Kind {
		case types.KindInt8:
			return types.NewInt8(int8(v)), nil
		case types.KindInt16:
			return types.NewInt16(int16(v)), nil
		case types.KindInt32:
			return types.NewInt32(int32(v)), nil
		default:
			return types.NewInt64(v), nil
		}

	case types.KindUint8, types.KindUint16, types.KindUint32, types.KindUint64:
		v, err := asUint64(raw)
		if err != nil {
			return types.ColValue{}, err
		}
		switch ct.Kind {
		case types.KindUint8:
			return types.NewUint8(uint8(v)), nil
		case types.KindUint16:
			return types.NewUint16(uint16(v)), nil
		case types.KindUint32:
			return types.NewUint32(uint32(v)), nil
		default:
			return types.NewUint64(v), nil
		}

	case types.KindBool:
		switch v := raw.(type) {
		case bool:
			return types.NewBool(v), nil
		case int64:
			return types.NewBool(v != 0), nil
		case int8:
			return types.NewBool(v != 0), nil
		default:
			n, err := asInt64(raw)
			if err != nil {
				return types.ColValue{}, err
			}
			return types.NewBool(n != 0), nil
		}

	case types.KindFloat:
		v, err := asFloat64(raw)
		if err != nil {
			return types.ColValue{}, err
		}
		return types.NewFloat(float32(v)), nil

	case types.KindDouble:
		v, err := asFloat64(raw)
		if err != nil {
			return types.ColValue{}, err
		}
		return types.NewDouble(v), nil

	case types.KindDecimal:
		return types.NewDecimal(asText(raw)), nil

	case types.KindDate:
		return types.NewDate(asDateText(raw, "2006-01-02")), nil

	case types.KindTime:
		return types.NewTime(asText(raw)), nil

	case types.KindDateTime:
		return types.NewDateTime(asDateText(raw, "2006-01-02 15:04:05")), nil

	case types.KindTimestamp:
		return types.NewTimestamp(asUTCText(raw)), nil

	case types.KindYear:
		v, err := asUint64(raw)
		if err != nil {
			return types.ColValue{}, err
		}
		return types.NewYear(uint16(v)), nil

	case types.KindString:
		return types.NewString(asText(raw)), nil

	case types.KindBlob:
		return types.NewBlob(asBytes(raw)), nil

	case types.KindBit:
		v, err := asUint64(raw)
		if err != nil {
			return types.ColValue{}, err
		}
		return types.NewBit(v), nil

	case types.KindEnum2:
		return types.NewEnum2(asText(raw)), nil

	case types.KindSet2:
		return types.NewSet2(asText(raw)), nil

	case types.KindJSON2:
		return types.NewJSON2(asText(raw)), nil

	default:
		return types.NewString(asText(raw)), nil
	}
}

func asInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, dtserr.Conversion("parse int from bytes "+string(v), err)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, dtserr.Conversion("parse int from string "+v, err)
		}
		return n, nil
	default:
		return 0, dtserr.Conversion(fmt.Sprintf("unsupported int source type %T", raw), nil)
	}
}

func asUint64(raw any) (uint64, error) {
	switch v := raw.(type) {
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case int64:
		return uint64(v), nil
	case []byte:
		n, err := strconv.ParseUint(string(v), 10, 64)
		if err != nil {
			return 0, dtserr.Conversion("parse uint from bytes "+string(v), err)
		}
		return n, nil
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, dtserr.Conversion("parse uint from string "+v, err)
		}
		return n, nil
	default:
		return 0, dtserr.Conversion(fmt.Sprintf("unsupported uint source type %T", raw), nil)
	}
}

func asFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case []byte:
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return 0, dtserr.Conversion("parse float from bytes "+string(v), err)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, dtserr.Conversion("parse float from string "+v, err)
		}
		return f, nil
	default:
		return 0, dtserr.Conversion(fmt.Sprintf("unsupported float source type %T", raw), nil)
	}
}

// asText renders raw losslessly as text, covering the decimal.Decimal form
// go-mysql-org returns for NEWDECIMAL columns when UseDecimal is enabled.
func asText(raw any) string {
	switch v := raw.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	case decimal.Decimal:
		return v.String()
	case time.Time:
		return v.Format("2006-01-02 15:04:05.999999")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asBytes(raw any) []byte {
	switch v := raw.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}

// asDateText trims a time.Time to layout, or passes through a textual form
// verbatim (binlog rows that aren't parsed into time.Time arrive as
// []byte/string already in MySQL's canonical format).
func asDateText(raw any, layout string) string {
	if t, ok := raw.(time.Time); ok {
		return t.Format(layout)
	}
	return strings.TrimSpace(asText(raw))
}

// asUTCText normalizes a TIMESTAMP value to UTC text, per spec.md's
// requirement that Timestamp.s is always UTC-canonicalized by the adaptor.
// A textual source (binlog row not parsed to time.Time) passes through
// unchanged; the snapshot/CDC extractors set no session time zone, so such
// text is not converted to UTC here.
func asUTCText(raw any) string {
	if t, ok := raw.(time.Time); ok {
		return t.UTC().Format("2006-01-02 15:04:05.999999")
	}
	return strings.TrimSpace(asText(raw))
}
