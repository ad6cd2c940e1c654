// Package duckdb converts duckdb-go/v2 driver-scanned query values into the
// dialect-neutral types.ColValue. DuckDB's database/sql driver returns typed
// Go values (int64, float64, bool, string, time.Time, []byte) rather than
// the sql.RawBytes go-sql-driver/mysql hands back, so the dispatch-on-Kind
// shape follows pkg/adapt/mysql's FromNative but the per-kind coercions stay
// type-assertion based instead of byte-parsing based.
package duckdb

import (
	"fmt"
	"strconv"
	"time"

	"github.com/flowgate/dts/pkg/dtserr"
	"github.com/flowgate/dts/pkg/types"
)

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
		return types.NewTimestamp(asDateText(raw, "2006-01-02 15:04:05.999999")), nil

	case types.KindString:
		return types.NewString(asText(raw)), nil

	case types.KindBlob:
		return types.NewBlob(asBytes(raw)), nil

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

func asText(raw any) string {
	switch v := raw.(type) {
	case []byte:
		return string(v)
	case string:
		return v
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

func asDateText(raw any, layout string) string {
	if t, ok := raw.(time.Time); ok {
		return t.Format(layout)
	}
	return asText(raw)
}
