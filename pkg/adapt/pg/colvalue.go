// Package pg converts PostgreSQL-native values — both pgx-decoded query
// values and the textual TupleData column data carried by logical
// replication's pgoutput protocol — into the dialect-neutral types.ColValue,
// grounded on
// original_source/dt-meta/src/adaptor/pg_col_value_convertor.rs.
package pg

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/flowgate/dts/pkg/dtserr"
	"github.com/flowgate/dts/pkg/types"
)

// FromQuery converts a value already decoded by pgx (from a snapshot SELECT)
// to a ColValue. pgx returns Go-native types for the built-ins (int32, int64,
// float32/64, bool, string, []byte, time.Time, ...); anything else is
// rendered through fmt, matching the source's catch-all "cast to text"
// fallback for unrecognized/user-defined/array types.
func FromQuery(ct types.ColType, raw any) (types.ColValue, error) {
	if raw == nil {
		return types.None(), nil
	}
	switch ct.Kind {
	case types.KindBool:
		if v, ok := raw.(bool); ok {
			return types.NewBool(v), nil
		}
		return types.NewBool(strings.EqualFold(fmt.Sprintf("%v", raw), "t") || fmt.Sprintf("%v", raw) == "true"), nil

	case types.KindInt16:
		v, err := asInt64(raw)
		if err != nil {
			return types.ColValue{}, err
		}
		return types.NewInt16(int16(v)), nil

	case types.KindInt32:
		v, err := asInt64(raw)
		if err != nil {
			return types.ColValue{}, err
		}
		return types.NewInt32(int32(v)), nil

	case types.KindInt64:
		v, err := asInt64(raw)
		if err != nil {
			return types.ColValue{}, err
		}
		return types.NewInt64(v), nil

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

	case types.KindBlob:
		return types.NewBlob(asBytes(raw)), nil

	case types.KindDecimal:
		// PostgreSQL numeric "NaN" (any letter case) is canonicalized to the
		// Decimal text "NaN"; it stays a Decimal and is not converted to a
		// floating-point NaN. FromText does the same.
		text := asText(raw)
		if strings.EqualFold(text, "nan") {
			return types.NewDecimal("NaN"), nil
		}
		return types.NewDecimal(text), nil

	case types.KindTimestamp:
		return types.NewTimestamp(asUTCText(raw)), nil

	case types.KindDateTime:
		return types.NewDateTime(asText(raw)), nil

	case types.KindDate:
		return types.NewDate(asText(raw)), nil

	case types.KindTime:
		return types.NewTime(asText(raw)), nil

	case types.KindJSON2:
		return types.NewJSON2(asText(raw)), nil

	case types.KindString:
		return types.NewString(asText(raw)), nil

	default:
		return types.NewString(asText(raw)), nil
	}
}

// FromText converts a textual column value exactly as it arrives embedded in
// a pgoutput TupleData 't' field (logical replication) — every value there
// is already the server's text-output form, mirroring from_wal/from_str in
// the source.
func FromText(ct types.ColType, text string) (types.ColValue, error) {
	switch ct.Kind {
	case types.KindBool:
		return types.NewBool(strings.EqualFold(text, "t") || strings.EqualFold(text, "true")), nil

	case types.KindInt16:
		v, err := strconv.ParseInt(text, 10, 16)
		if err != nil {
			return types.ColValue{}, dtserr.Conversion("parse int2 "+text, err)
		}
		return types.NewInt16(int16(v)), nil

	case types.KindInt32:
		v, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return types.ColValue{}, dtserr.Conversion("parse int4 "+text, err)
		}
		return types.NewInt32(int32(v)), nil

	case types.KindInt64:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return types.ColValue{}, dtserr.Conversion("parse int8 "+text, err)
		}
		return types.NewInt64(v), nil

	case types.KindFloat:
		v, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return types.ColValue{}, dtserr.Conversion("parse float4 "+text, err)
		}
		return types.NewFloat(float32(v)), nil

	case types.KindDouble:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return types.ColValue{}, dtserr.Conversion("parse float8 "+text, err)
		}
		return types.NewDouble(v), nil

	case types.KindBlob:
		// bytea arrives hex-encoded with a leading "\x" in text output.
		return types.NewBlob(decodeBytea(text)), nil

	case types.KindDecimal:
		if strings.EqualFold(text, "nan") {
			return types.NewDecimal("NaN"), nil
		}
		return types.NewDecimal(text), nil

	case types.KindTimestamp:
		return types.NewTimestamp(text), nil

	case types.KindDateTime:
		return types.NewDateTime(text), nil

	case types.KindDate:
		return types.NewDate(text), nil

	case types.KindTime:
		return types.NewTime(text), nil

	case types.KindJSON2:
		return types.NewJSON2(text), nil

	default:
		return types.NewString(text), nil
	}
}

func decodeBytea(text string) []byte {
	trimmed := strings.TrimPrefix(text, "\\x")
	if trimmed == text {
		return []byte(text)
	}
	out := make([]byte, 0, len(trimmed)/2)
	for i := 0; i+1 < len(trimmed); i += 2 {
		var b byte
		if _, err := fmt.Sscanf(trimmed[i:i+2], "%02x", &b); err != nil {
			return []byte(text)
		}
		out = append(out, b)
	}
	return out
}

func asInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int:
		return int64(v), nil
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

func asFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case string:
		if strings.EqualFold(v, "nan") {
			return math.NaN(), nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, dtserr.Conversion("parse float from string "+v, err)
		}
		return f, nil
	default:
		return 0, dtserr.Conversion(fmt.Sprintf("unsupported float source type %T", raw), nil)
	}
}

func asBytes(raw any) []byte {
	switch v := raw.(type) {
	case []byte:
		return v
	case string:
		return decodeBytea(v)
	default:
		return []byte(fmt.Sprintf("%v", v))
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
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asUTCText(raw any) string {
	if t, ok := raw.(time.Time); ok {
		return t.UTC().Format("2006-01-02 15:04:05.999999-07")
	}
	return asText(raw)
}
