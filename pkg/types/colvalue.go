// Package types holds the dialect-independent value model that flows through
// the extractor -> buffer -> merger -> sinker pipeline. A single tagged union,
// ColValue, is used to represent every column value regardless of which
// database it came from or is headed to.
package types

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"unicode/utf8"
)

// Kind tags the variant held by a ColValue. Keeping this as an explicit enum
// with a switch at every conversion boundary (rather than per-value virtual
// dispatch) keeps the hot path of the pipeline allocation-free for the common
// integer/string cases.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindBool
	KindFloat
	KindDouble
	KindDecimal
	KindDate
	KindTime
	KindDateTime
	KindTimestamp
	KindYear
	KindString
	KindRawString
	KindBlob
	KindBit
	KindSet
	KindSet2
	KindEnum2
	KindJSON
	KindJSON2
	KindMongoDoc
	// KindUnchangedToast marks a PostgreSQL out-of-line TOASTed column that a
	// pgoutput UPDATE/DELETE tuple left untouched (the 'u' encoding): the
	// value wasn't sent because it didn't change, which is distinct from a
	// real SQL NULL ('n'). The sinker must omit such a column from its SET
	// clause entirely rather than bind it as NULL.
	KindUnchangedToast
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindInt8:
		return "Int8"
	case KindInt16:
		return "Int16"
	case KindInt32:
		return "Int32"
	case KindInt64:
		return "Int64"
	case KindUint8:
		return "Uint8"
	case KindUint16:
		return "Uint16"
	case KindUint32:
		return "Uint32"
	case KindUint64:
		return "Uint64"
	case KindBool:
		return "Bool"
	case KindFloat:
		return "Float"
	case KindDouble:
		return "Double"
	case KindDecimal:
		return "Decimal"
	case KindDate:
		return "Date"
	case KindTime:
		return "Time"
	case KindDateTime:
		return "DateTime"
	case KindTimestamp:
		return "Timestamp"
	case KindYear:
		return "Year"
	case KindString:
		return "String"
	case KindRawString:
		return "RawString"
	case KindBlob:
		return "Blob"
	case KindBit:
		return "Bit"
	case KindSet:
		return "Set"
	case KindSet2:
		return "Set2"
	case KindEnum2:
		return "Enum2"
	case KindJSON:
		return "Json"
	case KindJSON2:
		return "Json2"
	case KindMongoDoc:
		return "MongoDoc"
	case KindUnchangedToast:
		return "UnchangedToast"
	default:
		return "Unknown"
	}
}

// ColValue is the tagged union described in spec.md section 3. Exactly one of
// the storage fields is meaningful for a given Kind; see the accessor
// comments below.
type ColValue struct {
	Kind Kind

	i   int64   // Int8/16/32/64
	u   uint64  // Uint8/16/32/64, Bit, Set
	f   float64 // Float, Double
	b   bool    // Bool
	s   string  // Decimal text, Date/Time/DateTime/Timestamp/Year text, String, Set2, Enum2, Json2
	raw []byte  // RawString, Blob, Json
	doc any     // MongoDoc
}

// None returns the None variant, which hashes to 0 and renders as the empty
// string.
func None() ColValue { return ColValue{Kind: KindNone} }

// UnchangedToast returns the sentinel for a PostgreSQL TOASTed column that a
// pgoutput tuple left out because it didn't change. It is deliberately not
// the None variant: a sinker's UPDATE builder must skip the column rather
// than bind it as NULL.
func UnchangedToast() ColValue { return ColValue{Kind: KindUnchangedToast} }

func NewInt8(v int8) ColValue   { return ColValue{Kind: KindInt8, i: int64(v)} }
func NewInt16(v int16) ColValue { return ColValue{Kind: KindInt16, i: int64(v)} }
func NewInt32(v int32) ColValue { return ColValue{Kind: KindInt32, i: int64(v)} }
func NewInt64(v int64) ColValue { return ColValue{Kind: KindInt64, i: v} }

func NewUint8(v uint8) ColValue   { return ColValue{Kind: KindUint8, u: uint64(v)} }
func NewUint16(v uint16) ColValue { return ColValue{Kind: KindUint16, u: uint64(v)} }
func NewUint32(v uint32) ColValue { return ColValue{Kind: KindUint32, u: uint64(v)} }
func NewUint64(v uint64) ColValue { return ColValue{Kind: KindUint64, u: v} }

func NewBool(v bool) ColValue { return ColValue{Kind: KindBool, b: v} }

func NewFloat(v float32) ColValue  { return ColValue{Kind: KindFloat, f: float64(v)} }
func NewDouble(v float64) ColValue { return ColValue{Kind: KindDouble, f: v} }

// NewDecimal stores the textual form verbatim. adapt/pg canonicalizes
// PostgreSQL's "NaN" spelling when decoding; the value stays Decimal text and
// Native() returns it as that string, not as a floating-point NaN.
func NewDecimal(text string) ColValue { return ColValue{Kind: KindDecimal, s: text} }

func NewDate(text string) ColValue     { return ColValue{Kind: KindDate, s: text} }
func NewTime(text string) ColValue     { return ColValue{Kind: KindTime, s: text} }
func NewDateTime(text string) ColValue { return ColValue{Kind: KindDateTime, s: text} }

// NewTimestamp expects text already canonicalized to UTC by the caller (the
// dialect adaptor), per spec.md section 3.
func NewTimestamp(text string) ColValue { return ColValue{Kind: KindTimestamp, s: text} }
func NewYear(v uint16) ColValue         { return ColValue{Kind: KindYear, u: uint64(v)} }

func NewString(v string) ColValue { return ColValue{Kind: KindString, s: v} }

// NewRawString holds character data that may not be valid UTF-8 (e.g. a MySQL
// column bound to a non-UTF8 collation read off the binlog).
func NewRawString(v []byte) ColValue { return ColValue{Kind: KindRawString, raw: v} }

// NewBlob holds true binary data with no textual interpretation.
func NewBlob(v []byte) ColValue { return ColValue{Kind: KindBlob, raw: v} }

func NewBit(v uint64) ColValue { return ColValue{Kind: KindBit, u: v} }
func NewSet(v uint64) ColValue { return ColValue{Kind: KindSet, u: v} }

func NewSet2(v string) ColValue  { return ColValue{Kind: KindSet2, s: v} }
func NewEnum2(v string) ColValue { return ColValue{Kind: KindEnum2, s: v} }

func NewJSON(v []byte) ColValue  { return ColValue{Kind: KindJSON, raw: v} }
func NewJSON2(v string) ColValue { return ColValue{Kind: KindJSON2, s: v} }

func NewMongoDoc(v any) ColValue { return ColValue{Kind: KindMongoDoc, doc: v} }

// IsNone reports whether this is the None variant.
func (c ColValue) IsNone() bool { return c.Kind == KindNone }

// IsUnchangedToast reports whether this is a PostgreSQL TOASTed column left
// out of a pgoutput tuple because it didn't change (spec.md section 3/4.2.4).
func (c ColValue) IsUnchangedToast() bool { return c.Kind == KindUnchangedToast }

// Int64 returns the signed integer value for Int8/16/32/64 kinds.
func (c ColValue) Int64() (int64, bool) {
	switch c.Kind {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return c.i, true
	default:
		return 0, false
	}
}

// Uint64 returns the unsigned integer value for Uint8/16/32/64/Bit/Set/Year kinds.
func (c ColValue) Uint64() (uint64, bool) {
	switch c.Kind {
	case KindUint8, KindUint16, KindUint32, KindUint64, KindBit, KindSet, KindYear:
		return c.u, true
	default:
		return 0, false
	}
}

// Float64 returns the floating value for Float/Double kinds.
func (c ColValue) Float64() (float64, bool) {
	switch c.Kind {
	case KindFloat, KindDouble:
		return c.f, true
	default:
		return 0, false
	}
}

// Bool returns the boolean value for the Bool kind.
func (c ColValue) Bool() (bool, bool) {
	if c.Kind == KindBool {
		return c.b, true
	}
	return false, false
}

// Bytes returns the raw byte payload for RawString/Blob/Json kinds.
func (c ColValue) Bytes() ([]byte, bool) {
	switch c.Kind {
	case KindRawString, KindBlob, KindJSON:
		return c.raw, true
	default:
		return nil, false
	}
}

// Doc returns the MongoDoc payload.
func (c ColValue) Doc() (any, bool) {
	if c.Kind == KindMongoDoc {
		return c.doc, true
	}
	return nil, false
}

// Native returns the value in the shape database/sql expects as a bind
// argument for a relational sinker: nil, int64, uint64, float64, bool,
// string, or []byte. MongoDoc has no relational binding and is never passed
// to Native by a caller that respects the dialect boundary.
func (c ColValue) Native() any {
	switch c.Kind {
	case KindNone, KindUnchangedToast:
		return nil
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return c.i
	case KindUint8, KindUint16, KindUint32, KindUint64, KindBit, KindSet, KindYear:
		return c.u
	case KindBool:
		return c.b
	case KindFloat, KindDouble:
		return c.f
	case KindDecimal, KindDate, KindTime, KindDateTime, KindTimestamp, KindString, KindSet2, KindEnum2, KindJSON2:
		return c.s
	case KindRawString, KindBlob, KindJSON:
		return c.raw
	default:
		return c.ToString()
	}
}

// ToString yields a lossless textual form where one is defined. Binary
// variants render as hex with an x'...' prefix when the payload is not valid
// UTF-8 (spec.md section 3).
func (c ColValue) ToString() string {
	switch c.Kind {
	case KindNone, KindUnchangedToast:
		return ""
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return strconv.FormatInt(c.i, 10)
	case KindUint8, KindUint16, KindUint32, KindUint64, KindBit, KindSet:
		return strconv.FormatUint(c.u, 10)
	case KindYear:
		return strconv.FormatUint(c.u, 10)
	case KindBool:
		if c.b {
			return "1"
		}
		return "0"
	case KindFloat:
		return strconv.FormatFloat(c.f, 'g', -1, 32)
	case KindDouble:
		if math.IsNaN(c.f) {
			return "NaN"
		}
		return strconv.FormatFloat(c.f, 'g', -1, 64)
	case KindDecimal, KindDate, KindTime, KindDateTime, KindTimestamp, KindString, KindSet2, KindEnum2, KindJSON2:
		return c.s
	case KindRawString, KindBlob, KindJSON:
		if utf8.Valid(c.raw) {
			return string(c.raw)
		}
		return "x'" + hex.EncodeToString(c.raw) + "'"
	case KindMongoDoc:
		return fmt.Sprintf("%v", c.doc)
	default:
		return ""
	}
}

// HashCode returns a stable 64-bit hash of the string form. None always
// hashes to 0 (spec.md section 3); this value also serves as the merger's
// "not mergeable" sentinel when it shows up as a row identity hash.
func (c ColValue) HashCode() uint64 {
	if c.IsNone() {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(c.ToString()))
	return h.Sum64()
}

// MallocSize returns the byte weight of the value, used for pipeline byte
// accounting (spec.md section 3).
func (c ColValue) MallocSize() int {
	switch c.Kind {
	case KindNone, KindUnchangedToast:
		return 0
	case KindInt8, KindBool:
		return 1
	case KindInt16, KindYear:
		return 2
	case KindInt32, KindUint32, KindFloat:
		return 4
	case KindInt64, KindUint64, KindDouble, KindBit, KindSet:
		return 8
	case KindUint8:
		return 1
	case KindUint16:
		return 2
	case KindDecimal, KindDate, KindTime, KindDateTime, KindTimestamp, KindString, KindSet2, KindEnum2, KindJSON2:
		return len(c.s)
	case KindRawString, KindBlob, KindJSON:
		return len(c.raw)
	case KindMongoDoc:
		return len(fmt.Sprintf("%v", c.doc))
	default:
		return 0
	}
}

// Equal reports whether two ColValues carry the same kind and the same
// logical value. Used by the merger's collision check and by the partitioner
// to detect identity/partition column changes across an Update.
func (c ColValue) Equal(other ColValue) bool {
	if c.Kind != other.Kind {
		// A column's declared type does not change mid-stream in practice;
		// treat a kind mismatch conservatively as "changed".
		return false
	}
	switch c.Kind {
	case KindNone:
		return true
	case KindRawString, KindBlob, KindJSON:
		return string(c.raw) == string(other.raw)
	case KindFloat, KindDouble:
		if math.IsNaN(c.f) && math.IsNaN(other.f) {
			return true
		}
		return c.f == other.f
	case KindMongoDoc:
		return fmt.Sprintf("%v", c.doc) == fmt.Sprintf("%v", other.doc)
	default:
		return c.ToString() == other.ToString()
	}
}
