package types

import "strings"

// Dialect identifies the source/sink database family a ColType or TbMeta
// belongs to.
type Dialect string

const (
	DialectMySQL      Dialect = "mysql"
	DialectPostgres   Dialect = "pg"
	DialectMongo      Dialect = "mongo"
	DialectRedis      Dialect = "redis"
	DialectClickHouse Dialect = "clickhouse"
	DialectStarRocks  Dialect = "starrocks"
	DialectDuckDB     Dialect = "duckdb"
)

// ColType describes a declared column type as reported by a dialect's
// metadata catalog (information_schema, pg_catalog, ...), plus the ColValue
// Kind it maps to. The mapping is fixed per spec.md section 4.3/GLOSSARY;
// TypeRegistry below is the single place that performs it.
type ColType struct {
	Dialect Dialect
	// Name is the raw, lower-cased type name as the catalog reports it
	// (e.g. "varchar", "bigint unsigned", "numeric", "jsonb").
	Name string
	// OID is populated for PostgreSQL column types; zero otherwise.
	OID uint32
	Kind Kind
	// Unsigned distinguishes MySQL's "bigint unsigned" from "bigint": both
	// alias to KindUint64/KindInt64 respectively but the SQL text differs.
	Unsigned bool
}

// TypeRegistry resolves a dialect-specific type name (and, for PostgreSQL,
// OID) to a ColType. Each MetaManager is given its own instance from
// NewTypeRegistry; it is immutable after construction so it needs no locking.
type TypeRegistry struct {
	mysqlAlias  map[string]Kind
	pgOIDAlias  map[uint32]Kind
	pgNameAlias map[string]Kind
	duckdbAlias map[string]Kind
}

// NewTypeRegistry builds a registry pre-seeded with the fixed alias tables
// from spec.md's GLOSSARY entries for MySQL and PostgreSQL.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		mysqlAlias:  defaultMySQLAlias(),
		pgOIDAlias:  defaultPgOIDAlias(),
		pgNameAlias: defaultPgNameAlias(),
		duckdbAlias: defaultDuckDBAlias(),
	}
}

// DuckDBColType resolves a DuckDB catalog type name, as reported by
// "DESCRIBE schema.tb" (e.g. "BIGINT", "DECIMAL(10,2)", "VARCHAR"), to a
// ColType. Grounded on
// original_source/dt-common/src/meta/duckdb/duckdb_meta_manager.rs's
// get_col_type match.
func (r *TypeRegistry) DuckDBColType(name string) ColType {
	upper := strings.ToUpper(strings.TrimSpace(name))
	base := upper
	if idx := strings.IndexByte(base, '('); idx >= 0 {
		base = base[:idx]
	}
	if kind, ok := r.duckdbAlias[base]; ok {
		return ColType{Dialect: DialectDuckDB, Name: strings.ToLower(upper), Kind: kind}
	}
	if strings.HasPrefix(base, "ENUM") {
		return ColType{Dialect: DialectDuckDB, Name: strings.ToLower(upper), Kind: KindEnum2}
	}
	if strings.HasPrefix(base, "DECIMAL") {
		return ColType{Dialect: DialectDuckDB, Name: strings.ToLower(upper), Kind: KindDecimal}
	}
	return ColType{Dialect: DialectDuckDB, Name: strings.ToLower(upper), Kind: KindString}
}

// defaultDuckDBAlias is the fixed alias table for DuckDB's DESCRIBE type
// names, widths chosen the same way defaultMySQLAlias chooses them.
func defaultDuckDBAlias() map[string]Kind {
	return map[string]Kind{
		"TINYINT":   KindInt8,
		"SMALLINT":  KindInt16,
		"INTEGER":   KindInt32,
		"BIGINT":    KindInt64,
		"UTINYINT":  KindUint8,
		"USMALLINT": KindUint16,
		"UINTEGER":  KindUint32,
		"UBIGINT":   KindUint64,
		"BOOLEAN":   KindBool,
		"FLOAT":     KindFloat,
		"DOUBLE":    KindDouble,
		"TIMESTAMP": KindTimestamp,
		"DATE":      KindDate,
		"TIME":      KindTime,
		"DATETIME":  KindDateTime,
		"INTERVAL":  KindString,
		"VARCHAR":   KindString,
		"BLOB":      KindBlob,
		"JSON":      KindJSON2,
	}
}

// MySQLColType resolves a MySQL catalog type name (as returned by
// information_schema.COLUMNS.DATA_TYPE / COLUMN_TYPE) to a ColType.
func (r *TypeRegistry) MySQLColType(name string) ColType {
	lower := strings.ToLower(strings.TrimSpace(name))
	unsigned := strings.Contains(lower, "unsigned")
	base := strings.TrimSpace(strings.Replace(lower, "unsigned", "", 1))
	if idx := strings.IndexByte(base, '('); idx >= 0 {
		base = base[:idx]
	}
	base = strings.TrimSpace(base)
	kind, ok := r.mysqlAlias[base]
	if !ok {
		kind = KindString
	}
	if unsigned {
		switch kind {
		case KindInt8:
			kind = KindUint8
		case KindInt16:
			kind = KindUint16
		case KindInt32:
			kind = KindUint32
		case KindInt64:
			kind = KindUint64
		}
	}
	return ColType{Dialect: DialectMySQL, Name: lower, Kind: kind, Unsigned: unsigned}
}

// PgColType resolves a PostgreSQL type by OID first (authoritative), falling
// back to the textual type name for user-defined/extension types that have
// no fixed OID in the alias table.
func (r *TypeRegistry) PgColType(oid uint32, name string) ColType {
	lower := strings.ToLower(strings.TrimSpace(name))
	if kind, ok := r.pgOIDAlias[oid]; ok {
		return ColType{Dialect: DialectPostgres, Name: lower, OID: oid, Kind: kind}
	}
	if kind, ok := r.pgNameAlias[lower]; ok {
		return ColType{Dialect: DialectPostgres, Name: lower, OID: oid, Kind: kind}
	}
	// user-defined / extension / unrecognized type: cast to text, per
	// spec.md section 4.2.2's fixed cast table for types that don't
	// round-trip through the binary protocol.
	return ColType{Dialect: DialectPostgres, Name: lower, OID: oid, Kind: KindString}
}

// defaultMySQLAlias is the fixed alias table referenced by spec.md's
// GLOSSARY and section 4.3. Widths follow MySQL's own storage widths.
func defaultMySQLAlias() map[string]Kind {
	return map[string]Kind{
		"tinyint":    KindInt8,
		"smallint":   KindInt16,
		"mediumint":  KindInt32,
		"int":        KindInt32,
		"integer":    KindInt32,
		"bigint":     KindInt64,
		"bit":        KindBit,
		"bool":       KindBool,
		"boolean":    KindBool,
		"float":      KindFloat,
		"double":     KindDouble,
		"decimal":    KindDecimal,
		"numeric":    KindDecimal,
		"date":       KindDate,
		"time":       KindTime,
		"datetime":   KindDateTime,
		"timestamp":  KindTimestamp,
		"year":       KindYear,
		"char":       KindString,
		"varchar":    KindString,
		"text":       KindBlob,
		"tinytext":   KindBlob,
		"mediumtext": KindBlob,
		"longtext":   KindBlob,
		"binary":     KindBlob,
		"varbinary":  KindBlob,
		"blob":       KindBlob,
		"tinyblob":   KindBlob,
		"mediumblob": KindBlob,
		"longblob":   KindBlob,
		"enum":       KindEnum2,
		"set":        KindSet2,
		"json":       KindJSON2,
	}
}

// defaultPgOIDAlias maps the well-known PostgreSQL built-in type OIDs (from
// pg_catalog's fixed numbering) to ColValue kinds. Types that don't appear
// here (arrays, ranges, geometry, user-defined, ...) are cast to text by the
// snapshot extractor per spec.md section 4.2.2 and fall through to
// defaultPgNameAlias/KindString.
func defaultPgOIDAlias() map[uint32]Kind {
	return map[uint32]Kind{
		16:   KindBool,   // bool
		20:   KindInt64,  // int8
		21:   KindInt16,  // int2
		23:   KindInt32,  // int4
		700:  KindFloat,  // float4
		701:  KindDouble, // float8
		1700: KindDecimal,
		1082: KindDate,
		1083: KindTime,
		1114: KindDateTime,  // timestamp without time zone
		1184: KindTimestamp, // timestamp with time zone
		18:   KindString,   // char "
		25:   KindString,   // text
		1042: KindString,   // bpchar
		1043: KindString,   // varchar
		114:  KindJSON2,    // json
		3802: KindJSON2,    // jsonb
		17:   KindBlob,     // bytea
	}
}

// defaultPgNameAlias covers the fixed textual-cast table for types that do
// not round-trip through the binary protocol (spec.md section 4.2.2):
// bytea, numeric, date/time, network/geometry, ranges, arrays,
// user-defined. All of them are cast to text by the snapshot extractor's
// SELECT list; here bytea resolves to KindBlob, numeric to KindDecimal and
// the rest to KindString, unless a more specific kind was already found by
// OID.
func defaultPgNameAlias() map[string]Kind {
	return map[string]Kind{
		"bytea":       KindBlob,
		"numeric":     KindDecimal,
		"inet":        KindString,
		"cidr":        KindString,
		"macaddr":     KindString,
		"point":       KindString,
		"line":        KindString,
		"lseg":        KindString,
		"box":         KindString,
		"path":        KindString,
		"polygon":     KindString,
		"circle":      KindString,
		"int4range":   KindString,
		"int8range":   KindString,
		"numrange":    KindString,
		"tsrange":     KindString,
		"tstzrange":   KindString,
		"daterange":   KindString,
		"uuid":        KindString,
		"money":       KindString,
		"interval":    KindString,
		"timetz":      KindString,
		"bit":         KindString,
		"varbit":      KindString,
		"xml":         KindString,
	}
}
