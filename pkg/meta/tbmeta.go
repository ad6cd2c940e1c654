// Package meta holds the table descriptor cache (TbMeta) shared by every
// dialect's MetaManager (pkg/meta/mysql, pkg/meta/pg, pkg/meta/duckdb), and
// the generic cache-through/invalidate Cache used by the mysql and duckdb
// managers.
package meta

import (
	"sort"
	"strings"
	"sync"

	"github.com/flowgate/dts/pkg/types"
)

// TbMeta is the cached per-table descriptor described in spec.md section 3.
type TbMeta struct {
	Schema string
	Tb     string
	// Cols is the authoritative column order for CDC binary rows.
	Cols []string
	// ColTypeMap must have exactly the same key set as Cols.
	ColTypeMap map[string]types.ColType
	// KeyMap holds every unique key found on the table, lower-cased, keyed
	// by key name; the distinguished key "primary" is the primary key.
	KeyMap map[string][]string
	// OrderCol is used for key-ordered snapshot slicing; nil if KeyMap is
	// empty.
	OrderCol *string
	// PartitionCol is used for partition hashing; by convention the first
	// column of the chosen key.
	PartitionCol *string
	// IDCols are all columns of the chosen unique key, used as row
	// identity by the merger. Empty if KeyMap is empty.
	IDCols []string
}

// PrimaryKeyName is the reserved key_map entry for the primary key
// (spec.md section 4.3).
const PrimaryKeyName = "primary"

// BuildTbMeta derives order_col/partition_col/id_cols from cols and keyMap
// following spec.md section 4.3: prefer "primary"; else any unique key that
// has no nullable column (the source prefers the first found, so ties are
// broken by first-seen insertion order of keyMap iteration made
// deterministic by sorting key names). order_col/partition_col default to
// the first column of the chosen key.
//
// nullableCols, if non-nil, is consulted to skip unique keys that contain a
// nullable column when a non-nullable alternative exists; implementations
// may relax this (spec.md explicitly allows relaxing), so a nil/empty set
// simply disables the nullability preference.
func BuildTbMeta(schema, tb string, cols []string, colTypeMap map[string]types.ColType, keyMap map[string][]string, nullableCols map[string]bool) (*TbMeta, error) {
	if len(cols) == 0 {
		return nil, ErrEmptyColumns(schema, tb)
	}
	normalizedKeyMap := make(map[string][]string, len(keyMap))
	for name, key := range keyMap {
		normalizedKeyMap[strings.ToLower(name)] = key
	}

	tm := &TbMeta{
		Schema:     schema,
		Tb:         tb,
		Cols:       cols,
		ColTypeMap: colTypeMap,
		KeyMap:     normalizedKeyMap,
	}

	if len(normalizedKeyMap) == 0 {
		return tm, nil
	}

	chosenName := chooseKey(normalizedKeyMap, nullableCols)
	chosen := normalizedKeyMap[chosenName]
	if len(chosen) == 0 {
		return tm, nil
	}
	order := chosen[0]
	tm.OrderCol = &order
	partition := chosen[0]
	tm.PartitionCol = &partition
	tm.IDCols = append([]string{}, chosen...)
	return tm, nil
}

func chooseKey(keyMap map[string][]string, nullableCols map[string]bool) string {
	if _, ok := keyMap[PrimaryKeyName]; ok {
		return PrimaryKeyName
	}
	names := make([]string, 0, len(keyMap))
	for name := range keyMap {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(nullableCols) > 0 {
		for _, name := range names {
			if !anyNullable(keyMap[name], nullableCols) {
				return name
			}
		}
	}
	return names[0]
}

func anyNullable(cols []string, nullableCols map[string]bool) bool {
	for _, c := range cols {
		if nullableCols[c] {
			return true
		}
	}
	return false
}

// Cache is a read-mostly, DDL-invalidated TbMeta cache shared by every
// dialect MetaManager. A miss acquires the exclusive lock, re-checks the
// table and only then calls build, so concurrent misses for the same table
// build it once (builds for different tables are serialized too), matching
// the source's "build on demand" behavior.
type Cache struct {
	mu    sync.RWMutex
	table map[string]*TbMeta
}

func NewCache() *Cache {
	return &Cache{table: make(map[string]*TbMeta)}
}

func key(schema, tb string) string { return schema + "." + tb }

// Get returns a cached TbMeta, or calls build and caches the result.
func (c *Cache) Get(schema, tb string, build func() (*TbMeta, error)) (*TbMeta, error) {
	k := key(schema, tb)
	c.mu.RLock()
	if tm, ok := c.table[k]; ok {
		c.mu.RUnlock()
		return tm, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if tm, ok := c.table[k]; ok {
		return tm, nil
	}
	tm, err := build()
	if err != nil {
		return nil, err
	}
	c.table[k] = tm
	return tm, nil
}

// Invalidate drops the cached entry for (schema, tb), if any.
func (c *Cache) Invalidate(schema, tb string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.table, key(schema, tb))
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table = make(map[string]*TbMeta)
}
