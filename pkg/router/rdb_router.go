// Package router implements RdbRouter from spec.md section 4.5: table and db
// rewriting parsed with the same escape-pair tokenizer as the filter.
package router

import (
	"strings"
	"sync"

	"github.com/flowgate/dts/pkg/filter"
)

// Router rewrites (db, tb) pairs for extraction->sink targeting.
type Router struct {
	dbMap map[string]string
	tbMap map[string][2]string // "src_db.src_tb" -> [dst_db, dst_tb]

	mu    sync.RWMutex
	cache map[string][2]string
}

// New parses db_map ("a:b,c:d") and tb_map ("a.a:b.b,c.c:d.d") using the
// dialect's escape pairs (spec.md section 6).
func New(dbMap, tbMap string, escapePairs []filter.EscapePair) *Router {
	r := &Router{
		dbMap: parseDBMap(dbMap, escapePairs),
		tbMap: parseTbMap(tbMap, escapePairs),
		cache: make(map[string][2]string),
	}
	return r
}

func parseDBMap(s string, escapePairs []filter.EscapePair) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return out
	}
	tokens := filter.Tokenize(s, []rune{':', ','}, escapePairs)
	for i := 0; i+1 < len(tokens); i += 2 {
		src := filter.Unquote(tokens[i], escapePairs)
		dst := filter.Unquote(tokens[i+1], escapePairs)
		out[src] = dst
	}
	return out
}

func parseTbMap(s string, escapePairs []filter.EscapePair) map[string][2]string {
	out := make(map[string][2]string)
	if strings.TrimSpace(s) == "" {
		return out
	}
	tokens := filter.Tokenize(s, []rune{'.', ':', ','}, escapePairs)
	for i := 0; i+4 <= len(tokens); i += 4 {
		srcDB := filter.Unquote(tokens[i], escapePairs)
		srcTb := filter.Unquote(tokens[i+1], escapePairs)
		dstDB := filter.Unquote(tokens[i+2], escapePairs)
		dstTb := filter.Unquote(tokens[i+3], escapePairs)
		out[srcDB+"."+srcTb] = [2]string{dstDB, dstTb}
	}
	return out
}

// GetRoute returns the destination (db, tb) for a source (db, tb): if
// tb_map matches, use it; else apply db_map; else identity (spec.md section
// 4.5). Results are memoized.
func (r *Router) GetRoute(db, tb string) (string, string) {
	key := db + "." + tb
	r.mu.RLock()
	if v, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return v[0], v[1]
	}
	r.mu.RUnlock()

	dstDB, dstTb := db, tb
	if v, ok := r.tbMap[key]; ok {
		dstDB, dstTb = v[0], v[1]
	} else if v, ok := r.dbMap[db]; ok {
		dstDB = v
	}

	r.mu.Lock()
	r.cache[key] = [2]string{dstDB, dstTb}
	r.mu.Unlock()
	return dstDB, dstTb
}
