package filter

import (
	"strings"

	"github.com/flowgate/dts/pkg/types"
)

// Filter implements RdbFilter from spec.md section 4.4: do/ignore db and
// table patterns with '*'/'?' wildcards, plus an event allow-list.
type Filter struct {
	doDBs     []string
	ignoreDBs []string
	doTbs     []tablePattern
	ignoreTbs []tablePattern
	doEvents  map[types.RowType]bool
}

type tablePattern struct {
	db string
	tb string
}

// New builds a Filter from the raw, comma-separated config strings in
// spec.md section 6 (ExtractorConfig/filter section): do_dbs, ignore_dbs,
// do_tbs, ignore_tbs, do_events. escapePairs is the dialect's tokenizer
// escape set (backtick for MySQL, double-quote for Postgres/Redis).
func New(doDBs, ignoreDBs, doTbs, ignoreTbs, doEvents string, escapePairs []EscapePair) *Filter {
	f := &Filter{
		doDBs:     splitDBList(doDBs, escapePairs),
		ignoreDBs: splitDBList(ignoreDBs, escapePairs),
		doTbs:     splitTbList(doTbs, escapePairs),
		ignoreTbs: splitTbList(ignoreTbs, escapePairs),
		doEvents:  parseEvents(doEvents),
	}
	return f
}

func splitDBList(s string, escapePairs []EscapePair) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	tokens := Tokenize(s, []rune{','}, escapePairs)
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		out = append(out, Unquote(t, escapePairs))
	}
	return out
}

func splitTbList(s string, escapePairs []EscapePair) []tablePattern {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	tokens := Tokenize(s, []rune{'.', ','}, escapePairs)
	var out []tablePattern
	for i := 0; i+1 < len(tokens); i += 2 {
		out = append(out, tablePattern{
			db: Unquote(tokens[i], escapePairs),
			tb: Unquote(tokens[i+1], escapePairs),
		})
	}
	return out
}

func parseEvents(s string) map[types.RowType]bool {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	out := make(map[types.RowType]bool)
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(strings.ToLower(tok))
		switch tok {
		case "insert":
			out[types.RowInsert] = true
		case "update":
			out[types.RowUpdate] = true
		case "delete":
			out[types.RowDelete] = true
		}
	}
	return out
}

// FilterDB reports whether schema should be excluded from extraction.
// Precedence: an explicit ignore match beats a do match (spec.md section 4.4).
func (f *Filter) FilterDB(schema string) bool {
	if matchAnyDB(f.ignoreDBs, schema) {
		return true
	}
	if len(f.doDBs) > 0 && !matchAnyDB(f.doDBs, schema) {
		return true
	}
	return false
}

// FilterTb reports whether (schema, tb) should be excluded.
func (f *Filter) FilterTb(schema, tb string) bool {
	if f.FilterDB(schema) {
		return true
	}
	if matchAnyTb(f.ignoreTbs, schema, tb) {
		return true
	}
	if len(f.doTbs) > 0 && !matchAnyTb(f.doTbs, schema, tb) {
		return true
	}
	return false
}

// FilterEvent reports whether a row of the given type for (schema, tb)
// should be dropped. The event filter only drops when do_events is
// non-empty and lacks the event kind (spec.md section 4.4).
func (f *Filter) FilterEvent(schema, tb string, rowType types.RowType) bool {
	if f.FilterTb(schema, tb) {
		return true
	}
	if len(f.doEvents) == 0 {
		return false
	}
	return !f.doEvents[rowType]
}

func matchAnyDB(patterns []string, schema string) bool {
	for _, p := range patterns {
		if Glob(p, schema) {
			return true
		}
	}
	return false
}

func matchAnyTb(patterns []tablePattern, schema, tb string) bool {
	for _, p := range patterns {
		if Glob(p.db, schema) && Glob(p.tb, tb) {
			return true
		}
	}
	return false
}

// Glob matches s against a pattern using '*' (any run of characters,
// including none) and '?' (exactly one character) wildcards.
func Glob(pattern, s string) bool {
	return globMatch([]rune(pattern), []rune(s))
}

func globMatch(pattern, s []rune) bool {
	// classic DP-free two-pointer glob matcher with backtracking on '*'.
	pi, si := 0, 0
	starIdx, match := -1, 0
	for si < len(s) {
		if pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]) {
			pi++
			si++
		} else if pi < len(pattern) && pattern[pi] == '*' {
			starIdx = pi
			match = si
			pi++
		} else if starIdx != -1 {
			pi = starIdx + 1
			match++
			si = match
		} else {
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
