// Package filter implements the RdbFilter and its shared tokenizer
// (spec.md section 6): a delimiter/escape-pair based splitter used by both
// filter and router config parsing, grounded on
// original_source/dt-common/src/config/config_token_parser.rs.
package filter

import "strings"

// EscapePair is a (left, right) delimiter pair such as backtick/backtick
// for MySQL or double-quote/double-quote for PostgreSQL/Redis identifiers.
type EscapePair struct {
	Left, Right rune
}

// Tokenize splits config into tokens on any rune in delimiters, except
// inside a run bounded by one of escapePairs, whose delimiters (and
// everything else) are preserved verbatim including the escape runes
// themselves. Each token is trimmed of surrounding whitespace.
func Tokenize(config string, delimiters []rune, escapePairs []EscapePair) []string {
	chars := []rune(config)
	var tokens []string
	start := 0
	for {
		token, next := readToken(chars, start, delimiters, escapePairs)
		tokens = append(tokens, strings.TrimSpace(token))
		if next >= len(chars) {
			break
		}
		start = next + 1
	}
	return tokens
}

func readToken(chars []rune, start int, delimiters []rune, escapePairs []EscapePair) (string, int) {
	if start < len(chars) {
		for _, pair := range escapePairs {
			if chars[start] == pair.Left {
				return readTokenWithEscape(chars, start, pair)
			}
		}
	}
	return readTokenToDelimiter(chars, start, delimiters)
}

func readTokenToDelimiter(chars []rune, start int, delimiters []rune) (string, int) {
	var b strings.Builder
	i := start
	for ; i < len(chars); i++ {
		if containsRune(delimiters, chars[i]) {
			break
		}
		b.WriteRune(chars[i])
	}
	return b.String(), i
}

func readTokenWithEscape(chars []rune, start int, pair EscapePair) (string, int) {
	var b strings.Builder
	started := false
	i := start
	for ; i < len(chars); i++ {
		c := chars[i]
		if started && c == pair.Right {
			b.WriteRune(c)
			i++
			break
		}
		if c == pair.Left {
			started = true
		}
		if started {
			b.WriteRune(c)
		}
	}
	return b.String(), i
}

func containsRune(rs []rune, r rune) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}
	return false
}

// Unquote strips a single matching escape pair from a token if present
// (e.g. "`db`" -> "db", `"tb"` -> "tb"), otherwise returns it unchanged.
func Unquote(token string, escapePairs []EscapePair) string {
	r := []rune(token)
	if len(r) < 2 {
		return token
	}
	for _, pair := range escapePairs {
		if r[0] == pair.Left && r[len(r)-1] == pair.Right {
			return string(r[1 : len(r)-1])
		}
	}
	return token
}
