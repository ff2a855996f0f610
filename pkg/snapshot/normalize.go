package snapshot

import (
	"strings"
	"unicode"
)

// commentStyle describes how a language writes comments and string literals
type commentStyle struct {
	lineComments  []string // e.g. "//", "#"
	blockComments bool     // /* ... */
	tripleQuotes  bool     // Python """...""" and '''...'''
	backticks     bool     // Template literals (ES) or raw strings (Go)
}

var (
	cStyle      = commentStyle{lineComments: []string{"//"}, blockComments: true, backticks: true}
	pythonStyle = commentStyle{lineComments: []string{"#"}, tripleQuotes: true}
)

// normalized is the output of a single scan over file content
type normalized struct {
	code string // Comments removed, newlines preserved for line-anchored scanning
	hash string // Comments removed, whitespace outside string literals removed
}

// normalize strips comments while keeping string literals intact. Pure
// reformatting of a file leaves the hash input unchanged.
func normalize(content string, style commentStyle) normalized {
	var code, hash strings.Builder
	code.Grow(len(content))
	hash.Grow(len(content))

	emitCode := func(s string) {
		code.WriteString(s)
		for _, r := range s {
			if !unicode.IsSpace(r) {
				hash.WriteRune(r)
			}
		}
	}
	emitLiteral := func(s string) {
		code.WriteString(s)
		hash.WriteString(s)
	}

	i := 0
	n := len(content)
	for i < n {
		rest := content[i:]

		if style.blockComments && strings.HasPrefix(rest, "/*") {
			end := strings.Index(rest[2:], "*/")
			var comment string
			if end < 0 {
				comment = rest
			} else {
				comment = rest[:end+4]
			}
			// Keep the line structure so later scanning stays line-anchored
			code.WriteString(strings.Repeat("\n", strings.Count(comment, "\n")))
			i += len(comment)
			continue
		}

		if hasAnyPrefix(rest, style.lineComments) {
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				i = n
			} else {
				i += end
			}
			continue
		}

		c := content[i]
		switch {
		case style.tripleQuotes && (strings.HasPrefix(rest, `"""`) || strings.HasPrefix(rest, `'''`)):
			quote := rest[:3]
			end := strings.Index(rest[3:], quote)
			lit := rest
			if end >= 0 {
				lit = rest[:end+6]
			}
			emitLiteral(lit)
			i += len(lit)
		case c == '"' || c == '\'' || (c == '`' && style.backticks):
			lit := scanString(rest, c)
			emitLiteral(lit)
			i += len(lit)
		default:
			emitCode(rest[:1])
			i++
		}
	}

	return normalized{code: code.String(), hash: hash.String()}
}

// scanString returns the quoted literal at the start of s, including quotes.
// Single- and double-quoted strings end at an unescaped newline as well.
func scanString(s string, quote byte) string {
	for j := 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			if quote != '`' {
				j++
			}
		case '\n':
			if quote != '`' {
				return s[:j]
			}
		case quote:
			return s[:j+1]
		}
	}
	return s
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
