// Package keys builds the persistent cache key layout
// "<prefix>_<category>_<key>".
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Key sanitizes its parts and joins them with underscores. Long or
// character-heavy keys are truncated and suffixed with an xxhash digest of
// the original so distinct inputs never collide after sanitation.
func Key(prefix, category, key string) string {
	p := sanitize(strings.TrimSpace(prefix))
	c := sanitize(strings.TrimSpace(category))
	raw := strings.TrimSpace(key)
	k := sanitize(raw)

	const maxKeyLen = 160
	if len(k) > maxKeyLen || k != raw {
		if len(k) > maxKeyLen {
			k = k[:maxKeyLen]
		}
		k = fmt.Sprintf("%s-%016x", k, xxhash.Sum64String(raw))
	}
	return p + "_" + c + "_" + k
}

// AreaKey derives a stable key part from an ordered H3 cell cover: the first
// cell stays readable, the full cover is folded into a digest.
func AreaKey(cells []string) string {
	if len(cells) == 0 {
		return "none"
	}
	d := xxhash.New()
	for _, c := range cells {
		_, _ = d.WriteString(c)
		_, _ = d.WriteString("|")
	}
	return fmt.Sprintf("%s-%016x", cells[0], d.Sum64())
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '-'
		case isAlphaNum(r) || r == ':' || r == '.' || r == ',' || r == '-':
			out = r
		default:
			out = '-'
		}
		if out == '-' && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
