// Package normalize canonicalizes OCR text and target labels before fuzzy matching.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ShortMaxLen is the longest normalized target (spaces excluded) treated as short
const ShortMaxLen = 3

// characters OCR engines confuse on narrow remote-display fonts
var charFixes = strings.NewReplacer(
	"0", "o",
	"1", "l",
	"5", "s",
	"6", "b",
	"8", "b",
)

// multi-character clusters, applied after charFixes
var clusterFixes = strings.NewReplacer(
	"rn", "m",
	"vv", "w",
)

// known whole-string misreads of common UI labels, keyed after the tables above
var wholeFixes = map[string]string{
	"submlt":   "submit",
	"conhrm":   "confirm",
	"confi rm": "confirm",
	"cancei":   "cancel",
	"ciose":    "close",
	"loqin":    "login",
	"appiy":    "apply",
	"contlnue": "continue",
	"slgn ln":  "sign in",
}

// Normalize returns the canonical form of s. It is pure, total and idempotent.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	t := strings.ToLower(norm.NFKC.String(s))
	t = strings.Map(func(r rune) rune {
		if r < 0x80 {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return ' '
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, t)
	t = strings.Join(strings.Fields(t), " ")

	t = charFixes.Replace(t)
	t = clusterFixes.Replace(t)

	if fixed, ok := wholeFixes[t]; ok {
		t = fixed
	}
	return t
}

// Length - rune count of a normalized string, spaces excluded
func Length(normalized string) int {
	n := 0
	for _, r := range normalized {
		if r != ' ' {
			n++
		}
	}
	return n
}

// IsShort - reports whether a normalized target gets the short-label threshold
func IsShort(normalized string) bool {
	return Length(normalized) <= ShortMaxLen
}
