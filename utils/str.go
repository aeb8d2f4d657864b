package utils

import (
	"unicode"
	"unicode/utf8"
)

// UpperFirst upper-cases the first letter of s, the way wiki titles are
// capitalized. The rest of s is left alone.
func UpperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	u := unicode.ToUpper(r)
	if u == r {
		return s
	}
	return string(u) + s[size:]
}
