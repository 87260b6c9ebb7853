package discovery

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kbukum/gokit-discovery/errors"
)

const separator = '-'

// NormalizeForDNS makes s usable as a catalog id or name. s must start with a
// letter and end with a letter or digit; every run of other characters in
// between collapses into one hyphen.
func NormalizeForDNS(s string) (string, error) {
	if s == "" {
		return "", errors.InvalidIdentifier(s)
	}
	first, _ := utf8.DecodeRuneInString(s)
	last, _ := utf8.DecodeLastRuneInString(s)
	if !unicode.IsLetter(first) || !isLetterOrDigit(last) {
		return "", errors.InvalidIdentifier(s)
	}

	var b strings.Builder
	b.Grow(len(s))
	prevSep := false
	for _, r := range s {
		if isLetterOrDigit(r) {
			b.WriteRune(r)
			prevSep = false
			continue
		}
		if !prevSep {
			b.WriteRune(separator)
			prevSep = true
		}
	}
	return b.String(), nil
}

func isLetterOrDigit(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
