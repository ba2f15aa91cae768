// Package textnorm folds user and document text into a comparable form.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lower-cases s and strips diacritics. The result is trimmed.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.TrimSpace(strings.ToLower(s))
	}
	return strings.TrimSpace(out)
}

// FoldRune maps r to its lower-case base letter. Unlike Normalize it never
// changes the number of runes, so offsets computed on folded text are valid
// on the original.
func FoldRune(r rune) rune {
	r = unicode.ToLower(r)
	if r < unicode.MaxASCII {
		return r
	}
	decomposed := norm.NFD.String(string(r))
	for _, d := range decomposed {
		if !unicode.Is(unicode.Mn, d) {
			return d
		}
	}
	return r
}

// Fold returns the rune-wise folded form of rs.
func Fold(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = FoldRune(r)
	}
	return out
}

// CollapseSpace replaces every run of whitespace with a single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Words splits normalized text into words, dropping punctuation.
func Words(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// StripSymbols removes emoji and pictographic symbols and tidies the spaces
// left behind.
func StripSymbols(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.Is(unicode.So, r), unicode.Is(unicode.Sk, r):
			continue
		case r == '\u200d' || (r >= '\ufe00' && r <= '\ufe0f'):
			continue
		case r >= 0x1f000 && r <= 0x1faff:
			continue
		}
		b.WriteRune(r)
	}
	return CollapseSpace(b.String())
}

// HasPhrase reports whether phrase occurs in text on word boundaries. Both
// arguments are normalized first.
func HasPhrase(text, phrase string) bool {
	words := Words(text)
	target := Words(phrase)
	if len(target) == 0 || len(target) > len(words) {
		return false
	}
	for i := 0; i+len(target) <= len(words); i++ {
		match := true
		for j := range target {
			if words[i+j] != target[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
