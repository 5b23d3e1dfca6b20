// Package normalize produces canonical keys for duplicate detection.
//
// Two surface forms that refer to the same item ("The Matrix", "Matrix (1999)",
// "matrix") must map to the same key. Over-merging is the accepted failure
// mode: the engine's no-duplicates guarantee depends on this function being at
// least as aggressive as the model's own surface-form variation.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldMarks decomposes characters and strips combining marks, so "café" and
// "cafe" share a key.
var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var articles = map[string]bool{
	"the": true,
	"a":   true,
	"an":  true,
}

// Key returns the canonical form of text used for duplicate comparison.
// Deterministic, pure, and idempotent: Key(Key(x)) == Key(x).
func Key(text string) string {
	s, _, err := transform.String(foldMarks, text)
	if err != nil {
		// Transform only fails on malformed UTF-8; fall back to the raw text
		// rather than refusing to produce a key.
		s = text
	}
	s = strings.ToLower(s)
	s = stripTrailingBrackets(s)
	s = stripPunctuation(s)
	s = strings.Join(strings.Fields(s), " ")
	s = stripLeadingArticle(s)
	return s
}

// stripTrailingBrackets removes trailing parenthetical or bracketed suffixes,
// e.g. year annotations like "(1999)" or "[remastered]". Repeats so stacked
// suffixes are all removed.
func stripTrailingBrackets(s string) string {
	for {
		t := strings.TrimRight(s, " \t")
		var open byte
		switch {
		case strings.HasSuffix(t, ")"):
			open = '('
		case strings.HasSuffix(t, "]"):
			open = '['
		default:
			return t
		}
		idx := strings.LastIndexByte(t, open)
		if idx < 0 {
			return t
		}
		s = t[:idx]
	}
}

// stripPunctuation replaces punctuation with spaces, keeping apostrophes that
// sit between letters or digits ("don't" survives, quoting does not).
func stripPunctuation(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		case r == '\'' && i > 0 && i < len(rs)-1 &&
			isWordRune(rs[i-1]) && isWordRune(rs[i+1]):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// stripLeadingArticle drops leading "the"/"a"/"an" words to a fixed point, so
// article-chained titles ("The A Team", "A Team") share a key. A string that
// is nothing but an article is left alone so the key stays non-empty.
func stripLeadingArticle(s string) string {
	for {
		first, rest, ok := strings.Cut(s, " ")
		if !ok || rest == "" || !articles[first] {
			return s
		}
		s = rest
	}
}
