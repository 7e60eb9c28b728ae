package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// dStroke is not decomposed by NFD, so it is folded explicitly.
var dStroke = strings.NewReplacer("đ", "d", "Đ", "d")

// Normalize lowercases s, folds diacritics and trims surrounding space.
// Subscription keywords and job text go through the same function so that
// "Kế toán" and "ke toan" compare equal.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.TrimSpace(strings.ToLower(dStroke.Replace(folded)))
}

// NormalizeKeyword normalizes a subscription keyword.
func NormalizeKeyword(keyword string) string {
	return Normalize(keyword)
}
