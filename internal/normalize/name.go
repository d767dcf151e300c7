// Package normalize turns raw permit rows into canonical form: contractor
// names collide across formatting differences, permit types bucket into a
// fixed class set, and dates parse into time.Time.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes combining marks so "José Construcción" matches the
// unaccented spelling most portals file it under.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Name canonicalizes a contractor name: case fold, diacritic fold,
// punctuation strip, trailing legal-suffix strip, whitespace collapse.
// Pure and deterministic so two differently-formatted filings for the same
// company collide into one contractor record.
func Name(raw string, legalSuffixes []string) string {
	folded, _, err := transform.String(stripMarks, raw)
	if err != nil {
		folded = raw
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())

	// Strip legal suffixes from the tail only; "co" in the middle of a name
	// is part of the name.
	suffixSet := make(map[string]bool, len(legalSuffixes))
	for _, s := range legalSuffixes {
		suffixSet[strings.ToLower(strings.Trim(s, ". "))] = true
	}
	for len(tokens) > 1 && suffixSet[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}

	return strings.Join(tokens, " ")
}
