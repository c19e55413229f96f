// Package fingerprint canonicalizes column headers and hashes the ordered
// result so that files with the same header layout resolve to the same
// mapping.
package fingerprint

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizerV1 identifies the canonicalization implemented by Normalize.
// Changing Normalize invalidates every stored fingerprint, so a new rule must
// ship under a new version.
const NormalizerV1 = "v1"

// NormalizeHeader canonicalizes a single header: compatibility decomposition,
// combining marks dropped, Unicode case folding, surrounding whitespace
// trimmed and inner whitespace runs collapsed to one space.
func NormalizeHeader(raw string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, raw)
	if err != nil {
		stripped = raw
	}
	folded := cases.Fold().String(stripped)
	return strings.Join(strings.Fields(folded), " ")
}

// Normalize returns a same-length, same-order list of canonical headers.
func Normalize(raw []string) []string {
	out := make([]string, len(raw))
	for i, header := range raw {
		out[i] = NormalizeHeader(header)
	}
	return out
}
