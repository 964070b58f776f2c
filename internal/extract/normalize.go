package extract

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CleanText canonicalizes extracted text: NFC normalization, non-breaking
// spaces folded to plain spaces, internal whitespace runs collapsed, ends
// trimmed. Catalog sites mix entity-encoded and unicode whitespace freely;
// normalizing here keeps mapping keys and diff comparisons stable across
// re-crawls.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)
	s = strings.NewReplacer(" ", " ", " ", " ", "​", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
