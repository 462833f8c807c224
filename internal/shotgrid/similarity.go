package shotgrid

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
)

var trailingVersionRe = regexp.MustCompile(`_v\d{3,4}$`)

// BaseToken reduces a file name to the token used for a contains search:
// extension and trailing _vNNN(N) dropped, then the part before the first
// underscore.
func BaseToken(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = trailingVersionRe.ReplaceAllString(base, "")
	if i := strings.Index(base, "_"); i > 0 {
		return base[:i]
	}
	return base
}

// Similarity is 1 - editDistance/maxLen over lower-cased NFC names, in
// [0, 1].
func Similarity(a, b string) float64 {
	a = strings.ToLower(norm.NFC.String(a))
	b = strings.ToLower(norm.NFC.String(b))
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
