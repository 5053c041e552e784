// Package match decides whether a discovered complex already exists in a
// locality, tolerating the many phrasings research engines use for the same
// project.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

var trailingParenRe = regexp.MustCompile(`\s*[(\[][^()\[\]]*[)\]]\s*$`)

// genericPrefixes are stripped from the front of a normalized name, longest
// first, repeatedly. Entries are already normalized.
var genericPrefixes = []string{
	"urban renewal",
	"pinui binui",
	"tama 38",
	"neighborhood",
	"neighbourhood",
	"complex",
	"project",
	"renewal",
	"the",
	"התחדשות עירונית",
	"פינוי בינוי",
	"תמא 38",
	"פרויקט",
	"שכונת",
	"מתחם",
}

// NormalizeName folds case and width, turns punctuation into spaces and
// collapses whitespace. Empty input yields "".
func NormalizeName(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		// Hebrew geresh/gershayim inside abbreviations are dropped, not split.
		if r == '"' || r == '\'' || r == '״' || r == '׳' {
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// CoreName strips trailing parenthetical annotations and generic prefixes,
// then normalizes.
func CoreName(s string) string {
	s = strings.TrimSpace(s)
	for {
		stripped := trailingParenRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}

	n := NormalizeName(s)
	for {
		trimmed := stripPrefix(n)
		if trimmed == n {
			return n
		}
		n = trimmed
	}
}

// DisplayName trims trailing parenthetical annotations, such as unit counts,
// and collapses whitespace while keeping the original casing.
func DisplayName(s string) string {
	s = strings.TrimSpace(s)
	for {
		stripped := trailingParenRe.ReplaceAllString(s, "")
		if stripped == s || strings.TrimSpace(stripped) == "" {
			break
		}
		s = stripped
	}
	return strings.Join(strings.Fields(s), " ")
}

func stripPrefix(n string) string {
	for _, p := range genericPrefixes {
		if n == p {
			// A bare generic word is its own core.
			continue
		}
		if strings.HasPrefix(n, p+" ") {
			return strings.TrimSpace(n[len(p)+1:])
		}
	}
	return n
}

func runeLen(s string) int {
	return len([]rune(s))
}
