package persistence

import (
	"path"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const downloadPrefix = "Justificacion"

// DownloadFilename builds
// Justificacion_<SURNAMES>_<Given_Names>_<DD-MM-YYYY><ext> from a
// "Surname(s), GivenName(s)" string.
func DownloadFilename(originalFilename, studentFullName string, date time.Time) string {
	surnames, given, _ := strings.Cut(studentFullName, ",")

	parts := []string{downloadPrefix}
	if s := joinWords(cases.Upper(language.Und).String(stripAccents(surnames))); s != "" {
		parts = append(parts, s)
	}
	if g := joinWords(cases.Title(language.Und).String(stripAccents(given))); g != "" {
		parts = append(parts, g)
	}
	parts = append(parts, date.Format("02-01-2006"))
	return strings.Join(parts, "_") + path.Ext(originalFilename)
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// joinWords keeps letters, digits and hyphens and joins words with "_".
func joinWords(s string) string {
	words := strings.Fields(s)
	clean := words[:0]
	for _, w := range words {
		w = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
				return r
			}
			return -1
		}, w)
		if w != "" {
			clean = append(clean, w)
		}
	}
	return strings.Join(clean, "_")
}
