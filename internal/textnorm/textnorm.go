// Package textnorm normalizes raw chapter text before chunking and
// resolution: NFKC form, straightened quotes, collapsed whitespace.
package textnorm

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	quoteReplacer = strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", "\"", "”", "\"",
		"–", " - ", "—", " - ",
		"…", "...",
		" ", " ",
	)
	multiBlank = regexp.MustCompile(`\n{3,}`)
	trailingWS = regexp.MustCompile(`[ \t]+\n`)

	tightQuotedSpan = regexp.MustCompile(`"[ \t]*([^"\n]*?)[ \t]*"`)
	acronymPattern  = regexp.MustCompile(`\b[A-Z]{2,6}\b`)
	yearPattern     = regexp.MustCompile(`\b(1[0-9]|20)([0-9]{2})\b`)
	ordinalPattern  = regexp.MustCompile(`\b([0-9]+)\b`)
)

// Normalize applies NFKC normalization, straightens curly quotes/dashes,
// and collapses runs of blank lines so downstream chunking sees stable
// paragraph boundaries.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = quoteReplacer.Replace(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = trailingWS.ReplaceAllString(s, "\n")
	s = multiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ApplyQuoteMode tightens quoted spans for "tight" mode by dropping the
// whitespace a reader would otherwise pause on just inside the quote
// marks. "normal" leaves the text untouched.
func ApplyQuoteMode(s, mode string) string {
	if mode != "tight" {
		return s
	}
	return tightQuotedSpan.ReplaceAllString(s, `"$1"`)
}

// ApplyAcronymMode spells out all-caps acronyms letter by letter
// ("NASA" -> "N. A. S. A.") for "spell" mode so the phonemizer reads
// them as initialisms instead of guessing a pronunciation for the whole
// token. "off" leaves acronyms untouched.
func ApplyAcronymMode(s, mode string) string {
	if mode != "spell" {
		return s
	}
	return acronymPattern.ReplaceAllStringFunc(s, func(acr string) string {
		var b strings.Builder
		for i, r := range acr {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			b.WriteByte('.')
		}
		return b.String()
	})
}

var ordinalSuffix = map[byte]string{
	'0': "th", '1': "st", '2': "nd", '3': "rd", '4': "th",
	'5': "th", '6': "th", '7': "th", '8': "th", '9': "th",
}

// ApplyNumberMode rewrites bare digit runs according to the reading
// style: "ordinal" appends the English ordinal suffix ("3" -> "3rd"),
// "year" splits a four-digit year into the two-pair cadence a reader
// uses ("1999" -> "19 99"). "cardinal" is the default digit reading and
// is left untouched.
func ApplyNumberMode(s, mode string) string {
	switch mode {
	case "year":
		return yearPattern.ReplaceAllString(s, "$1 $2")
	case "ordinal":
		return ordinalPattern.ReplaceAllStringFunc(s, func(n string) string {
			last := n[len(n)-1]
			// teens always read "-th", not "-st"/"-nd"/"-rd"
			if len(n) >= 2 && n[len(n)-2] == '1' {
				return n + "th"
			}
			return n + ordinalSuffix[last]
		})
	default:
		return s
	}
}
