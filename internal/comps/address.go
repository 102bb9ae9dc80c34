package comps

import (
	"strings"
	"unicode"
)

var addressAbbreviations = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"road":      "rd",
	"drive":     "dr",
	"lane":      "ln",
	"boulevard": "blvd",
	"court":     "ct",
	"place":     "pl",
	"terrace":   "ter",
	"circle":    "cir",
	"parkway":   "pkwy",
	"highway":   "hwy",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
	"apartment": "apt",
	"suite":     "ste",
}

// NormalizeAddress lower-cases an address, strips punctuation, collapses
// whitespace and abbreviates common street words, so that two spellings of
// the same address compare equal.
func NormalizeAddress(address string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, address)

	words := strings.Fields(cleaned)
	for i, w := range words {
		if abbr, ok := addressAbbreviations[w]; ok {
			words[i] = abbr
		}
	}
	return strings.Join(words, " ")
}
