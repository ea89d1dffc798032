package search

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// codeLikeRE matches registry code prefixes followed by at least three more
// code characters. Applied to the uppercased query.
var codeLikeRE = regexp.MustCompile(`\b(NA|NB|NC|ND|NE|NR|TR|SD|ML|DBL|DKL|AKL)[A-Z0-9\-.]{3,}`)

// noisyPunctRatio is the share of non-alphanumeric, non-space characters
// above which a query counts as OCR noise.
const noisyPunctRatio = 0.15

// LooksLikeCode reports whether the query resembles a registration code and
// should go to the exact tier first.
func LooksLikeCode(q string) bool {
	return codeLikeRE.MatchString(strings.ToUpper(strings.TrimSpace(q)))
}

// IsNoisy reports whether the query looks like OCR garbage: too short, or
// too much punctuation relative to its length.
func IsNoisy(q string) bool {
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) < 3 {
		return true
	}

	var total, punct int
	for _, r := range q {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		punct++
	}
	return float64(punct)/float64(total) > noisyPunctRatio
}
