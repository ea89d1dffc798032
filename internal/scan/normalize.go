package scan

import (
	"regexp"
	"strings"
)

// Dosage-form and unit tokens carry no identity: "PARACETAMOL 500 MG TABLET"
// and "PARACETAMOL SIRUP" should both search as "PARACETAMOL".
var (
	nonAlnumRE = regexp.MustCompile(`[^A-Z0-9 ]+`)
	formRE     = regexp.MustCompile(`\b(TABLET|TAB|KAPLET|KAPSUL|SIRUP|SYRUP|SUSPENSI|SUSP|INJEKSI|SALEP|SALAP|KRIM|CREAM|OINTMENT|GEL|DROP|SPRAY)\b`)
	unitRE     = regexp.MustCompile(`\b(MG|ML|MCG|GRAM|G|KG)\b`)
	spacesRE   = regexp.MustCompile(`\s+`)
)

// NormalizeTitle canonicalizes an OCR'd product title for retrieval:
// uppercase, punctuation to spaces, dosage-form and unit tokens removed,
// whitespace collapsed.
func NormalizeTitle(s string) string {
	s = strings.ToUpper(s)
	s = nonAlnumRE.ReplaceAllString(s, " ")
	s = formRE.ReplaceAllString(s, " ")
	s = unitRE.ReplaceAllString(s, " ")
	s = spacesRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
