// Package address normalizes free-text street addresses and organization
// names so that duplicate locations can be matched.
package address

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks folds accented characters to their base letters.
var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func fold(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return out
}

var ordinalWords = map[string]string{
	"FIRST": "1ST", "SECOND": "2ND", "THIRD": "3RD", "FOURTH": "4TH", "FIFTH": "5TH",
	"SIXTH": "6TH", "SEVENTH": "7TH", "EIGHTH": "8TH", "NINTH": "9TH", "TENTH": "10TH",
	"ELEVENTH": "11TH", "TWELFTH": "12TH",
}

// Street types and directionals expand to their long form. USPS
// abbreviations appear in NPPES data, spelled-out words in user input.
var streetWords = map[string]string{
	"ST": "STREET", "STR": "STREET",
	"AVE": "AVENUE", "AV": "AVENUE", "AVN": "AVENUE",
	"BLVD": "BOULEVARD", "BLV": "BOULEVARD",
	"RD": "ROAD",
	"DR": "DRIVE", "DRV": "DRIVE",
	"LN": "LANE",
	"CT": "COURT",
	"CIR": "CIRCLE",
	"PL": "PLACE",
	"PKWY": "PARKWAY", "PKY": "PARKWAY",
	"HWY": "HIGHWAY",
	"FWY": "FREEWAY",
	"EXPY": "EXPRESSWAY",
	"TER": "TERRACE",
	"TRL": "TRAIL",
	"SQ": "SQUARE",
	"PLZ": "PLAZA",
	"CTR": "CENTER",
	"MT": "MOUNT",
	"FT": "FORT",
	"N": "NORTH", "S": "SOUTH", "E": "EAST", "W": "WEST",
	"NE": "NORTHEAST", "NW": "NORTHWEST", "SE": "SOUTHEAST", "SW": "SOUTHWEST",
}

// unitRe matches a trailing secondary unit designator and everything after
// it. "#" needs no word boundary.
var unitRe = regexp.MustCompile(`(?:\b(?:SUITE|STE|UNIT|APT|APARTMENT|ROOM|RM|FLOOR|FL|BLDG|BUILDING|DEPT)\b|#).*$`)

var (
	nonAlnumRe   = regexp.MustCompile(`[^A-Z0-9 ]+`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// NormalizeStreet canonicalizes a street line: upper-cased, accents folded,
// punctuation removed, ordinals numeric, street types and directionals
// expanded, and any suite or unit dropped.
func NormalizeStreet(line string) string {
	s := strings.ToUpper(strings.TrimSpace(fold(line)))
	if s == "" {
		return ""
	}
	s = unitRe.ReplaceAllString(s, "")
	s = nonAlnumRe.ReplaceAllString(s, " ")

	words := strings.Fields(s)
	for i, w := range words {
		if o, ok := ordinalWords[w]; ok {
			words[i] = o
			continue
		}
		if x, ok := streetWords[w]; ok {
			words[i] = x
		}
	}
	return strings.Join(words, " ")
}

// NormalizeCity upper-cases and folds a city name, expanding SAINT/FORT
// style abbreviations.
func NormalizeCity(city string) string {
	s := strings.ToUpper(strings.TrimSpace(fold(city)))
	s = nonAlnumRe.ReplaceAllString(s, " ")
	words := strings.Fields(s)
	for i, w := range words {
		switch w {
		case "ST":
			words[i] = "SAINT"
		case "FT":
			words[i] = "FORT"
		case "MT":
			words[i] = "MOUNT"
		}
	}
	return strings.Join(words, " ")
}

// Zip5 returns the first five digits of a ZIP or ZIP+4.
func Zip5(zip string) string {
	var b strings.Builder
	for _, r := range zip {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == 5 {
				break
			}
		}
	}
	return b.String()
}

// legalSuffixes lists entity suffixes stripped from organization names,
// including professional-corporation forms common to medical practices.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" LLP", " L.L.P.",
	" PLLC", " P.L.L.C.",
	" PC", " P.C.", " P.C",
	" PA", " P.A.", " P.A",
	" CO", " CO.",
	" DBA", " D/B/A",
}

// NormalizeName standardizes an organization name for majority voting:
// upper-cased, legal suffix removed, punctuation stripped, spaces collapsed.
func NormalizeName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(fold(name)))
	if name == "" {
		return ""
	}

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", " AND ",
		"-", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
