// Package freshness decides whether a plan-acceptance verification is recent
// enough to trust, using re-verification thresholds that vary by specialty.
package freshness

import "strings"

// Category is the specialty group a provider falls into for freshness
// purposes.
type Category string

const (
	CategoryMentalHealth  Category = "MENTAL_HEALTH"
	CategoryPrimaryCare   Category = "PRIMARY_CARE"
	CategorySpecialist    Category = "SPECIALIST"
	CategoryHospitalBased Category = "HOSPITAL_BASED"
	CategoryOther         Category = "OTHER"
)

// Categories lists every category in matching order.
var Categories = []Category{
	CategoryMentalHealth,
	CategoryHospitalBased,
	CategorySpecialist,
	CategoryPrimaryCare,
	CategoryOther,
}

type keywordRule struct {
	category Category
	keywords []string
}

// Specialist is matched before primary care so "Pediatric Cardiology" is a
// specialist while "Pediatrics" stays primary care.
var keywordRules = []keywordRule{
	{CategoryMentalHealth, []string{
		"psychiatr", "psycholog", "psychotherap", "mental health", "behavioral health",
		"counselor", "counseling", "social work", "marriage & family", "marriage and family",
		"addiction", "substance",
	}},
	{CategoryHospitalBased, []string{
		"hospitalist", "emergency", "anesthesi", "radiolog", "patholog", "critical care",
		"intensivist", "neonatal",
	}},
	{CategorySpecialist, []string{
		"cardio", "dermatolog", "oncolog", "neurolog", "orthop", "gastroenterolog", "endocrinolog",
		"urolog", "nephrolog", "pulmon", "rheumatolog", "ophthalmolog", "otolaryngolog", "surg",
		"allerg", "hematolog", "infectious", "podiatr", "sports medicine", "pain medicine",
	}},
	{CategoryPrimaryCare, []string{
		"family medicine", "family practice", "internal medicine", "general practice", "pediatric",
		"primary care", "geriatric", "obstetric", "gynecolog", "nurse practitioner", "preventive",
	}},
}

// NUCC taxonomy codes. Exact codes are checked before prefixes.
var (
	primaryCareCodes = map[string]bool{
		"207Q00000X": true, // family medicine
		"207R00000X": true, // internal medicine
		"208D00000X": true, // general practice
		"208000000X": true, // pediatrics
		"207V00000X": true, // obstetrics & gynecology
		"363LF0000X": true, // NP, family
		"363LP2300X": true, // NP, primary care
	}
	mentalHealthPrefixes  = []string{"101Y", "103T", "1041", "106H", "2084P0800X"}
	hospitalBasedPrefixes = []string{"207P", "2085", "207L", "207ZP", "208M"}
)

// Categorize maps specialty text and a taxonomy code to a category.
// Specialty keywords win; the taxonomy code is the fallback.
func Categorize(specialty, taxonomyCode string) Category {
	s := strings.ToLower(strings.TrimSpace(specialty))
	if s != "" {
		for _, r := range keywordRules {
			for _, kw := range r.keywords {
				if strings.Contains(s, kw) {
					return r.category
				}
			}
		}
	}
	return categorizeTaxonomy(taxonomyCode)
}

func categorizeTaxonomy(code string) Category {
	code = strings.ToUpper(strings.TrimSpace(code))
	switch {
	case code == "":
		return CategoryOther
	case hasAnyPrefix(code, mentalHealthPrefixes):
		return CategoryMentalHealth
	case hasAnyPrefix(code, hospitalBasedPrefixes):
		return CategoryHospitalBased
	case primaryCareCodes[code]:
		return CategoryPrimaryCare
	case strings.HasPrefix(code, "20"):
		// Remaining allopathic and osteopathic physician codes.
		return CategorySpecialist
	}
	return CategoryOther
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
