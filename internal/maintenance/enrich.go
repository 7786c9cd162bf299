package maintenance

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifymyprovider/vmp/internal/address"
	"github.com/verifymyprovider/vmp/internal/directory"
	"github.com/verifymyprovider/vmp/internal/freshness"
	"github.com/verifymyprovider/vmp/internal/model"
)

// Facility types assigned by enrichment.
const (
	FacilityHospital        = "HOSPITAL"
	FacilityUrgentCare      = "URGENT_CARE"
	FacilitySurgeryCenter   = "SURGERY_CENTER"
	FacilityImaging         = "IMAGING"
	FacilityLab             = "LAB"
	FacilityBehavioral      = "BEHAVIORAL_HEALTH"
	FacilityDental          = "DENTAL"
	FacilityCommunityHealth = "COMMUNITY_HEALTH"
	FacilityClinic          = "CLINIC"
)

// healthSystems maps normalized name keywords to a system's display name.
// Longer, more specific keywords come first.
var healthSystems = []struct {
	keyword string
	name    string
}{
	{"KAISER PERMANENTE", "Kaiser Permanente"},
	{"KAISER", "Kaiser Permanente"},
	{"MAYO CLINIC", "Mayo Clinic"},
	{"CLEVELAND CLINIC", "Cleveland Clinic"},
	{"JOHNS HOPKINS", "Johns Hopkins Medicine"},
	{"MASS GENERAL BRIGHAM", "Mass General Brigham"},
	{"MASSACHUSETTS GENERAL", "Mass General Brigham"},
	{"NORTHWELL", "Northwell Health"},
	{"NYU LANGONE", "NYU Langone Health"},
	{"MOUNT SINAI", "Mount Sinai Health System"},
	{"CEDARS SINAI", "Cedars-Sinai"},
	{"UPMC", "UPMC"},
	{"SUTTER", "Sutter Health"},
	{"PROVIDENCE", "Providence"},
	{"INTERMOUNTAIN", "Intermountain Health"},
	{"ADVOCATE", "Advocate Health"},
	{"ATRIUM HEALTH", "Advocate Health"},
	{"BANNER", "Banner Health"},
	{"ASCENSION", "Ascension"},
	{"COMMONSPIRIT", "CommonSpirit Health"},
	{"DIGNITY HEALTH", "CommonSpirit Health"},
	{"TRINITY HEALTH", "Trinity Health"},
	{"TENET", "Tenet Healthcare"},
	{"HCA", "HCA Healthcare"},
	{"BAYLOR SCOTT AND WHITE", "Baylor Scott & White Health"},
	{"OCHSNER", "Ochsner Health"},
	{"GEISINGER", "Geisinger"},
	{"SANFORD", "Sanford Health"},
	{"ALLINA", "Allina Health"},
	{"FAIRVIEW", "Fairview Health Services"},
	{"ESSENTIA", "Essentia Health"},
	{"HEALTHPARTNERS", "HealthPartners"},
	{"ONE MEDICAL", "One Medical"},
}

// facilityRules are checked in order against the normalized name.
var facilityRules = []struct {
	keywords []string
	facility string
}{
	{[]string{"URGENT CARE", "URGENTCARE", "WALK IN"}, FacilityUrgentCare},
	{[]string{"SURGERY CENTER", "SURGICAL CENTER", "SURGICENTER", "ASC"}, FacilitySurgeryCenter},
	{[]string{"HOSPITAL", "MEDICAL CENTER", "REGIONAL MEDICAL"}, FacilityHospital},
	{[]string{"IMAGING", "RADIOLOGY", "MRI"}, FacilityImaging},
	{[]string{"LABORATORY", "LABORATORIES", "LAB", "PATHOLOGY"}, FacilityLab},
	{[]string{"BEHAVIORAL", "MENTAL HEALTH", "COUNSELING", "PSYCHIATRIC", "RECOVERY"}, FacilityBehavioral},
	{[]string{"DENTAL", "DENTISTRY", "ORTHODONTICS"}, FacilityDental},
	{[]string{"FQHC", "COMMUNITY HEALTH"}, FacilityCommunityHealth},
	{[]string{"CLINIC", "MEDICAL GROUP", "FAMILY PRACTICE", "FAMILY MEDICINE", "PHYSICIANS", "ASSOCIATES", "HEALTH CENTER"}, FacilityClinic},
}

// containsWord reports whether the normalized text contains kw on word
// boundaries.
func containsWord(text, kw string) bool {
	return strings.Contains(" "+text+" ", " "+kw+" ")
}

// MajorityName returns the most common organization name, comparing
// normalized forms. The winning group is reported in its most common
// spelling. Ties go to the alphabetically first normalized name; blank
// names are ignored.
func MajorityName(names []string) (string, bool) {
	counts := make(map[string]int)
	spellings := make(map[string]map[string]int)
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := address.NormalizeName(n)
		if key == "" {
			continue
		}
		counts[key]++
		if spellings[key] == nil {
			spellings[key] = make(map[string]int)
		}
		spellings[key][n]++
	}
	if len(counts) == 0 {
		return "", false
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	best, bestN := "", 0
	for s, n := range spellings[keys[0]] {
		if n > bestN || (n == bestN && s < best) {
			best, bestN = s, n
		}
	}
	return best, true
}

// HealthSystemFor returns the health system named in any of the given
// names, or "".
func HealthSystemFor(names ...string) string {
	for _, n := range names {
		norm := address.NormalizeName(n)
		if norm == "" {
			continue
		}
		for _, hs := range healthSystems {
			if containsWord(norm, hs.keyword) {
				return hs.name
			}
		}
	}
	return ""
}

// FacilityTypeFor classifies a location by its name, falling back to the
// dominant specialty category of its providers.
func FacilityTypeFor(name string, specialties []string) string {
	if norm := address.NormalizeName(name); norm != "" {
		for _, rule := range facilityRules {
			for _, kw := range rule.keywords {
				if containsWord(norm, kw) {
					return rule.facility
				}
			}
		}
	}

	counts := make(map[freshness.Category]int)
	total := 0
	for _, s := range specialties {
		if strings.TrimSpace(s) == "" {
			continue
		}
		counts[freshness.Categorize(s, "")]++
		total++
	}
	if total == 0 {
		return ""
	}
	switch {
	case counts[freshness.CategoryHospitalBased]*2 > total:
		return FacilityHospital
	case counts[freshness.CategoryMentalHealth]*2 > total:
		return FacilityBehavioral
	case counts[freshness.CategoryPrimaryCare]+counts[freshness.CategorySpecialist] > 0:
		return FacilityClinic
	}
	return ""
}

// Label computes the enrichment for one candidate. Unless relabel is set,
// existing labels are kept and only blanks are filled.
func Label(c directory.LocationCandidate, relabel bool) directory.LocationLabel {
	loc := c.Location
	out := directory.LocationLabel{
		ID:           loc.ID,
		Name:         loc.Name,
		HealthSystem: loc.HealthSystem,
		FacilityType: loc.FacilityType,
	}

	name, ok := MajorityName(c.OrgNames)
	if ok && (relabel || out.Name == "") {
		out.Name = name
	}
	if hs := HealthSystemFor(append([]string{out.Name}, c.OrgNames...)...); hs != "" && (relabel || out.HealthSystem == "") {
		out.HealthSystem = hs
	}
	if ft := FacilityTypeFor(out.Name, c.Specialties); ft != "" && (relabel || out.FacilityType == "") {
		out.FacilityType = ft
	}
	return out
}

// EnrichOptions configures EnrichLocations.
type EnrichOptions struct {
	Options
	// All relabels locations that already have labels.
	All bool
	// MinProviders is the minimum number of providers at an address.
	MinProviders int
}

// EnrichLocations names locations by the majority organization practicing
// there and tags their health system and facility type.
func (r *Runner) EnrichLocations(ctx context.Context, opts EnrichOptions) (*model.JobResult, error) {
	if opts.MinProviders <= 0 {
		opts.MinProviders = 2
	}
	res := &model.JobResult{Details: map[string]any{}}
	named, systems, types := 0, 0, 0

	var after int64
	for {
		cands, err := r.store.EnrichmentCandidates(ctx, after, opts.MinProviders, opts.All, opts.batch())
		if err != nil {
			return res, eris.Wrap(err, "maintenance: enrich locations")
		}
		if len(cands) == 0 {
			break
		}
		after = cands[len(cands)-1].Location.ID
		res.Examined += len(cands)

		var changed []directory.LocationLabel
		for _, c := range cands {
			l := Label(c, opts.All)
			loc := c.Location
			if l.Name == loc.Name && l.HealthSystem == loc.HealthSystem && l.FacilityType == loc.FacilityType {
				continue
			}
			if l.Name != loc.Name {
				named++
			}
			if l.HealthSystem != loc.HealthSystem {
				systems++
			}
			if l.FacilityType != loc.FacilityType {
				types++
			}
			changed = append(changed, l)
		}

		if opts.Apply && len(changed) > 0 {
			n, err := r.store.UpdateLocationLabels(ctx, changed)
			if err != nil {
				return res, eris.Wrapf(err, "maintenance: enrich locations batch %d", res.Batches+1)
			}
			res.Affected += int(n)
		} else {
			res.Residual += len(changed)
		}
		res.Batches++
	}

	res.Details["named"] = named
	res.Details["health_systems"] = systems
	res.Details["facility_types"] = types
	zap.L().Info("maintenance: enrich locations",
		zap.Int("examined", res.Examined),
		zap.Int("named", named),
		zap.Int("health_systems", systems),
		zap.Int("facility_types", types),
		zap.Bool("apply", opts.Apply),
	)
	return res, nil
}
