package freshness

import (
	"fmt"
	"math"
	"time"

	"github.com/verifymyprovider/vmp/internal/config"
)

// Level is the three-way staleness signal.
type Level string

const (
	LevelFresh   Level = "FRESH"
	LevelWarning Level = "WARNING"
	LevelStale   Level = "STALE"
)

// Status is the freshness of one verification.
type Status struct {
	Level         Level    `json:"level"`
	Category      Category `json:"category"`
	DaysSince     *int     `json:"days_since_verification"`
	ThresholdDays int      `json:"threshold_days"`
	Message       string   `json:"message"`
	// NeedsVerification is set for anything past the fresh window.
	NeedsVerification bool `json:"needs_verification"`
}

// DefaultConfig returns the research-backed thresholds: mental health
// networks churn fastest, hospital-based coverage the slowest.
func DefaultConfig() config.FreshnessConfig {
	return config.FreshnessConfig{
		MentalHealthDays:  30,
		PrimaryCareDays:   60,
		SpecialistDays:    60,
		HospitalBasedDays: 90,
		OtherDays:         60,
	}
}

// Evaluator applies per-category thresholds.
type Evaluator struct {
	thresholds map[Category]int
}

// NewEvaluator builds an Evaluator. Non-positive thresholds take defaults.
func NewEvaluator(cfg config.FreshnessConfig) *Evaluator {
	d := DefaultConfig()
	pick := func(v, def int) int {
		if v <= 0 {
			return def
		}
		return v
	}
	return &Evaluator{thresholds: map[Category]int{
		CategoryMentalHealth:  pick(cfg.MentalHealthDays, d.MentalHealthDays),
		CategoryPrimaryCare:   pick(cfg.PrimaryCareDays, d.PrimaryCareDays),
		CategorySpecialist:    pick(cfg.SpecialistDays, d.SpecialistDays),
		CategoryHospitalBased: pick(cfg.HospitalBasedDays, d.HospitalBasedDays),
		CategoryOther:         pick(cfg.OtherDays, d.OtherDays),
	}}
}

// Threshold returns the re-verification window for a category. Unknown
// categories use the OTHER window.
func (e *Evaluator) Threshold(c Category) int {
	if t, ok := e.thresholds[c]; ok {
		return t
	}
	return e.thresholds[CategoryOther]
}

// Evaluate classifies a last-verified timestamp. Nil is always stale.
func (e *Evaluator) Evaluate(lastVerified *time.Time, c Category, now time.Time) Status {
	if _, ok := e.thresholds[c]; !ok {
		c = CategoryOther
	}
	threshold := e.Threshold(c)
	st := Status{Category: c, ThresholdDays: threshold}

	if lastVerified == nil || lastVerified.IsZero() {
		st.Level = LevelStale
		st.NeedsVerification = true
		st.Message = "This plan acceptance has never been verified. Please confirm with the office before your visit."
		return st
	}

	days := DaysSince(*lastVerified, now)
	st.DaysSince = &days
	st.Level = LevelFor(days, threshold)
	st.NeedsVerification = st.Level != LevelFresh

	switch st.Level {
	case LevelFresh:
		st.Message = fmt.Sprintf("Verified %s.", agoText(days))
	case LevelWarning:
		st.Message = fmt.Sprintf("Last verified %s. Networks for this specialty change often; consider re-verifying.", agoText(days))
	default:
		st.Message = fmt.Sprintf("Last verified %s, past the %d-day window. This information may be out of date.", agoText(days), threshold)
	}
	return st
}

// EvaluateSpecialty categorizes and evaluates in one step.
func (e *Evaluator) EvaluateSpecialty(lastVerified *time.Time, specialty, taxonomyCode string, now time.Time) Status {
	return e.Evaluate(lastVerified, Categorize(specialty, taxonomyCode), now)
}

// LevelFor maps days since verification onto a level: at or under the
// threshold is fresh, at or under twice the threshold is a warning.
func LevelFor(days, threshold int) Level {
	switch {
	case days <= threshold:
		return LevelFresh
	case days <= 2*threshold:
		return LevelWarning
	default:
		return LevelStale
	}
}

// DaysSince returns whole days elapsed, floored. Future timestamps are 0.
func DaysSince(t, now time.Time) int {
	d := now.Sub(t).Hours() / 24
	if d <= 0 {
		return 0
	}
	return int(math.Floor(d))
}

func agoText(days int) string {
	switch days {
	case 0:
		return "today"
	case 1:
		return "yesterday"
	}
	return fmt.Sprintf("%d days ago", days)
}
