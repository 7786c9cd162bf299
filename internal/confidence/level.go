package confidence

// Level is the categorical confidence band shown to users.
type Level string

const (
	LevelVeryHigh Level = "VERY_HIGH"
	LevelHigh     Level = "HIGH"
	LevelMedium   Level = "MEDIUM"
	LevelLow      Level = "LOW"
	LevelVeryLow  Level = "VERY_LOW"
)

type levelCopy struct {
	label       string
	description string
}

var levelInfo = map[Level]levelCopy{
	LevelVeryHigh: {"Very High Confidence", "Verified by multiple recent, authoritative sources that agree."},
	LevelHigh:     {"High Confidence", "Recently verified and corroborated. Still worth confirming with the office."},
	LevelMedium:   {"Medium Confidence", "Some supporting evidence. Call the office to confirm before your visit."},
	LevelLow:      {"Low Confidence", "Limited or conflicting evidence. Confirm directly with the provider."},
	LevelVeryLow:  {"Very Low Confidence", "Little or no verification. Treat this as unconfirmed."},
}

// LevelFor maps a score to its band. Fewer than the configured minimum
// verifications caps the band at MEDIUM.
func (s *Scorer) LevelFor(score float64, verificationCount int) Level {
	var level Level
	switch {
	case score >= 91:
		level = LevelVeryHigh
	case score >= 76:
		level = LevelHigh
	case score >= 51:
		level = LevelMedium
	case score >= 26:
		level = LevelLow
	default:
		level = LevelVeryLow
	}

	if verificationCount < s.cfg.MinVerificationsHigh && (level == LevelVeryHigh || level == LevelHigh) {
		return LevelMedium
	}
	return level
}

// Label returns the display label for a level.
func (l Level) Label() string {
	return levelInfo[l].label
}

// Description returns the guidance text shown under the label.
func (l Level) Description() string {
	return levelInfo[l].description
}
