package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Policy is a standalone YAML file carrying the scoring and freshness
// constants. Ops can ship a revised policy without touching the main config.
type Policy struct {
	Confidence *ConfidenceConfig `yaml:"confidence"`
	Freshness  *FreshnessConfig  `yaml:"freshness"`
}

// ApplyPolicyFile reads a policy file and overlays its non-zero values onto
// cfg. An empty path is a no-op.
func ApplyPolicyFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "config: read policy %s", path)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return eris.Wrapf(err, "config: parse policy %s", path)
	}

	if c := p.Confidence; c != nil {
		if len(c.SourceScores) > 0 {
			merged := make(map[string]float64, len(cfg.Confidence.SourceScores)+len(c.SourceScores))
			for k, v := range cfg.Confidence.SourceScores {
				merged[k] = v
			}
			for k, v := range c.SourceScores {
				merged[k] = v
			}
			cfg.Confidence.SourceScores = merged
		}
		overlayFloat(&cfg.Confidence.DefaultSourceScore, c.DefaultSourceScore)
		overlayInt(&cfg.Confidence.RecencyMaxAgeDays, c.RecencyMaxAgeDays)
		overlayFloat(&cfg.Confidence.VerificationStep, c.VerificationStep)
		overlayInt(&cfg.Confidence.VerificationCap, c.VerificationCap)
		overlayInt(&cfg.Confidence.MinVerificationsHigh, c.MinVerificationsHigh)
	}

	if f := p.Freshness; f != nil {
		overlayInt(&cfg.Freshness.MentalHealthDays, f.MentalHealthDays)
		overlayInt(&cfg.Freshness.PrimaryCareDays, f.PrimaryCareDays)
		overlayInt(&cfg.Freshness.SpecialistDays, f.SpecialistDays)
		overlayInt(&cfg.Freshness.HospitalBasedDays, f.HospitalBasedDays)
		overlayInt(&cfg.Freshness.OtherDays, f.OtherDays)
	}

	return nil
}

func overlayInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func overlayFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}
