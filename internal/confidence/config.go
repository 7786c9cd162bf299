// Package confidence computes the 0-100 confidence score for a provider's
// claimed plan acceptance from four bounded sub-scores.
package confidence

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/verifymyprovider/vmp/internal/config"
)

// Sub-score bounds. The total is the clamped sum of the four.
const (
	MaxDataSource   = 25.0
	MaxRecency      = 30.0
	MaxVerification = 25.0
	MaxAgreement    = 20.0
	MaxScore        = 100.0
)

// DefaultConfig returns the scoring policy with its research-derived
// defaults: three confirmations are expert-level, five saturate.
func DefaultConfig() config.ConfidenceConfig {
	return config.ConfidenceConfig{
		SourceScores:         config.DefaultSourceScores(),
		DefaultSourceScore:   10,
		RecencyMaxAgeDays:    180,
		VerificationStep:     5,
		VerificationCap:      5,
		MinVerificationsHigh: 3,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func withDefaults(c config.ConfidenceConfig) config.ConfidenceConfig {
	d := DefaultConfig()
	if len(c.SourceScores) == 0 {
		c.SourceScores = d.SourceScores
	}
	if c.DefaultSourceScore == 0 {
		c.DefaultSourceScore = d.DefaultSourceScore
	}
	if c.RecencyMaxAgeDays <= 0 {
		c.RecencyMaxAgeDays = d.RecencyMaxAgeDays
	}
	if c.VerificationStep == 0 {
		c.VerificationStep = d.VerificationStep
	}
	if c.VerificationCap <= 0 {
		c.VerificationCap = d.VerificationCap
	}
	if c.MinVerificationsHigh <= 0 {
		c.MinVerificationsHigh = d.MinVerificationsHigh
	}
	return c
}

// ValidateConfig checks that a ConfidenceConfig stays within the sub-score
// bounds.
func ValidateConfig(c config.ConfidenceConfig) error {
	var errs []string

	for src, v := range c.SourceScores {
		if v < 0 || v > MaxDataSource {
			errs = append(errs, fmt.Sprintf("source_scores.%s must be between 0 and %.0f", src, MaxDataSource))
		}
	}
	if c.DefaultSourceScore < 0 || c.DefaultSourceScore > MaxDataSource {
		errs = append(errs, fmt.Sprintf("default_source_score must be between 0 and %.0f", MaxDataSource))
	}
	if c.RecencyMaxAgeDays < 0 {
		errs = append(errs, "recency_max_age_days must be >= 0")
	}
	if c.VerificationStep < 0 {
		errs = append(errs, "verification_step must be >= 0")
	}
	if c.VerificationCap < 0 {
		errs = append(errs, "verification_cap must be >= 0")
	}
	if c.VerificationStep*float64(c.VerificationCap) > MaxVerification {
		errs = append(errs, fmt.Sprintf("verification_step * verification_cap must not exceed %.0f", MaxVerification))
	}
	if c.MinVerificationsHigh < 0 {
		errs = append(errs, "min_verifications_high must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("confidence: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
