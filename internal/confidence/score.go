package confidence

import (
	"math"
	"time"

	"github.com/verifymyprovider/vmp/internal/config"
	"github.com/verifymyprovider/vmp/internal/model"
)

// Breakdown holds the four sub-scores behind a confidence score.
type Breakdown struct {
	DataSource   float64 `json:"data_source"`
	Recency      float64 `json:"recency"`
	Verification float64 `json:"verification"`
	Agreement    float64 `json:"agreement"`
}

// Clamp bounds each sub-score to its range.
func (b Breakdown) Clamp() Breakdown {
	return Breakdown{
		DataSource:   clamp(b.DataSource, 0, MaxDataSource),
		Recency:      clamp(b.Recency, 0, MaxRecency),
		Verification: clamp(b.Verification, 0, MaxVerification),
		Agreement:    clamp(b.Agreement, 0, MaxAgreement),
	}
}

// Total returns the clamped sum of the clamped sub-scores.
func (b Breakdown) Total() float64 {
	c := b.Clamp()
	return round1(clamp(c.DataSource+c.Recency+c.Verification+c.Agreement, 0, MaxScore))
}

// BreakdownOf reads the stored sub-scores of an acceptance.
func BreakdownOf(a *model.ProviderPlanAcceptance) Breakdown {
	return Breakdown{
		DataSource:   a.DataSourceScore,
		Recency:      a.RecencyScore,
		Verification: a.VerificationScore,
		Agreement:    a.AgreementScore,
	}
}

// Apply writes a result's breakdown and total onto an acceptance.
func (r Result) Apply(a *model.ProviderPlanAcceptance) {
	a.DataSourceScore = r.Breakdown.DataSource
	a.RecencyScore = r.Breakdown.Recency
	a.VerificationScore = r.Breakdown.Verification
	a.AgreementScore = r.Breakdown.Agreement
	a.ConfidenceScore = r.Score
}

// Input is the verification evidence for one (provider, plan) pair.
type Input struct {
	Source            model.VerificationSource
	LastVerifiedAt    *time.Time
	VerificationCount int
	// AgreeingCount is how many verifications agree with the majority claim.
	AgreeingCount int
	Now           time.Time
}

// Result is a computed confidence score.
type Result struct {
	Score       float64   `json:"score"`
	Level       Level     `json:"level"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	Breakdown   Breakdown `json:"breakdown"`
}

// Scorer computes confidence scores under a scoring policy. It is
// stateless and safe for concurrent use.
type Scorer struct {
	cfg config.ConfidenceConfig
}

// NewScorer creates a Scorer. Zero-valued policy fields take defaults.
func NewScorer(cfg config.ConfidenceConfig) *Scorer {
	return &Scorer{cfg: withDefaults(cfg)}
}

// Calculate scores the given evidence.
func (s *Scorer) Calculate(in Input) Result {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	b := Breakdown{
		DataSource:   s.DataSourceScore(in.Source),
		Recency:      s.RecencyScore(in.LastVerifiedAt, now),
		Verification: s.VerificationScore(in.VerificationCount),
		Agreement:    AgreementScore(in.AgreeingCount, in.VerificationCount),
	}
	return s.FromBreakdown(b, in.VerificationCount)
}

// FromBreakdown rebuilds a result from stored sub-scores. The score is
// always recomputable this way.
func (s *Scorer) FromBreakdown(b Breakdown, verificationCount int) Result {
	b = b.Clamp()
	b = Breakdown{
		DataSource:   round1(b.DataSource),
		Recency:      round1(b.Recency),
		Verification: round1(b.Verification),
		Agreement:    round1(b.Agreement),
	}
	score := b.Total()
	level := s.LevelFor(score, verificationCount)
	info := levelInfo[level]
	return Result{
		Score:       score,
		Level:       level,
		Label:       info.label,
		Description: info.description,
		Breakdown:   b,
	}
}

// ForAcceptance rebuilds the result stored on an acceptance row.
func (s *Scorer) ForAcceptance(a *model.ProviderPlanAcceptance) Result {
	return s.FromBreakdown(BreakdownOf(a), a.VerificationCount)
}

// DataSourceScore rates the authority of a source, 0-25.
func (s *Scorer) DataSourceScore(src model.VerificationSource) float64 {
	v, ok := s.cfg.SourceScores[src.Key()]
	if !ok {
		v = s.cfg.DefaultSourceScore
	}
	return clamp(v, 0, MaxDataSource)
}

// RecencyScore decays linearly from 30 at age zero to 0 at the configured
// maximum age. A missing timestamp scores 0; future timestamps count as now.
func (s *Scorer) RecencyScore(lastVerified *time.Time, now time.Time) float64 {
	if lastVerified == nil || lastVerified.IsZero() {
		return 0
	}
	days := now.Sub(*lastVerified).Hours() / 24
	if days < 0 {
		days = 0
	}
	maxAge := float64(s.cfg.RecencyMaxAgeDays)
	return round1(clamp(MaxRecency*(1-days/maxAge), 0, MaxRecency))
}

// VerificationScore is min(count, cap) * step, saturating at 25 by default
// once five verifications exist.
func (s *Scorer) VerificationScore(count int) float64 {
	if count < 0 {
		count = 0
	}
	if count > s.cfg.VerificationCap {
		count = s.cfg.VerificationCap
	}
	return clamp(float64(count)*s.cfg.VerificationStep, 0, MaxVerification)
}

// AgreementScore is proportional to the share of verifications agreeing
// with the majority claim. A single verification cannot agree with anything.
func AgreementScore(agreeing, total int) float64 {
	if total <= 1 {
		return 0
	}
	if agreeing < 0 {
		agreeing = 0
	}
	if agreeing > total {
		agreeing = total
	}
	return round1(MaxAgreement * float64(agreeing) / float64(total))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
