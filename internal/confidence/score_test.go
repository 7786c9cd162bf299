package confidence

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifymyprovider/vmp/internal/config"
	"github.com/verifymyprovider/vmp/internal/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) *time.Time {
	t := testNow.AddDate(0, 0, -d)
	return &t
}

func newTestScorer() *Scorer {
	return NewScorer(DefaultConfig())
}

func TestDataSourceScore(t *testing.T) {
	s := newTestScorer()

	tests := []struct {
		src  model.VerificationSource
		want float64
	}{
		{model.SourceCMSData, 25},
		{model.SourceCarrierData, 20},
		{model.SourceProviderPortal, 20},
		{model.SourcePhoneCall, 15},
		{model.SourceCrowdsource, 15},
		{model.SourceAutomated, 10},
		{model.VerificationSource("SOMETHING_NEW"), 10},
		{"", 10},
	}

	for _, tt := range tests {
		t.Run(string(tt.src), func(t *testing.T) {
			assert.InDelta(t, tt.want, s.DataSourceScore(tt.src), 0.001)
		})
	}
}

func TestDataSourceScore_ClampsConfiguredValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SourceScores = map[string]float64{"cms_data": 40, "crowdsource": -3}
	s := NewScorer(cfg)

	assert.InDelta(t, MaxDataSource, s.DataSourceScore(model.SourceCMSData), 0.001)
	assert.InDelta(t, 0, s.DataSourceScore(model.SourceCrowdsource), 0.001)
}

func TestRecencyScore(t *testing.T) {
	s := newTestScorer()

	tests := []struct {
		name string
		last *time.Time
		want float64
	}{
		{"never verified", nil, 0},
		{"today", daysAgo(0), 30},
		{"12 days", daysAgo(12), 28},
		{"90 days", daysAgo(90), 15},
		{"180 days", daysAgo(180), 0},
		{"a year", daysAgo(365), 0},
		{"future timestamp", daysAgo(-10), 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.RecencyScore(tt.last, testNow), 0.001)
		})
	}
}

func TestRecencyScore_NonIncreasingWithAge(t *testing.T) {
	s := newTestScorer()
	prev := math.Inf(1)
	for d := 0; d <= 400; d++ {
		got := s.RecencyScore(daysAgo(d), testNow)
		assert.LessOrEqual(t, got, prev, "day %d", d)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, MaxRecency)
		prev = got
	}
}

func TestVerificationScore(t *testing.T) {
	s := newTestScorer()

	tests := []struct {
		count int
		want  float64
	}{
		{-4, 0},
		{0, 0},
		{1, 5},
		{2, 10},
		{3, 15},
		{4, 20},
		{5, 25},
		{6, 25},
		{500, 25},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, s.VerificationScore(tt.count), 0.001, "count %d", tt.count)
	}
}

func TestVerificationScore_NonDecreasingAndSaturates(t *testing.T) {
	s := newTestScorer()
	prev := -1.0
	for c := 0; c <= 50; c++ {
		got := s.VerificationScore(c)
		assert.GreaterOrEqual(t, got, prev)
		if c >= 5 {
			assert.InDelta(t, 25.0, got, 0.001)
		}
		prev = got
	}
}

func TestAgreementScore(t *testing.T) {
	tests := []struct {
		name     string
		agreeing int
		total    int
		want     float64
	}{
		{"no verifications", 0, 0, 0},
		{"single verification", 1, 1, 0},
		{"two agree", 2, 2, 20},
		{"split two", 1, 2, 10},
		{"two of three", 2, 3, 13.3},
		{"seven of ten", 7, 10, 14},
		{"agreeing above total clamps", 9, 4, 20},
		{"negative agreeing clamps", -2, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AgreementScore(tt.agreeing, tt.total), 0.001)
		})
	}
}

func TestFromBreakdown_ExampleIsHighConfidence(t *testing.T) {
	s := newTestScorer()

	r := s.FromBreakdown(Breakdown{DataSource: 25, Recency: 28, Verification: 15, Agreement: 14}, 3)

	assert.InDelta(t, 82.0, r.Score, 0.001)
	assert.Equal(t, LevelHigh, r.Level)
	assert.Equal(t, "High Confidence", r.Label)
	assert.NotEmpty(t, r.Description)
}

func TestFromBreakdown_ClampsSubScores(t *testing.T) {
	s := newTestScorer()

	r := s.FromBreakdown(Breakdown{DataSource: 99, Recency: 99, Verification: 99, Agreement: 99}, 10)
	assert.InDelta(t, 100.0, r.Score, 0.001)
	assert.InDelta(t, MaxDataSource, r.Breakdown.DataSource, 0.001)
	assert.InDelta(t, MaxRecency, r.Breakdown.Recency, 0.001)
	assert.InDelta(t, MaxVerification, r.Breakdown.Verification, 0.001)
	assert.InDelta(t, MaxAgreement, r.Breakdown.Agreement, 0.001)
	assert.Equal(t, LevelVeryHigh, r.Level)

	r = s.FromBreakdown(Breakdown{DataSource: -5, Recency: -1, Verification: math.NaN(), Agreement: -20}, 0)
	assert.InDelta(t, 0.0, r.Score, 0.001)
	assert.Equal(t, LevelVeryLow, r.Level)
}

func TestTotal_EqualsClampedSum(t *testing.T) {
	// Walk the sub-score grid; total must always be in [0,100] and equal
	// the sum of the bounded parts.
	for ds := 0.0; ds <= MaxDataSource; ds += 5 {
		for rc := 0.0; rc <= MaxRecency; rc += 5 {
			for vf := 0.0; vf <= MaxVerification; vf += 5 {
				for ag := 0.0; ag <= MaxAgreement; ag += 5 {
					b := Breakdown{DataSource: ds, Recency: rc, Verification: vf, Agreement: ag}
					total := b.Total()
					require.GreaterOrEqual(t, total, 0.0)
					require.LessOrEqual(t, total, MaxScore)
					require.InDelta(t, ds+rc+vf+ag, total, 0.001)
				}
			}
		}
	}
}

func TestCalculate(t *testing.T) {
	s := newTestScorer()

	r := s.Calculate(Input{
		Source:            model.SourceCMSData,
		LastVerifiedAt:    daysAgo(12),
		VerificationCount: 3,
		AgreeingCount:     3,
		Now:               testNow,
	})

	assert.InDelta(t, 25.0, r.Breakdown.DataSource, 0.001)
	assert.InDelta(t, 28.0, r.Breakdown.Recency, 0.001)
	assert.InDelta(t, 15.0, r.Breakdown.Verification, 0.001)
	assert.InDelta(t, 20.0, r.Breakdown.Agreement, 0.001)
	assert.InDelta(t, 88.0, r.Score, 0.001)
	assert.Equal(t, LevelHigh, r.Level)
}

func TestCalculate_Deterministic(t *testing.T) {
	s := newTestScorer()
	in := Input{
		Source:            model.SourceCrowdsource,
		LastVerifiedAt:    daysAgo(40),
		VerificationCount: 4,
		AgreeingCount:     3,
		Now:               testNow,
	}
	assert.Equal(t, s.Calculate(in), s.Calculate(in))
}

func TestCalculate_NoEvidence(t *testing.T) {
	s := newTestScorer()
	r := s.Calculate(Input{Source: model.SourceAutomated, Now: testNow})

	assert.InDelta(t, 10.0, r.Score, 0.001)
	assert.Equal(t, LevelVeryLow, r.Level)
	assert.InDelta(t, 0.0, r.Breakdown.Agreement, 0.001)
}

func TestLevelFor(t *testing.T) {
	s := newTestScorer()

	tests := []struct {
		score float64
		count int
		want  Level
	}{
		{100, 5, LevelVeryHigh},
		{91, 3, LevelVeryHigh},
		{90.9, 3, LevelHigh},
		{76, 3, LevelHigh},
		{75.9, 3, LevelMedium},
		{51, 3, LevelMedium},
		{50, 3, LevelLow},
		{26, 3, LevelLow},
		{25.9, 3, LevelVeryLow},
		{0, 0, LevelVeryLow},
		// Fewer than three verifications cannot reach HIGH.
		{95, 2, LevelMedium},
		{80, 0, LevelMedium},
		{40, 1, LevelLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, s.LevelFor(tt.score, tt.count), "score %.1f count %d", tt.score, tt.count)
	}
}

func TestApplyAndForAcceptance_RoundTrip(t *testing.T) {
	s := newTestScorer()
	r := s.Calculate(Input{
		Source:            model.SourcePhoneCall,
		LastVerifiedAt:    daysAgo(30),
		VerificationCount: 2,
		AgreeingCount:     2,
		Now:               testNow,
	})

	a := &model.ProviderPlanAcceptance{VerificationCount: 2}
	r.Apply(a)

	again := s.ForAcceptance(a)
	assert.InDelta(t, r.Score, again.Score, 0.001)
	assert.Equal(t, r.Breakdown, again.Breakdown)
	assert.Equal(t, r.Level, again.Level)
	assert.InDelta(t, a.ConfidenceScore, BreakdownOf(a).Total(), 0.001)
}

func TestNewScorer_ZeroConfigUsesDefaults(t *testing.T) {
	s := NewScorer(config.ConfidenceConfig{})
	assert.InDelta(t, 25.0, s.DataSourceScore(model.SourceCMSData), 0.001)
	assert.InDelta(t, 25.0, s.VerificationScore(9), 0.001)
	assert.InDelta(t, 15.0, s.RecencyScore(daysAgo(90), testNow), 0.001)
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, ValidateConfig(DefaultConfig()))

	bad := DefaultConfig()
	bad.SourceScores = map[string]float64{"cms_data": 30}
	bad.VerificationStep = 10
	bad.RecencyMaxAgeDays = -1
	err := ValidateConfig(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source_scores.cms_data")
	assert.Contains(t, err.Error(), "verification_step * verification_cap")
	assert.Contains(t, err.Error(), "recency_max_age_days")
}

func TestLevelLabel(t *testing.T) {
	assert.Equal(t, "Very Low Confidence", LevelVeryLow.Label())
	assert.Equal(t, "", Level("NOPE").Label())
}
