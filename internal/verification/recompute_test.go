package verification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifymyprovider/vmp/internal/confidence"
	"github.com/verifymyprovider/vmp/internal/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ago(days int) time.Time { return now.AddDate(0, 0, -days) }

func boolPtr(b bool) *bool { return &b }

func claim(src model.VerificationSource, st model.AcceptanceStatus, days int) model.VerificationLog {
	return model.VerificationLog{
		NPI: "1234567890", PlanID: "P1", Source: src, ClaimedStatus: st, CreatedAt: ago(days),
	}
}

func TestRecompute_MajorityAndScore(t *testing.T) {
	s := confidence.NewScorer(confidence.DefaultConfig())
	logs := []model.VerificationLog{
		claim(model.SourceCrowdsource, model.StatusAccepted, 10),
		claim(model.SourcePhoneCall, model.StatusAccepted, 20),
		claim(model.SourceCrowdsource, model.StatusNotAccepted, 30),
	}

	got := Recompute(s, nil, "1234567890", "P1", logs, now)

	assert.Equal(t, model.StatusAccepted, got.Status)
	assert.Equal(t, 3, got.VerificationCount)
	assert.Equal(t, model.SourceCrowdsource, got.DataSource)
	require.NotNil(t, got.LastVerifiedAt)
	assert.True(t, got.LastVerifiedAt.Equal(ago(10)))
	assert.InDelta(t, 15.0, got.DataSourceScore, 0.001)
	assert.InDelta(t, 28.3, got.RecencyScore, 0.001)
	assert.InDelta(t, 15.0, got.VerificationScore, 0.001)
	assert.InDelta(t, 13.3, got.AgreementScore, 0.001)
	assert.InDelta(t, 71.6, got.ConfidenceScore, 0.001)
}

func TestRecompute_IgnoresRejected(t *testing.T) {
	s := confidence.NewScorer(confidence.DefaultConfig())
	rejected := claim(model.SourceCrowdsource, model.StatusNotAccepted, 1)
	rejected.IsApproved = boolPtr(false)
	approved := claim(model.SourceCrowdsource, model.StatusAccepted, 5)
	approved.IsApproved = boolPtr(true)

	got := Recompute(s, nil, "1234567890", "P1", []model.VerificationLog{rejected, approved}, now)

	assert.Equal(t, model.StatusAccepted, got.Status)
	assert.Equal(t, 1, got.VerificationCount)
	assert.Zero(t, got.AgreementScore)
	assert.True(t, got.LastVerifiedAt.Equal(ago(5)))
}

func TestRecompute_SourceComesFromLiveLogs(t *testing.T) {
	s := confidence.NewScorer(confidence.DefaultConfig())
	current := &model.ProviderPlanAcceptance{
		ID: 9, NPI: "1234567890", PlanID: "P1", Status: model.StatusAccepted,
		DataSource: model.SourceCMSData, Plan: &model.InsurancePlan{PlanID: "P1"},
	}
	logs := []model.VerificationLog{
		claim(model.SourceCMSData, model.StatusAccepted, 40),
		claim(model.SourceCrowdsource, model.StatusAccepted, 2),
	}

	got := Recompute(s, current, "1234567890", "P1", logs, now)

	assert.Equal(t, int64(9), got.ID)
	assert.Nil(t, got.Plan)
	assert.Equal(t, model.SourceCMSData, got.DataSource)
	assert.InDelta(t, 25.0, got.DataSourceScore, 0.001)

	// The stored row's source does not outlive its evidence.
	got = Recompute(s, current, "1234567890", "P1", logs[1:], now)
	assert.Equal(t, model.SourceCrowdsource, got.DataSource)
	assert.InDelta(t, 15.0, got.DataSourceScore, 0.001)
}

func TestRecompute_RejectedCMSLogLosesItsSource(t *testing.T) {
	s := confidence.NewScorer(confidence.DefaultConfig())
	current := &model.ProviderPlanAcceptance{
		NPI: "1234567890", PlanID: "P1", Status: model.StatusAccepted, DataSource: model.SourceCMSData,
	}
	cms := claim(model.SourceCMSData, model.StatusAccepted, 5)
	cms.IsApproved = boolPtr(false)
	crowd := claim(model.SourceCrowdsource, model.StatusAccepted, 5)

	withCrowd := Recompute(s, current, "1234567890", "P1", []model.VerificationLog{cms, crowd}, now)
	crowdOnly := Recompute(s, nil, "1234567890", "P1", []model.VerificationLog{crowd}, now)

	assert.Equal(t, model.SourceCrowdsource, withCrowd.DataSource)
	assert.InDelta(t, 15.0, withCrowd.DataSourceScore, 0.001)
	assert.InDelta(t, crowdOnly.ConfidenceScore, withCrowd.ConfidenceScore, 0.001)
}

func TestRecompute_AllLogsRejected(t *testing.T) {
	s := confidence.NewScorer(confidence.DefaultConfig())
	last := ago(5)
	current := &model.ProviderPlanAcceptance{
		NPI: "1234567890", PlanID: "P1", Status: model.StatusAccepted, DataSource: model.SourceCMSData,
		AcceptsNewPatients: boolPtr(true), LastVerifiedAt: &last, VerificationCount: 1,
	}
	cms := claim(model.SourceCMSData, model.StatusAccepted, 5)
	cms.IsApproved = boolPtr(false)

	got := Recompute(s, current, "1234567890", "P1", []model.VerificationLog{cms}, now)

	assert.Equal(t, model.StatusUnknown, got.Status)
	assert.Nil(t, got.LastVerifiedAt)
	assert.Nil(t, got.AcceptsNewPatients)
	assert.Zero(t, got.VerificationCount)
	assert.Equal(t, model.SourceCrowdsource, got.DataSource)
	assert.Zero(t, got.RecencyScore)
	assert.InDelta(t, 15.0, got.ConfidenceScore, 0.001)
}

func TestRecompute_NoLogsKeepsStoredRow(t *testing.T) {
	s := confidence.NewScorer(confidence.DefaultConfig())
	last := ago(10)
	current := &model.ProviderPlanAcceptance{
		NPI: "1234567890", PlanID: "P1", Status: model.StatusAccepted,
		DataSource: model.SourceCMSData, LastVerifiedAt: &last,
	}

	got := Recompute(s, current, "1234567890", "P1", nil, now)

	assert.Equal(t, model.StatusAccepted, got.Status)
	assert.Equal(t, model.SourceCMSData, got.DataSource)
	require.NotNil(t, got.LastVerifiedAt)
	assert.True(t, got.LastVerifiedAt.Equal(last))
}

func TestRecompute_TieKeepsCurrentStatus(t *testing.T) {
	s := confidence.NewScorer(confidence.DefaultConfig())
	current := &model.ProviderPlanAcceptance{Status: model.StatusNotAccepted}
	logs := []model.VerificationLog{
		claim(model.SourceCrowdsource, model.StatusAccepted, 1),
		claim(model.SourceCrowdsource, model.StatusNotAccepted, 2),
	}

	got := Recompute(s, current, "1234567890", "P1", logs, now)
	assert.Equal(t, model.StatusNotAccepted, got.Status)
	assert.InDelta(t, 10.0, got.AgreementScore, 0.001)

	got = Recompute(s, nil, "1234567890", "P1", logs, now)
	assert.Equal(t, model.StatusUnknown, got.Status)
}

func TestRecompute_LatestNewPatientsClaimWins(t *testing.T) {
	s := confidence.NewScorer(confidence.DefaultConfig())
	older := claim(model.SourceCrowdsource, model.StatusAccepted, 20)
	older.ClaimedAcceptsNewPatients = boolPtr(true)
	newer := claim(model.SourceCrowdsource, model.StatusAccepted, 3)
	newer.ClaimedAcceptsNewPatients = boolPtr(false)
	silent := claim(model.SourceCrowdsource, model.StatusAccepted, 1)

	got := Recompute(s, nil, "1234567890", "P1", []model.VerificationLog{older, silent, newer}, now)
	require.NotNil(t, got.AcceptsNewPatients)
	assert.False(t, *got.AcceptsNewPatients)
}

func TestRecompute_NoLogs(t *testing.T) {
	s := confidence.NewScorer(confidence.DefaultConfig())

	got := Recompute(s, nil, "1234567890", "P1", nil, now)

	assert.Equal(t, model.StatusUnknown, got.Status)
	assert.Equal(t, model.SourceCrowdsource, got.DataSource)
	assert.Zero(t, got.VerificationCount)
	assert.Nil(t, got.LastVerifiedAt)
	assert.InDelta(t, 15.0, got.ConfidenceScore, 0.001)
}

func TestMajority(t *testing.T) {
	tests := []struct {
		name    string
		counts  map[model.AcceptanceStatus]int
		current model.AcceptanceStatus
		want    model.AcceptanceStatus
		agree   int
	}{
		{"empty keeps current", nil, model.StatusAccepted, model.StatusAccepted, 0},
		{"empty without current", nil, "", model.StatusUnknown, 0},
		{"clear winner", map[model.AcceptanceStatus]int{model.StatusAccepted: 3, model.StatusNotAccepted: 1}, "", model.StatusAccepted, 3},
		{"tie with current leader", map[model.AcceptanceStatus]int{model.StatusAccepted: 2, model.StatusNotAccepted: 2}, model.StatusAccepted, model.StatusAccepted, 2},
		{"tie without current leader", map[model.AcceptanceStatus]int{model.StatusAccepted: 2, model.StatusNotAccepted: 2}, "", model.StatusUnknown, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n := majority(tt.counts, tt.current)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.agree, n)
		})
	}
}
