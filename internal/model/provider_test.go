package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderDisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    Provider
		want string
	}{
		{"individual with credential", Provider{EntityType: EntityIndividual, FirstName: "Jane", LastName: "Doe", Credential: "MD"}, "Jane Doe, MD"},
		{"individual without credential", Provider{EntityType: EntityIndividual, FirstName: "Jane", LastName: "Doe"}, "Jane Doe"},
		{"organization", Provider{EntityType: EntityOrganization, OrganizationName: "Acme Clinic", FirstName: "ignored"}, "Acme Clinic"},
		{"individual falls back to org name", Provider{EntityType: EntityIndividual, OrganizationName: "Acme Clinic"}, "Acme Clinic"},
		{"empty", Provider{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.p.DisplayName())
		})
	}
}

func TestLocationZip5(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "94110", Location{Zip: "941101234"}.Zip5())
	assert.Equal(t, "94110", Location{Zip: "94110"}.Zip5())
	assert.Equal(t, "", Location{}.Zip5())
}

func TestParseAcceptanceStatus(t *testing.T) {
	t.Parallel()

	s, ok := ParseAcceptanceStatus(" accepted ")
	assert.True(t, ok)
	assert.Equal(t, StatusAccepted, s)

	s, ok = ParseAcceptanceStatus("NOT_ACCEPTED")
	assert.True(t, ok)
	assert.Equal(t, StatusNotAccepted, s)

	_, ok = ParseAcceptanceStatus("maybe")
	assert.False(t, ok)
}

func TestParseSource(t *testing.T) {
	t.Parallel()

	for _, src := range AllSources {
		got, ok := ParseSource(string(src))
		assert.True(t, ok, src)
		assert.Equal(t, src, got)
	}

	got, ok := ParseSource("crowdsource")
	assert.True(t, ok)
	assert.Equal(t, SourceCrowdsource, got)

	_, ok = ParseSource("rumor")
	assert.False(t, ok)
}

func TestSourceKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "cms_data", SourceCMSData.Key())
	assert.Equal(t, "phone_call", SourcePhoneCall.Key())
}

func TestVerificationLogReviewState(t *testing.T) {
	t.Parallel()

	yes, no := true, false

	pending := VerificationLog{}
	assert.True(t, pending.Pending())
	assert.False(t, pending.Rejected())

	approved := VerificationLog{IsApproved: &yes}
	assert.False(t, approved.Pending())
	assert.False(t, approved.Rejected())

	rejected := VerificationLog{IsApproved: &no}
	assert.False(t, rejected.Pending())
	assert.True(t, rejected.Rejected())
}
