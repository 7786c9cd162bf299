package model

import (
	"strings"
	"time"
)

// AcceptanceStatus is whether a provider takes a plan.
type AcceptanceStatus string

const (
	StatusAccepted    AcceptanceStatus = "ACCEPTED"
	StatusNotAccepted AcceptanceStatus = "NOT_ACCEPTED"
	StatusUnknown     AcceptanceStatus = "UNKNOWN"
)

// ParseAcceptanceStatus accepts the canonical names case-insensitively.
func ParseAcceptanceStatus(s string) (AcceptanceStatus, bool) {
	switch AcceptanceStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusAccepted:
		return StatusAccepted, true
	case StatusNotAccepted:
		return StatusNotAccepted, true
	case StatusUnknown:
		return StatusUnknown, true
	}
	return "", false
}

// VerificationSource identifies where a claim about plan acceptance came from.
type VerificationSource string

const (
	SourceCMSData        VerificationSource = "CMS_DATA"
	SourceCarrierData    VerificationSource = "CARRIER_DATA"
	SourceProviderPortal VerificationSource = "PROVIDER_PORTAL"
	SourcePhoneCall      VerificationSource = "PHONE_CALL"
	SourceCrowdsource    VerificationSource = "CROWDSOURCE"
	SourceAutomated      VerificationSource = "AUTOMATED"
)

// AllSources lists every known verification source.
var AllSources = []VerificationSource{
	SourceCMSData, SourceCarrierData, SourceProviderPortal,
	SourcePhoneCall, SourceCrowdsource, SourceAutomated,
}

// ParseSource accepts the canonical names case-insensitively.
func ParseSource(s string) (VerificationSource, bool) {
	up := VerificationSource(strings.ToUpper(strings.TrimSpace(s)))
	for _, src := range AllSources {
		if src == up {
			return src, true
		}
	}
	return "", false
}

// Key is the lowercase form used as a configuration map key.
func (s VerificationSource) Key() string {
	return strings.ToLower(string(s))
}

// ProviderPlanAcceptance associates a provider with a plan, along with the
// confidence breakdown computed from its verification history.
type ProviderPlanAcceptance struct {
	ID                 int64              `json:"id"`
	NPI                string             `json:"npi"`
	PlanID             string             `json:"plan_id"`
	Status             AcceptanceStatus   `json:"acceptance_status"`
	AcceptsNewPatients *bool              `json:"accepts_new_patients,omitempty"`
	ConfidenceScore    float64            `json:"confidence_score"`
	DataSourceScore    float64            `json:"data_source_score"`
	RecencyScore       float64            `json:"recency_score"`
	VerificationScore  float64            `json:"verification_score"`
	AgreementScore     float64            `json:"agreement_score"`
	VerificationCount  int                `json:"verification_count"`
	LastVerifiedAt     *time.Time         `json:"last_verified_at,omitempty"`
	DataSource         VerificationSource `json:"data_source,omitempty"`
	Plan               *InsurancePlan     `json:"plan,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// VerificationLog is one submitted claim about a (provider, plan) pair.
// Rows are append-only; votes and the approval transition are the only
// mutations.
type VerificationLog struct {
	ID                        string             `json:"id"`
	NPI                       string             `json:"npi"`
	PlanID                    string             `json:"plan_id"`
	Source                    VerificationSource `json:"source"`
	ClaimedStatus             AcceptanceStatus   `json:"claimed_status"`
	ClaimedAcceptsNewPatients *bool              `json:"claimed_accepts_new_patients,omitempty"`
	Notes                     string             `json:"notes,omitempty"`
	SubmittedBy               string             `json:"-"`
	Upvotes                   int                `json:"upvotes"`
	Downvotes                 int                `json:"downvotes"`
	IsApproved                *bool              `json:"is_approved"`
	CreatedAt                 time.Time          `json:"created_at"`
}

// Rejected reports whether a reviewer has rejected the claim.
func (v VerificationLog) Rejected() bool {
	return v.IsApproved != nil && !*v.IsApproved
}

// Pending reports whether the claim is still awaiting review.
func (v VerificationLog) Pending() bool {
	return v.IsApproved == nil
}

// VoteDirection is an up or down vote on a verification.
type VoteDirection string

const (
	VoteUp   VoteDirection = "up"
	VoteDown VoteDirection = "down"
)
