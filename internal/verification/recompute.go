// Package verification accepts crowd and source claims about plan
// acceptance and keeps each acceptance's confidence score in step with its
// verification history.
package verification

import (
	"time"

	"github.com/verifymyprovider/vmp/internal/confidence"
	"github.com/verifymyprovider/vmp/internal/model"
)

// Recompute derives a pair's acceptance from its verification logs.
//
// Rejected logs are ignored. The status is the majority claim; a tie keeps
// the current status (UNKNOWN when there is none). The data source is the
// most authoritative source among the live logs. The stored row is only
// kept as is when the pair has no logs at all; when every log has been
// rejected the pair falls back to UNKNOWN with no verification date.
func Recompute(s *confidence.Scorer, current *model.ProviderPlanAcceptance, npi, planID string,
	logs []model.VerificationLog, now time.Time,
) model.ProviderPlanAcceptance {
	out := model.ProviderPlanAcceptance{NPI: npi, PlanID: planID, Status: model.StatusUnknown}
	if current != nil {
		out = *current
		out.Plan = nil
	}

	var live []model.VerificationLog
	for _, l := range logs {
		if !l.Rejected() {
			live = append(live, l)
		}
	}

	counts := make(map[model.AcceptanceStatus]int)
	var last *time.Time
	var latestNewPatients *bool
	var latestNewPatientsAt time.Time
	var bestSource model.VerificationSource

	for i := range live {
		l := &live[i]
		counts[l.ClaimedStatus]++
		if last == nil || l.CreatedAt.After(*last) {
			t := l.CreatedAt
			last = &t
		}
		if l.ClaimedAcceptsNewPatients != nil && !l.CreatedAt.Before(latestNewPatientsAt) {
			latestNewPatients = l.ClaimedAcceptsNewPatients
			latestNewPatientsAt = l.CreatedAt
		}
		if bestSource == "" || s.DataSourceScore(l.Source) > s.DataSourceScore(bestSource) {
			bestSource = l.Source
		}
	}

	agreeing := 0
	switch {
	case len(live) > 0:
		out.Status, agreeing = majority(counts, out.Status)
		out.LastVerifiedAt = last
		out.DataSource = bestSource
		if latestNewPatients != nil {
			out.AcceptsNewPatients = latestNewPatients
		}
	case len(logs) > 0:
		out.Status = model.StatusUnknown
		out.LastVerifiedAt = nil
		out.AcceptsNewPatients = nil
		out.DataSource = ""
	}
	if out.Status == "" {
		out.Status = model.StatusUnknown
	}
	if out.DataSource == "" {
		out.DataSource = model.SourceCrowdsource
	}
	out.VerificationCount = len(live)

	res := s.Calculate(confidence.Input{
		Source:            out.DataSource,
		LastVerifiedAt:    out.LastVerifiedAt,
		VerificationCount: out.VerificationCount,
		AgreeingCount:     agreeing,
		Now:               now,
	})
	res.Apply(&out)
	return out
}

// majority returns the most claimed status and its count. Ties keep the
// current status when it is among the leaders, else resolve to UNKNOWN.
func majority(counts map[model.AcceptanceStatus]int, current model.AcceptanceStatus) (model.AcceptanceStatus, int) {
	best := 0
	var leaders []model.AcceptanceStatus
	for _, st := range []model.AcceptanceStatus{model.StatusAccepted, model.StatusNotAccepted, model.StatusUnknown} {
		switch n := counts[st]; {
		case n > best:
			best = n
			leaders = []model.AcceptanceStatus{st}
		case n == best && n > 0:
			leaders = append(leaders, st)
		}
	}

	switch len(leaders) {
	case 0:
		if current == "" {
			current = model.StatusUnknown
		}
		return current, 0
	case 1:
		return leaders[0], best
	}
	for _, st := range leaders {
		if st == current {
			return st, best
		}
	}
	return model.StatusUnknown, best
}
