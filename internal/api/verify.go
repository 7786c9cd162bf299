package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/verifymyprovider/vmp/internal/model"
	"github.com/verifymyprovider/vmp/internal/verification"
)

const recentVerificationsLimit = 20

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub verification.Submission
	if !decodeJSON(w, r, &sub) {
		return
	}
	sub.Submitter = clientID(r)

	res, err := s.deps.Verifier.Submit(r.Context(), sub)
	if err != nil {
		s.metrics.submissions.WithLabelValues("none", "rejected").Inc()
		writeErr(w, r, err)
		return
	}
	s.metrics.submissions.WithLabelValues(string(res.Verification.Source), "accepted").Inc()
	s.invalidateProvider(res.Verification.NPI)

	p, err := s.deps.Directory.GetProvider(r.Context(), res.Verification.NPI)
	if err != nil {
		// The claim is stored; report it without the freshness context.
		p = &model.Provider{NPI: res.Verification.NPI}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"verification": res.Verification,
		"acceptance":   s.acceptanceView(p, res.Acceptance),
	})
}

func (s *Server) handleListVerifications(w http.ResponseWriter, r *http.Request) {
	npi, ok := npiParam(w, r)
	if !ok {
		return
	}
	planID := strings.TrimSpace(chi.URLParam(r, "planID"))
	logs, err := s.deps.Directory.ListVerifications(r.Context(), npi, planID, recentVerificationsLimit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if logs == nil {
		logs = []model.VerificationLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"npi":           npi,
		"plan_id":       planID,
		"verifications": logs,
	})
}

type voteRequest struct {
	Vote model.VoteDirection `json:"vote"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Vote = model.VoteDirection(strings.ToLower(strings.TrimSpace(string(req.Vote))))

	res, err := s.deps.Verifier.Vote(r.Context(), chi.URLParam(r, "id"), clientID(r), req.Vote)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.metrics.votes.WithLabelValues(string(req.Vote)).Inc()
	writeJSON(w, http.StatusOK, res)
}

type reviewRequest struct {
	Approved *bool `json:"approved"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Approved == nil {
		writeError(w, http.StatusBadRequest, "approved is required")
		return
	}

	acc, err := s.deps.Verifier.Review(r.Context(), chi.URLParam(r, "id"), *req.Approved)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.invalidateProvider(acc.NPI)
	writeJSON(w, http.StatusOK, map[string]any{"acceptance": acc})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats are not configured")
		return
	}
	snap, err := s.deps.Stats.Collect(r.Context(), s.lookback)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
