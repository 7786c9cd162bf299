package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/verifymyprovider/vmp/internal/confidence"
	"github.com/verifymyprovider/vmp/internal/directory"
	"github.com/verifymyprovider/vmp/internal/freshness"
	"github.com/verifymyprovider/vmp/internal/model"
)

// ConfidenceView is the confidence block attached to every acceptance.
type ConfidenceView struct {
	Score       float64              `json:"score"`
	Level       confidence.Level     `json:"level"`
	Label       string               `json:"label"`
	Description string               `json:"description"`
	Breakdown   confidence.Breakdown `json:"breakdown"`
}

// AcceptanceView is an acceptance with its confidence and freshness.
type AcceptanceView struct {
	model.ProviderPlanAcceptance
	Confidence ConfidenceView   `json:"confidence"`
	Freshness  freshness.Status `json:"freshness"`
}

func (s *Server) acceptanceView(p *model.Provider, a model.ProviderPlanAcceptance) AcceptanceView {
	level := s.deps.Scorer.LevelFor(a.ConfidenceScore, a.VerificationCount)
	return AcceptanceView{
		ProviderPlanAcceptance: a,
		Confidence: ConfidenceView{
			Score:       a.ConfidenceScore,
			Level:       level,
			Label:       level.Label(),
			Description: level.Description(),
			Breakdown:   confidence.BreakdownOf(&a),
		},
		Freshness: s.deps.Freshness.EvaluateSpecialty(a.LastVerifiedAt, p.Specialty, p.TaxonomyCode, s.now().UTC()),
	}
}

func (s *Server) acceptanceViews(p *model.Provider, accs []model.ProviderPlanAcceptance) []AcceptanceView {
	out := make([]AcceptanceView, 0, len(accs))
	for _, a := range accs {
		out = append(out, s.acceptanceView(p, a))
	}
	return out
}

// ProviderView is a provider with its display name.
type ProviderView struct {
	model.Provider
	DisplayName string `json:"display_name"`
}

func providerViews(ps []model.Provider) []ProviderView {
	out := make([]ProviderView, 0, len(ps))
	for _, p := range ps {
		out = append(out, ProviderView{Provider: p, DisplayName: p.DisplayName()})
	}
	return out
}

func (s *Server) handleSearchProviders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageNum := pageParams(r)
	f := directory.ProviderFilter{
		State:     q.Get("state"),
		City:      q.Get("city"),
		Zip:       q.Get("zip"),
		Specialty: q.Get("specialty"),
		Name:      q.Get("name"),
		Page:      page,
	}
	if f.State == "" && f.City == "" && f.Zip == "" && f.Specialty == "" && f.Name == "" {
		writeError(w, http.StatusBadRequest, "at least one of state, city, zip, specialty or name is required")
		return
	}

	providers, total, err := s.deps.Directory.SearchProviders(r.Context(), f)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": providerViews(providers),
		"pagination": Pagination{
			Total:   total,
			Page:    pageNum,
			Limit:   page.Limit,
			HasMore: page.Offset+len(providers) < total,
		},
	})
}

// npiParam reads and validates the {npi} path parameter.
func npiParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	npi := strings.TrimSpace(chi.URLParam(r, "npi"))
	if !model.ValidNPI(npi) {
		writeError(w, http.StatusBadRequest, "npi must be 10 digits")
		return "", false
	}
	return npi, true
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	npi, ok := npiParam(w, r)
	if !ok {
		return
	}
	p, err := s.deps.Directory.GetProvider(r.Context(), npi)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	accs, err := s.deps.Directory.ListAcceptances(r.Context(), npi)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":    ProviderView{Provider: *p, DisplayName: p.DisplayName()},
		"acceptances": s.acceptanceViews(p, accs),
	})
}

func (s *Server) handleProviderPlans(w http.ResponseWriter, r *http.Request) {
	npi, ok := npiParam(w, r)
	if !ok {
		return
	}
	p, err := s.deps.Directory.GetProvider(r.Context(), npi)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	accs, err := s.deps.Directory.ListAcceptances(r.Context(), npi)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"npi":         npi,
		"acceptances": s.acceptanceViews(p, accs),
	})
}

func (s *Server) handleSearchPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := pageParams(r)
	plans, err := s.deps.Directory.SearchPlans(r.Context(), directory.PlanFilter{
		Issuer:   q.Get("issuer"),
		PlanType: q.Get("type"),
		State:    q.Get("state"),
		Query:    q.Get("q"),
		Page:     page,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if plans == nil {
		plans = []model.InsurancePlan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.deps.Directory.GetPlan(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": plan})
}

const locationProvidersLimit = 100

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "location id must be a positive integer")
		return
	}
	loc, err := s.deps.Directory.GetLocation(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	providers, err := s.deps.Directory.ListProvidersAtLocation(r.Context(), id, locationProvidersLimit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"location":  loc,
		"providers": providerViews(providers),
	})
}
