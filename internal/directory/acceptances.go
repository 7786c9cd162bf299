package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/verifymyprovider/vmp/internal/confidence"
	"github.com/verifymyprovider/vmp/internal/db"
	"github.com/verifymyprovider/vmp/internal/model"
)

const acceptanceCols = `a.id, a.npi, a.plan_id, a.acceptance_status, a.accepts_new_patients,
       a.confidence_score, a.data_source_score, a.recency_score, a.verification_score,
       a.agreement_score, a.verification_count, a.last_verified_at, a.data_source,
       a.created_at, a.updated_at`

const acceptanceWithPlan = `
SELECT ` + acceptanceCols + `,
       p.name, p.issuer, p.plan_type, p.state
FROM directory.provider_plan_acceptance a
JOIN directory.insurance_plans p ON p.plan_id = a.plan_id`

func scanAcceptance(row pgx.Row, withPlan bool) (model.ProviderPlanAcceptance, error) {
	var a model.ProviderPlanAcceptance
	var status, source string
	dest := []any{
		&a.ID, &a.NPI, &a.PlanID, &status, &a.AcceptsNewPatients,
		&a.ConfidenceScore, &a.DataSourceScore, &a.RecencyScore, &a.VerificationScore,
		&a.AgreementScore, &a.VerificationCount, &a.LastVerifiedAt, &source,
		&a.CreatedAt, &a.UpdatedAt,
	}
	var plan model.InsurancePlan
	if withPlan {
		dest = append(dest, &plan.Name, &plan.Issuer, &plan.PlanType, &plan.State)
	}
	if err := row.Scan(dest...); err != nil {
		return a, err
	}
	a.Status = model.AcceptanceStatus(status)
	a.DataSource = model.VerificationSource(source)
	if withPlan {
		plan.PlanID = a.PlanID
		a.Plan = &plan
	}
	return a, nil
}

func collectAcceptances(rows pgx.Rows, withPlan bool) ([]model.ProviderPlanAcceptance, error) {
	defer rows.Close()
	var out []model.ProviderPlanAcceptance
	for rows.Next() {
		a, err := scanAcceptance(rows, withPlan)
		if err != nil {
			return nil, eris.Wrap(err, "directory: scan acceptance")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "directory: iterate acceptances")
}

// ListAcceptances returns a provider's plan acceptances with plan details,
// most confident first.
func (s *Store) ListAcceptances(ctx context.Context, npi string) ([]model.ProviderPlanAcceptance, error) {
	rows, err := s.q.Query(ctx,
		acceptanceWithPlan+` WHERE a.npi = $1 ORDER BY a.confidence_score DESC, p.name`, npi)
	if err != nil {
		return nil, eris.Wrapf(err, "directory: list acceptances for %s", npi)
	}
	return collectAcceptances(rows, true)
}

// GetAcceptance returns the acceptance for one (provider, plan) pair.
func (s *Store) GetAcceptance(ctx context.Context, npi, planID string) (*model.ProviderPlanAcceptance, error) {
	a, err := scanAcceptance(s.q.QueryRow(ctx,
		acceptanceWithPlan+` WHERE a.npi = $1 AND a.plan_id = $2`, npi, planID), true)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("directory: get acceptance %s/%s", npi, planID))
	}
	return &a, nil
}

// AcceptancesAfter pages through all acceptances in id order.
func (s *Store) AcceptancesAfter(ctx context.Context, afterID int64, limit int) ([]model.ProviderPlanAcceptance, error) {
	rows, err := s.q.Query(ctx, `
SELECT `+acceptanceCols+`
FROM directory.provider_plan_acceptance a
WHERE a.id > $1
ORDER BY a.id
LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "directory: page acceptances")
	}
	return collectAcceptances(rows, false)
}

// AcceptancesForPairs loads the stored acceptances for the given pairs.
// Pairs with no row are absent from the map.
func (s *Store) AcceptancesForPairs(ctx context.Context, pairs []PairKey) (map[PairKey]model.ProviderPlanAcceptance, error) {
	out := make(map[PairKey]model.ProviderPlanAcceptance, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}
	npis := make([]string, len(pairs))
	plans := make([]string, len(pairs))
	for i, p := range pairs {
		npis[i] = p.NPI
		plans[i] = p.PlanID
	}

	rows, err := s.q.Query(ctx, `
SELECT `+acceptanceCols+`
FROM directory.provider_plan_acceptance a
WHERE (a.npi, a.plan_id) IN (SELECT * FROM unnest($1::text[], $2::text[]))`, npis, plans)
	if err != nil {
		return nil, eris.Wrap(err, "directory: load acceptances for pairs")
	}
	accs, err := collectAcceptances(rows, false)
	if err != nil {
		return nil, err
	}
	for _, a := range accs {
		out[PairKey{NPI: a.NPI, PlanID: a.PlanID}] = a
	}
	return out, nil
}

// KnownPairs returns the pairs whose provider and plan both exist.
func (s *Store) KnownPairs(ctx context.Context, pairs []PairKey) (map[PairKey]bool, error) {
	out := make(map[PairKey]bool, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}
	npis := make([]string, len(pairs))
	plans := make([]string, len(pairs))
	for i, p := range pairs {
		npis[i] = p.NPI
		plans[i] = p.PlanID
	}

	rows, err := s.q.Query(ctx, `
SELECT k.npi, k.plan_id
FROM unnest($1::text[], $2::text[]) AS k(npi, plan_id)
JOIN directory.providers pr ON pr.npi = k.npi
JOIN directory.insurance_plans ip ON ip.plan_id = k.plan_id`, npis, plans)
	if err != nil {
		return nil, eris.Wrap(err, "directory: check known pairs")
	}
	defer rows.Close()
	for rows.Next() {
		var k PairKey
		if err := rows.Scan(&k.NPI, &k.PlanID); err != nil {
			return nil, eris.Wrap(err, "directory: scan known pair")
		}
		out[k] = true
	}
	return out, eris.Wrap(rows.Err(), "directory: check known pairs")
}

// normalizeScores clamps the stored breakdown and derives the total from
// it so a persisted score is always recomputable.
func normalizeScores(a *model.ProviderPlanAcceptance) {
	b := confidence.BreakdownOf(a).Clamp()
	a.DataSourceScore = b.DataSource
	a.RecencyScore = b.Recency
	a.VerificationScore = b.Verification
	a.AgreementScore = b.Agreement
	a.ConfidenceScore = b.Total()
	if a.VerificationCount < 0 {
		a.VerificationCount = 0
	}
	if a.Status == "" {
		a.Status = model.StatusUnknown
	}
}

// UpsertAcceptance writes one acceptance keyed by (npi, plan_id) and fills
// in its id and timestamps.
func (s *Store) UpsertAcceptance(ctx context.Context, a *model.ProviderPlanAcceptance) error {
	normalizeScores(a)
	a.UpdatedAt = time.Now().UTC()

	err := s.q.QueryRow(ctx, `
INSERT INTO directory.provider_plan_acceptance
    (npi, plan_id, acceptance_status, accepts_new_patients, confidence_score, data_source_score,
     recency_score, verification_score, agreement_score, verification_count, last_verified_at,
     data_source, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (npi, plan_id) DO UPDATE SET
    acceptance_status = EXCLUDED.acceptance_status,
    accepts_new_patients = EXCLUDED.accepts_new_patients,
    confidence_score = EXCLUDED.confidence_score,
    data_source_score = EXCLUDED.data_source_score,
    recency_score = EXCLUDED.recency_score,
    verification_score = EXCLUDED.verification_score,
    agreement_score = EXCLUDED.agreement_score,
    verification_count = EXCLUDED.verification_count,
    last_verified_at = EXCLUDED.last_verified_at,
    data_source = EXCLUDED.data_source,
    updated_at = EXCLUDED.updated_at
RETURNING id, created_at`,
		a.NPI, a.PlanID, string(a.Status), a.AcceptsNewPatients, a.ConfidenceScore, a.DataSourceScore,
		a.RecencyScore, a.VerificationScore, a.AgreementScore, a.VerificationCount, a.LastVerifiedAt,
		string(a.DataSource), a.UpdatedAt,
	).Scan(&a.ID, &a.CreatedAt)
	return eris.Wrapf(err, "directory: upsert acceptance %s/%s", a.NPI, a.PlanID)
}

var acceptanceColumns = []string{
	"npi", "plan_id", "acceptance_status", "accepts_new_patients", "confidence_score",
	"data_source_score", "recency_score", "verification_score", "agreement_score",
	"verification_count", "last_verified_at", "data_source", "updated_at",
}

// UpsertAcceptances bulk-writes acceptances keyed by (npi, plan_id).
func (s *Store) UpsertAcceptances(ctx context.Context, accs []model.ProviderPlanAcceptance) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(accs))
	for i := range accs {
		a := &accs[i]
		normalizeScores(a)
		rows[i] = []any{
			a.NPI, a.PlanID, string(a.Status), a.AcceptsNewPatients, a.ConfidenceScore,
			a.DataSourceScore, a.RecencyScore, a.VerificationScore, a.AgreementScore,
			a.VerificationCount, a.LastVerifiedAt, string(a.DataSource), now,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        Schema + ".provider_plan_acceptance",
		Columns:      acceptanceColumns,
		ConflictKeys: []string{"npi", "plan_id"},
	}, rows)
	return n, eris.Wrap(err, "directory: upsert acceptances")
}
