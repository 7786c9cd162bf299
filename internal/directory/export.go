package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/verifymyprovider/vmp/internal/address"
	"github.com/verifymyprovider/vmp/internal/model"
)

// ExportFilter narrows an acceptance export.
type ExportFilter struct {
	State         string
	MinConfidence float64
}

// ExportRow is one acceptance joined with its provider, location and plan.
type ExportRow struct {
	Acceptance model.ProviderPlanAcceptance
	Provider   model.Provider
	Plan       model.InsurancePlan
	City       string
	State      string
}

// ExportAcceptances pages through acceptances matching f in id order.
func (s *Store) ExportAcceptances(ctx context.Context, f ExportFilter, afterID int64, limit int) ([]ExportRow, error) {
	conds := []string{"a.id > $1"}
	args := []any{afterID}
	if f.State != "" {
		args = append(args, address.NormalizeState(f.State))
		conds = append(conds, fmt.Sprintf("l.state = $%d", len(args)))
	}
	if f.MinConfidence > 0 {
		args = append(args, f.MinConfidence)
		conds = append(conds, fmt.Sprintf("a.confidence_score >= $%d", len(args)))
	}
	args = append(args, limit)

	sql := `
SELECT ` + acceptanceCols + `,
       pl.name, pl.issuer, pl.plan_type,
       p.entity_type, p.first_name, p.last_name, p.organization_name, p.credential,
       p.specialty, p.taxonomy_code, COALESCE(l.city, ''), COALESCE(l.state, '')
FROM directory.provider_plan_acceptance a
JOIN directory.providers p ON p.npi = a.npi
JOIN directory.insurance_plans pl ON pl.plan_id = a.plan_id
LEFT JOIN directory.locations l ON l.id = p.location_id
WHERE ` + strings.Join(conds, " AND ") + fmt.Sprintf(`
ORDER BY a.id
LIMIT $%d`, len(args))

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "directory: export acceptances")
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var r ExportRow
		a := &r.Acceptance
		var status, source, entity string
		if err := rows.Scan(
			&a.ID, &a.NPI, &a.PlanID, &status, &a.AcceptsNewPatients,
			&a.ConfidenceScore, &a.DataSourceScore, &a.RecencyScore, &a.VerificationScore,
			&a.AgreementScore, &a.VerificationCount, &a.LastVerifiedAt, &source,
			&a.CreatedAt, &a.UpdatedAt,
			&r.Plan.Name, &r.Plan.Issuer, &r.Plan.PlanType,
			&entity, &r.Provider.FirstName, &r.Provider.LastName, &r.Provider.OrganizationName,
			&r.Provider.Credential, &r.Provider.Specialty, &r.Provider.TaxonomyCode, &r.City, &r.State,
		); err != nil {
			return nil, eris.Wrap(err, "directory: scan export row")
		}
		a.Status = model.AcceptanceStatus(status)
		a.DataSource = model.VerificationSource(source)
		r.Provider.NPI = a.NPI
		r.Provider.EntityType = model.EntityType(entity)
		r.Plan.PlanID = a.PlanID
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "directory: iterate export rows")
}
