package directory

import (
	"context"

	"github.com/rotisserie/eris"
)

// AgeBucket counts acceptances that share a provider specialty and an age
// in whole days since last verification. Days is nil for acceptances that
// were never verified.
type AgeBucket struct {
	Specialty     string
	TaxonomyCode  string
	Days          *int
	Count         int
	LowConfidence int
}

// AcceptanceAges groups every acceptance by specialty and age. LowConfidence
// counts the acceptances in a bucket scoring below minScore.
func (s *Store) AcceptanceAges(ctx context.Context, minScore float64) ([]AgeBucket, error) {
	rows, err := s.q.Query(ctx, `
SELECT coalesce(p.specialty, ''), coalesce(p.taxonomy_code, ''),
       CASE WHEN a.last_verified_at IS NULL THEN NULL
            ELSE greatest(floor(extract(epoch FROM now() - a.last_verified_at) / 86400), 0)::int END AS days,
       count(*)::int,
       (count(*) FILTER (WHERE a.confidence_score < $1))::int
FROM directory.provider_plan_acceptance a
JOIN directory.providers p ON p.npi = a.npi
GROUP BY 1, 2, 3`, minScore)
	if err != nil {
		return nil, eris.Wrap(err, "directory: acceptance ages")
	}
	defer rows.Close()

	var out []AgeBucket
	for rows.Next() {
		var b AgeBucket
		if err := rows.Scan(&b.Specialty, &b.TaxonomyCode, &b.Days, &b.Count, &b.LowConfidence); err != nil {
			return nil, eris.Wrap(err, "directory: scan acceptance age")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "directory: iterate acceptance ages")
}
