package directory

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/verifymyprovider/vmp/internal/model"
)

// LocationsAfter pages through all locations in id order.
func (s *Store) LocationsAfter(ctx context.Context, afterID int64, limit int) ([]model.Location, error) {
	rows, err := s.q.Query(ctx, locationSelect+` WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "directory: page locations")
	}
	defer rows.Close()

	var out []model.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "directory: scan location")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "directory: iterate locations")
}

// MergeLocations folds duplicate locations into keeper: providers are
// repointed, blank labels on the keeper are filled from the duplicates, the
// duplicates are deleted and the keeper's provider_count is refreshed. It
// returns how many providers moved. Run it inside InTx.
func (s *Store) MergeLocations(ctx context.Context, keeper int64, dups []int64) (int64, error) {
	if len(dups) == 0 {
		return 0, nil
	}

	tag, err := s.q.Exec(ctx,
		`UPDATE directory.providers SET location_id = $1, updated_at = now() WHERE location_id = ANY($2)`,
		keeper, dups)
	if err != nil {
		return 0, eris.Wrapf(err, "directory: repoint providers to location %d", keeper)
	}
	moved := tag.RowsAffected()

	_, err = s.q.Exec(ctx, `
UPDATE directory.locations k SET
    name = COALESCE(NULLIF(k.name, ''), d.name, ''),
    health_system = COALESCE(NULLIF(k.health_system, ''), d.health_system, ''),
    facility_type = COALESCE(NULLIF(k.facility_type, ''), d.facility_type, '')
FROM (
    SELECT max(NULLIF(name, '')) AS name,
           max(NULLIF(health_system, '')) AS health_system,
           max(NULLIF(facility_type, '')) AS facility_type
    FROM directory.locations WHERE id = ANY($2)
) d
WHERE k.id = $1`, keeper, dups)
	if err != nil {
		return 0, eris.Wrapf(err, "directory: carry labels to location %d", keeper)
	}

	if _, err := s.q.Exec(ctx, `DELETE FROM directory.locations WHERE id = ANY($1)`, dups); err != nil {
		return 0, eris.Wrapf(err, "directory: delete duplicates of location %d", keeper)
	}

	if _, err := s.RefreshProviderCounts(ctx, []int64{keeper}); err != nil {
		return 0, err
	}
	return moved, nil
}

const staleCountsWhere = `
WHERE l.provider_count <> (SELECT count(*) FROM directory.providers p WHERE p.location_id = l.id)`

// CountStaleProviderCounts returns how many locations have a provider_count
// that no longer matches their providers.
func (s *Store) CountStaleProviderCounts(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `SELECT count(*) FROM directory.locations l`+staleCountsWhere).Scan(&n)
	return n, eris.Wrap(err, "directory: count stale provider counts")
}

// RefreshAllProviderCounts rewrites every stale provider_count.
func (s *Store) RefreshAllProviderCounts(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx, `
UPDATE directory.locations l
SET provider_count = (SELECT count(*) FROM directory.providers p WHERE p.location_id = l.id),
    updated_at = now()`+staleCountsWhere)
	if err != nil {
		return 0, eris.Wrap(err, "directory: refresh all provider counts")
	}
	return tag.RowsAffected(), nil
}

// LocationCandidate is a location with the names and specialties of the
// providers practicing there.
type LocationCandidate struct {
	Location    model.Location
	OrgNames    []string
	Specialties []string
}

// EnrichmentCandidates pages through locations with at least minProviders
// providers. Unless includeLabeled is set, only unnamed locations are
// returned.
func (s *Store) EnrichmentCandidates(ctx context.Context, afterID int64, minProviders int, includeLabeled bool, limit int) ([]LocationCandidate, error) {
	rows, err := s.q.Query(ctx, `
SELECT l.id, l.address_line1, l.address_line2, l.city, l.state, l.zip, l.name, l.health_system,
       l.facility_type, l.provider_count, l.updated_at,
       array_agg(p.organization_name ORDER BY p.npi),
       array_agg(p.specialty ORDER BY p.npi)
FROM directory.locations l
JOIN directory.providers p ON p.location_id = l.id
WHERE l.id > $1 AND ($3 OR l.name = '')
GROUP BY l.id
HAVING count(*) >= $2
ORDER BY l.id
LIMIT $4`, afterID, minProviders, includeLabeled, limit)
	if err != nil {
		return nil, eris.Wrap(err, "directory: load enrichment candidates")
	}
	defer rows.Close()

	var out []LocationCandidate
	for rows.Next() {
		var c LocationCandidate
		l := &c.Location
		if err := rows.Scan(&l.ID, &l.AddressLine1, &l.AddressLine2, &l.City, &l.State, &l.Zip,
			&l.Name, &l.HealthSystem, &l.FacilityType, &l.ProviderCount, &l.UpdatedAt,
			&c.OrgNames, &c.Specialties); err != nil {
			return nil, eris.Wrap(err, "directory: scan enrichment candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "directory: iterate enrichment candidates")
}

// LocationLabel is the enrichment written back to a location.
type LocationLabel struct {
	ID           int64
	Name         string
	HealthSystem string
	FacilityType string
}

// UpdateLocationLabels writes enrichment labels in one statement.
func (s *Store) UpdateLocationLabels(ctx context.Context, labels []LocationLabel) (int64, error) {
	if len(labels) == 0 {
		return 0, nil
	}
	ids := make([]int64, len(labels))
	names := make([]string, len(labels))
	systems := make([]string, len(labels))
	types := make([]string, len(labels))
	for i, l := range labels {
		ids[i], names[i], systems[i], types[i] = l.ID, l.Name, l.HealthSystem, l.FacilityType
	}

	tag, err := s.q.Exec(ctx, `
UPDATE directory.locations l
SET name = u.name, health_system = u.health_system, facility_type = u.facility_type, updated_at = now()
FROM unnest($1::bigint[], $2::text[], $3::text[], $4::text[]) AS u(id, name, health_system, facility_type)
WHERE l.id = u.id`, ids, names, systems, types)
	if err != nil {
		return 0, eris.Wrap(err, "directory: update location labels")
	}
	return tag.RowsAffected(), nil
}
