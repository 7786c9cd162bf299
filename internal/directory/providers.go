package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/verifymyprovider/vmp/internal/address"
	"github.com/verifymyprovider/vmp/internal/db"
	"github.com/verifymyprovider/vmp/internal/model"
)

const providerSelect = `
SELECT p.npi, p.entity_type, p.first_name, p.last_name, p.organization_name, p.credential,
       p.specialty, p.taxonomy_code, p.phone, p.location_id, p.updated_at,
       COALESCE(l.address_line1, ''), COALESCE(l.address_line2, ''), COALESCE(l.city, ''),
       COALESCE(l.state, ''), COALESCE(l.zip, ''), COALESCE(l.name, ''),
       COALESCE(l.health_system, ''), COALESCE(l.facility_type, ''), COALESCE(l.provider_count, 0)
FROM directory.providers p
LEFT JOIN directory.locations l ON l.id = p.location_id`

func scanProvider(row pgx.Row, extra ...any) (model.Provider, error) {
	var p model.Provider
	var entity string
	var loc model.Location

	dest := []any{
		&p.NPI, &entity, &p.FirstName, &p.LastName, &p.OrganizationName, &p.Credential,
		&p.Specialty, &p.TaxonomyCode, &p.Phone, &p.LocationID, &p.UpdatedAt,
		&loc.AddressLine1, &loc.AddressLine2, &loc.City,
		&loc.State, &loc.Zip, &loc.Name,
		&loc.HealthSystem, &loc.FacilityType, &loc.ProviderCount,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return p, err
	}

	p.EntityType = model.EntityType(entity)
	if p.LocationID != nil {
		loc.ID = *p.LocationID
		p.Location = &loc
	}
	return p, nil
}

// GetProvider returns a provider with its location.
func (s *Store) GetProvider(ctx context.Context, npi string) (*model.Provider, error) {
	p, err := scanProvider(s.q.QueryRow(ctx, providerSelect+` WHERE p.npi = $1`, npi))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("directory: get provider %s", npi))
	}
	return &p, nil
}

// ProviderFilter narrows a provider search. Empty fields are ignored.
type ProviderFilter struct {
	State     string
	City      string
	Zip       string
	Specialty string
	Name      string
	Page      Page
}

// where builds the WHERE clause and its positional args.
func (f ProviderFilter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.State != "" {
		add("l.state = $%d", address.NormalizeState(f.State))
	}
	if f.City != "" {
		add("upper(l.city) = $%d", strings.ToUpper(strings.TrimSpace(f.City)))
	}
	if f.Zip != "" {
		add("left(l.zip, 5) = $%d", address.Zip5(f.Zip))
	}
	if f.Specialty != "" {
		add("upper(p.specialty) LIKE $%d", "%"+strings.ToUpper(strings.TrimSpace(f.Specialty))+"%")
	}
	if f.Name != "" {
		add("upper(p.last_name || ' ' || p.first_name || ' ' || p.organization_name) LIKE $%d",
			"%"+strings.ToUpper(strings.TrimSpace(f.Name))+"%")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// SearchProviders returns one page of matching providers and the total
// match count.
func (s *Store) SearchProviders(ctx context.Context, f ProviderFilter) ([]model.Provider, int, error) {
	page := f.Page.normalize()
	where, args := f.where()
	args = append(args, page.Limit, page.Offset)

	sql := strings.Replace(providerSelect, "FROM directory.providers p", ", count(*) OVER () FROM directory.providers p", 1) +
		where +
		fmt.Sprintf(" ORDER BY p.last_name, p.first_name, p.organization_name, p.npi LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "directory: search providers")
	}
	defer rows.Close()

	var out []model.Provider
	total := 0
	for rows.Next() {
		p, err := scanProvider(rows, &total)
		if err != nil {
			return nil, 0, eris.Wrap(err, "directory: scan provider")
		}
		out = append(out, p)
	}
	return out, total, eris.Wrap(rows.Err(), "directory: iterate providers")
}

// ListProvidersAtLocation returns providers practicing at a location.
func (s *Store) ListProvidersAtLocation(ctx context.Context, locationID int64, limit int) ([]model.Provider, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		providerSelect+` WHERE p.location_id = $1 ORDER BY p.last_name, p.first_name, p.npi LIMIT $2`,
		locationID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "directory: list providers at location %d", locationID)
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, eris.Wrap(err, "directory: scan provider")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "directory: iterate providers")
}

const locationSelect = `
SELECT id, address_line1, address_line2, city, state, zip, name, health_system,
       facility_type, provider_count, updated_at
FROM directory.locations`

func scanLocation(row pgx.Row) (model.Location, error) {
	var l model.Location
	err := row.Scan(&l.ID, &l.AddressLine1, &l.AddressLine2, &l.City, &l.State, &l.Zip,
		&l.Name, &l.HealthSystem, &l.FacilityType, &l.ProviderCount, &l.UpdatedAt)
	return l, err
}

// GetLocation returns one location.
func (s *Store) GetLocation(ctx context.Context, id int64) (*model.Location, error) {
	l, err := scanLocation(s.q.QueryRow(ctx, locationSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("directory: get location %d", id))
	}
	return &l, nil
}

// ResolveLocations returns a location id for each address, matching
// existing locations by normalized address key and creating the rest.
// Addresses with no street resolve to 0.
func (s *Store) ResolveLocations(ctx context.Context, addrs []model.Location) ([]int64, error) {
	ids := make([]int64, len(addrs))
	if len(addrs) == 0 {
		return ids, nil
	}

	zipSet := make(map[string]bool)
	for _, a := range addrs {
		if z := address.Zip5(a.Zip); z != "" {
			zipSet[z] = true
		}
	}
	zips := make([]string, 0, len(zipSet))
	for z := range zipSet {
		zips = append(zips, z)
	}

	known := make(map[address.Key]int64)
	rows, err := s.q.Query(ctx,
		locationSelect+` WHERE left(zip, 5) = ANY($1) ORDER BY id`, zips)
	if err != nil {
		return nil, eris.Wrap(err, "directory: load candidate locations")
	}
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "directory: scan location")
		}
		k := address.KeyOf(address.Parts{Line1: l.AddressLine1, City: l.City, State: l.State, Zip: l.Zip})
		if _, ok := known[k]; !ok {
			known[k] = l.ID
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "directory: iterate locations")
	}

	// Queue one insert per unseen key; later addresses with the same key
	// reuse the first insert's id.
	batch := &pgx.Batch{}
	var pendingKeys []address.Key
	pendingIdx := make(map[address.Key][]int)
	for i, a := range addrs {
		k := address.KeyOf(address.Parts{Line1: a.AddressLine1, City: a.City, State: a.State, Zip: a.Zip})
		if k.Empty() {
			continue
		}
		if id, ok := known[k]; ok {
			ids[i] = id
			continue
		}
		if _, queued := pendingIdx[k]; !queued {
			batch.Queue(`INSERT INTO directory.locations (address_line1, address_line2, city, state, zip)
				VALUES ($1, $2, $3, $4, $5) RETURNING id`,
				strings.TrimSpace(a.AddressLine1), strings.TrimSpace(a.AddressLine2),
				strings.TrimSpace(a.City), address.NormalizeState(a.State), strings.TrimSpace(a.Zip))
			pendingKeys = append(pendingKeys, k)
		}
		pendingIdx[k] = append(pendingIdx[k], i)
	}
	if batch.Len() == 0 {
		return ids, nil
	}

	br := s.q.SendBatch(ctx, batch)
	defer br.Close() //nolint:errcheck
	for _, k := range pendingKeys {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			return nil, eris.Wrapf(err, "directory: insert location %s", k)
		}
		for _, i := range pendingIdx[k] {
			ids[i] = id
		}
	}
	return ids, nil
}

var providerColumns = []string{
	"npi", "entity_type", "first_name", "last_name", "organization_name", "credential",
	"specialty", "taxonomy_code", "phone", "location_id", "updated_at",
}

// UpsertProviders bulk-writes providers keyed by NPI.
func (s *Store) UpsertProviders(ctx context.Context, providers []model.Provider) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(providers))
	for i, p := range providers {
		entity := p.EntityType
		if entity == "" {
			entity = model.EntityIndividual
		}
		rows[i] = []any{
			p.NPI, string(entity), p.FirstName, p.LastName, p.OrganizationName, p.Credential,
			p.Specialty, p.TaxonomyCode, p.Phone, p.LocationID, now,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        Schema + ".providers",
		Columns:      providerColumns,
		ConflictKeys: []string{"npi"},
	}, rows)
	return n, eris.Wrap(err, "directory: upsert providers")
}

// RefreshProviderCounts recomputes provider_count for the given locations.
func (s *Store) RefreshProviderCounts(ctx context.Context, locationIDs []int64) (int64, error) {
	if len(locationIDs) == 0 {
		return 0, nil
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE directory.locations l
		SET provider_count = (SELECT count(*) FROM directory.providers p WHERE p.location_id = l.id),
		    updated_at = now()
		WHERE l.id = ANY($1)`, locationIDs)
	if err != nil {
		return 0, eris.Wrap(err, "directory: refresh provider counts")
	}
	return tag.RowsAffected(), nil
}
