package ingest

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifymyprovider/vmp/internal/address"
	"github.com/verifymyprovider/vmp/internal/model"
)

// ProviderRow is one line of a provider extract.
type ProviderRow struct {
	NPI              string `csv:"npi"`
	EntityType       string `csv:"entity_type,omitempty"`
	FirstName        string `csv:"first_name,omitempty"`
	LastName         string `csv:"last_name,omitempty"`
	OrganizationName string `csv:"organization_name,omitempty"`
	Credential       string `csv:"credential,omitempty"`
	Specialty        string `csv:"specialty,omitempty"`
	TaxonomyCode     string `csv:"taxonomy_code,omitempty"`
	Phone            string `csv:"phone,omitempty"`
	AddressLine1     string `csv:"address_line1,omitempty"`
	AddressLine2     string `csv:"address_line2,omitempty"`
	City             string `csv:"city,omitempty"`
	State            string `csv:"state,omitempty"`
	Zip              string `csv:"zip,omitempty"`
}

var providerRequired = []string{"npi"}

// Parse validates the row and splits it into a provider and its practice
// address.
func (r ProviderRow) Parse() (model.Provider, model.Location, error) {
	p := model.Provider{
		NPI:              strings.TrimSpace(r.NPI),
		FirstName:        strings.TrimSpace(r.FirstName),
		LastName:         strings.TrimSpace(r.LastName),
		OrganizationName: strings.TrimSpace(r.OrganizationName),
		Credential:       strings.TrimSpace(r.Credential),
		Specialty:        strings.TrimSpace(r.Specialty),
		TaxonomyCode:     strings.ToUpper(strings.TrimSpace(r.TaxonomyCode)),
		Phone:            digits(r.Phone),
	}
	loc := model.Location{
		AddressLine1: strings.TrimSpace(r.AddressLine1),
		AddressLine2: strings.TrimSpace(r.AddressLine2),
		City:         strings.TrimSpace(r.City),
		State:        address.NormalizeState(r.State),
		Zip:          strings.TrimSpace(r.Zip),
	}

	if !model.ValidNPI(p.NPI) {
		return p, loc, eris.Errorf("npi %q must be 10 digits", r.NPI)
	}
	entity, ok := model.ParseEntityType(r.EntityType)
	if !ok {
		return p, loc, eris.Errorf("unknown entity_type %q", r.EntityType)
	}
	p.EntityType = entity
	switch {
	case entity == model.EntityOrganization && p.OrganizationName == "":
		return p, loc, eris.New("organization_name is required for organizations")
	case entity == model.EntityIndividual && p.LastName == "" && p.OrganizationName == "":
		return p, loc, eris.New("last_name is required for individuals")
	}
	return p, loc, nil
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ImportProviders upserts providers by NPI and resolves each practice
// address to a location, creating locations that do not exist yet.
func (im *Importer) ImportProviders(ctx context.Context, r io.Reader, opts Options) (*model.JobResult, error) {
	t := newTally()
	touched := make(map[int64]bool)

	n, err := decodeBatches(r, providerRequired, opts.batch(), func(rows []ProviderRow, lines []int) error {
		// A batch may not carry the same NPI twice; the last row wins.
		byNPI := make(map[string]int)
		var providers []model.Provider
		var addrs []model.Location
		for i, row := range rows {
			p, loc, err := row.Parse()
			if err != nil {
				t.reject(lines[i], err.Error())
				continue
			}
			if j, dup := byNPI[p.NPI]; dup {
				providers[j], addrs[j] = p, loc
				continue
			}
			byNPI[p.NPI] = len(providers)
			providers = append(providers, p)
			addrs = append(addrs, loc)
		}
		if opts.DryRun || len(providers) == 0 {
			return nil
		}

		ids, err := im.store.ResolveLocations(ctx, addrs)
		if err != nil {
			return err
		}
		for i, id := range ids {
			if id == 0 {
				continue
			}
			providers[i].LocationID = &id
			touched[id] = true
		}

		written, err := im.store.UpsertProviders(ctx, providers)
		if err != nil {
			return eris.Wrapf(err, "ingest: providers batch %d", t.res.Batches+1)
		}
		t.res.Affected += int(written)
		t.res.Batches++
		return nil
	})
	t.res.Examined = n
	if err != nil {
		return t.res, err
	}

	if len(touched) > 0 {
		locIDs := make([]int64, 0, len(touched))
		for id := range touched {
			locIDs = append(locIDs, id)
		}
		if _, err := im.store.RefreshProviderCounts(ctx, locIDs); err != nil {
			return t.res, err
		}
		zap.L().Debug("ingest: refreshed provider counts", zap.Int("locations", len(locIDs)))
	}
	t.res.Details["locations"] = len(touched)
	return t.finish(KindProviders, opts), nil
}
