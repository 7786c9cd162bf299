// Package model defines the provider directory records shared by the
// stores, the verification service, the API, and the maintenance jobs.
package model

import (
	"strings"
	"time"
)

// EntityType distinguishes NPPES entity type 1 (individual) from type 2
// (organization).
type EntityType string

const (
	EntityIndividual   EntityType = "INDIVIDUAL"
	EntityOrganization EntityType = "ORGANIZATION"
)

// ParseEntityType accepts the NPPES entity type codes "1" and "2" as well as
// the canonical names.
func ParseEntityType(s string) (EntityType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "1", string(EntityIndividual):
		return EntityIndividual, true
	case "2", string(EntityOrganization):
		return EntityOrganization, true
	}
	return "", false
}

// ValidNPI reports whether s is a 10-digit National Provider Identifier.
func ValidNPI(s string) bool {
	if len(s) != 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Provider is a healthcare provider keyed by NPI.
type Provider struct {
	NPI              string     `json:"npi"`
	EntityType       EntityType `json:"entity_type"`
	FirstName        string     `json:"first_name,omitempty"`
	LastName         string     `json:"last_name,omitempty"`
	OrganizationName string     `json:"organization_name,omitempty"`
	Credential       string     `json:"credential,omitempty"`
	Specialty        string     `json:"specialty,omitempty"`
	TaxonomyCode     string     `json:"taxonomy_code,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	LocationID       *int64     `json:"location_id,omitempty"`
	Location         *Location  `json:"location,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// DisplayName returns the organization name for organizations and
// "First Last, Credential" for individuals.
func (p Provider) DisplayName() string {
	if p.EntityType == EntityOrganization && p.OrganizationName != "" {
		return p.OrganizationName
	}
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		name = p.OrganizationName
	}
	if p.Credential != "" && name != "" {
		name += ", " + p.Credential
	}
	return name
}

// Location is a physical practice address. Name, HealthSystem and
// FacilityType are filled in by location enrichment.
type Location struct {
	ID            int64     `json:"id"`
	AddressLine1  string    `json:"address_line1"`
	AddressLine2  string    `json:"address_line2,omitempty"`
	City          string    `json:"city"`
	State         string    `json:"state"`
	Zip           string    `json:"zip"`
	Name          string    `json:"name,omitempty"`
	HealthSystem  string    `json:"health_system,omitempty"`
	FacilityType  string    `json:"facility_type,omitempty"`
	ProviderCount int       `json:"provider_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Zip5 returns the first five digits of the ZIP code.
func (l Location) Zip5() string {
	if len(l.Zip) > 5 {
		return l.Zip[:5]
	}
	return l.Zip
}

// InsurancePlan is a carrier plan that providers may accept.
type InsurancePlan struct {
	PlanID   string `json:"plan_id"`
	Name     string `json:"name"`
	Issuer   string `json:"issuer"`
	PlanType string `json:"plan_type,omitempty"`
	State    string `json:"state,omitempty"`
}
