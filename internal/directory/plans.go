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

const planSelect = `SELECT plan_id, name, issuer, plan_type, state FROM directory.insurance_plans`

func scanPlan(row pgx.Row) (model.InsurancePlan, error) {
	var p model.InsurancePlan
	err := row.Scan(&p.PlanID, &p.Name, &p.Issuer, &p.PlanType, &p.State)
	return p, err
}

// GetPlan returns one insurance plan.
func (s *Store) GetPlan(ctx context.Context, planID string) (*model.InsurancePlan, error) {
	p, err := scanPlan(s.q.QueryRow(ctx, planSelect+` WHERE plan_id = $1`, planID))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("directory: get plan %s", planID))
	}
	return &p, nil
}

// PlanFilter narrows a plan search. Query matches name or issuer.
type PlanFilter struct {
	Issuer   string
	PlanType string
	State    string
	Query    string
	Page     Page
}

// SearchPlans returns one page of matching plans.
func (s *Store) SearchPlans(ctx context.Context, f PlanFilter) ([]model.InsurancePlan, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if f.Issuer != "" {
		add("upper(issuer) = ?", strings.ToUpper(strings.TrimSpace(f.Issuer)))
	}
	if f.PlanType != "" {
		add("upper(plan_type) = ?", strings.ToUpper(strings.TrimSpace(f.PlanType)))
	}
	if f.State != "" {
		add("state = ?", address.NormalizeState(f.State))
	}
	if f.Query != "" {
		add("(upper(name) LIKE ? OR upper(issuer) LIKE ?)", "%"+strings.ToUpper(strings.TrimSpace(f.Query))+"%")
	}

	sql := planSelect
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	page := f.Page.normalize()
	args = append(args, page.Limit, page.Offset)
	sql += fmt.Sprintf(" ORDER BY issuer, name, plan_id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "directory: search plans")
	}
	defer rows.Close()

	var out []model.InsurancePlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, eris.Wrap(err, "directory: scan plan")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "directory: iterate plans")
}

// UpsertPlans bulk-writes plans keyed by plan id.
func (s *Store) UpsertPlans(ctx context.Context, plans []model.InsurancePlan) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(plans))
	for i, p := range plans {
		rows[i] = []any{p.PlanID, p.Name, p.Issuer, p.PlanType, address.NormalizeState(p.State), now}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        Schema + ".insurance_plans",
		Columns:      []string{"plan_id", "name", "issuer", "plan_type", "state", "updated_at"},
		ConflictKeys: []string{"plan_id"},
	}, rows)
	return n, eris.Wrap(err, "directory: upsert plans")
}
