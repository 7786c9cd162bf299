package ingest

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/verifymyprovider/vmp/internal/model"
)

// PlanRow is one line of a carrier plan list.
type PlanRow struct {
	PlanID   string `csv:"plan_id"`
	Name     string `csv:"name"`
	Issuer   string `csv:"issuer,omitempty"`
	PlanType string `csv:"plan_type,omitempty"`
	State    string `csv:"state,omitempty"`
}

var planRequired = []string{"plan_id", "name"}

// Parse validates the row.
func (r PlanRow) Parse() (model.InsurancePlan, error) {
	p := model.InsurancePlan{
		PlanID:   strings.TrimSpace(r.PlanID),
		Name:     strings.TrimSpace(r.Name),
		Issuer:   strings.TrimSpace(r.Issuer),
		PlanType: strings.ToUpper(strings.TrimSpace(r.PlanType)),
		State:    strings.TrimSpace(r.State),
	}
	if p.PlanID == "" {
		return p, eris.New("plan_id is required")
	}
	if p.Name == "" {
		return p, eris.New("name is required")
	}
	return p, nil
}

// ImportPlans upserts plans by plan id.
func (im *Importer) ImportPlans(ctx context.Context, r io.Reader, opts Options) (*model.JobResult, error) {
	t := newTally()
	n, err := decodeBatches(r, planRequired, opts.batch(), func(rows []PlanRow, lines []int) error {
		byID := make(map[string]int)
		var plans []model.InsurancePlan
		for i, row := range rows {
			p, err := row.Parse()
			if err != nil {
				t.reject(lines[i], err.Error())
				continue
			}
			if j, dup := byID[p.PlanID]; dup {
				plans[j] = p
				continue
			}
			byID[p.PlanID] = len(plans)
			plans = append(plans, p)
		}
		if opts.DryRun || len(plans) == 0 {
			return nil
		}

		written, err := im.store.UpsertPlans(ctx, plans)
		if err != nil {
			return eris.Wrapf(err, "ingest: plans batch %d", t.res.Batches+1)
		}
		t.res.Affected += int(written)
		t.res.Batches++
		return nil
	})
	t.res.Examined = n
	if err != nil {
		return t.res, err
	}
	return t.finish(KindPlans, opts), nil
}
