package ingest

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/verifymyprovider/vmp/internal/directory"
	"github.com/verifymyprovider/vmp/internal/model"
	"github.com/verifymyprovider/vmp/internal/verification"
)

// AcceptanceRow is one line of a CMS or carrier acceptance list. Each row
// becomes an approved verification log from its source.
type AcceptanceRow struct {
	NPI                string `csv:"npi"`
	PlanID             string `csv:"plan_id"`
	Status             string `csv:"acceptance_status"`
	AcceptsNewPatients string `csv:"accepts_new_patients,omitempty"`
	Source             string `csv:"source,omitempty"`
	VerifiedAt         string `csv:"verified_at,omitempty"`
}

var acceptanceRequired = []string{"npi", "plan_id", "acceptance_status"}

// VerificationRow is one line of a historical verification log export.
type VerificationRow struct {
	ID                        string `csv:"id,omitempty"`
	NPI                       string `csv:"npi"`
	PlanID                    string `csv:"plan_id"`
	Source                    string `csv:"source,omitempty"`
	ClaimedStatus             string `csv:"claimed_status"`
	ClaimedAcceptsNewPatients string `csv:"claimed_accepts_new_patients,omitempty"`
	Notes                     string `csv:"notes,omitempty"`
	SubmittedBy               string `csv:"submitted_by,omitempty"`
	IsApproved                string `csv:"is_approved,omitempty"`
	CreatedAt                 string `csv:"created_at,omitempty"`
}

var verificationRequired = []string{"npi", "plan_id", "claimed_status"}

// parseClaim validates the fields shared by both row kinds.
func parseClaim(npi, planID, source, status, newPatients, at string, defaultSource model.VerificationSource) (model.VerificationLog, error) {
	v := model.VerificationLog{
		NPI:    strings.TrimSpace(npi),
		PlanID: strings.TrimSpace(planID),
		Source: defaultSource,
	}
	if !model.ValidNPI(v.NPI) {
		return v, eris.Errorf("npi %q must be 10 digits", npi)
	}
	if v.PlanID == "" {
		return v, eris.New("plan_id is required")
	}
	if strings.TrimSpace(source) != "" {
		src, ok := model.ParseSource(source)
		if !ok {
			return v, eris.Errorf("unknown source %q", source)
		}
		v.Source = src
	}
	st, ok := model.ParseAcceptanceStatus(status)
	if !ok {
		return v, eris.Errorf("unknown status %q", status)
	}
	v.ClaimedStatus = st

	np, err := parseOptionalBool(newPatients)
	if err != nil {
		return v, err
	}
	v.ClaimedAcceptsNewPatients = np

	ts, err := parseOptionalTime(at)
	if err != nil {
		return v, err
	}
	v.CreatedAt = ts
	return v, nil
}

// Parse validates the row. Rows default to CMS_DATA.
func (r AcceptanceRow) Parse() (model.VerificationLog, error) {
	v, err := parseClaim(r.NPI, r.PlanID, r.Source, r.Status, r.AcceptsNewPatients, r.VerifiedAt, model.SourceCMSData)
	if err != nil {
		return v, err
	}
	approved := true
	v.IsApproved = &approved
	return v, nil
}

// Parse validates the row. Rows default to CROWDSOURCE.
func (r VerificationRow) Parse() (model.VerificationLog, error) {
	v, err := parseClaim(r.NPI, r.PlanID, r.Source, r.ClaimedStatus, r.ClaimedAcceptsNewPatients, r.CreatedAt, model.SourceCrowdsource)
	if err != nil {
		return v, err
	}
	if id := strings.TrimSpace(r.ID); id != "" {
		if _, err := uuid.Parse(id); err != nil {
			return v, eris.Errorf("id %q is not a uuid", id)
		}
		v.ID = id
	}
	approved, err := parseOptionalBool(r.IsApproved)
	if err != nil {
		return v, err
	}
	v.IsApproved = approved
	v.Notes = strings.TrimSpace(r.Notes)
	v.SubmittedBy = strings.TrimSpace(r.SubmittedBy)
	return v, nil
}

// ImportAcceptances appends one verification log per row and recomputes
// the affected acceptances.
func (im *Importer) ImportAcceptances(ctx context.Context, r io.Reader, opts Options) (*model.JobResult, error) {
	t := newTally()
	n, err := decodeBatches(r, acceptanceRequired, opts.batch(), func(rows []AcceptanceRow, lines []int) error {
		logs := make([]model.VerificationLog, 0, len(rows))
		at := make([]int, 0, len(rows))
		for i, row := range rows {
			v, err := row.Parse()
			if err != nil {
				t.reject(lines[i], err.Error())
				continue
			}
			logs = append(logs, v)
			at = append(at, lines[i])
		}
		return im.appendLogs(ctx, t, logs, at, opts)
	})
	t.res.Examined = n
	if err != nil {
		return t.res, err
	}
	return t.finish(KindAcceptances, opts), nil
}

// ImportVerifications appends historical verification logs and recomputes
// the affected acceptances.
func (im *Importer) ImportVerifications(ctx context.Context, r io.Reader, opts Options) (*model.JobResult, error) {
	t := newTally()
	n, err := decodeBatches(r, verificationRequired, opts.batch(), func(rows []VerificationRow, lines []int) error {
		logs := make([]model.VerificationLog, 0, len(rows))
		at := make([]int, 0, len(rows))
		for i, row := range rows {
			v, err := row.Parse()
			if err != nil {
				t.reject(lines[i], err.Error())
				continue
			}
			logs = append(logs, v)
			at = append(at, lines[i])
		}
		return im.appendLogs(ctx, t, logs, at, opts)
	})
	t.res.Examined = n
	if err != nil {
		return t.res, err
	}
	return t.finish(KindVerifications, opts), nil
}

// appendLogs copies a batch of logs in and rewrites the acceptance of
// every pair they touch. Logs naming a provider or plan missing from the
// directory are rejected by line before anything is written.
func (im *Importer) appendLogs(ctx context.Context, t *tally, logs []model.VerificationLog, lines []int, opts Options) error {
	if opts.DryRun || len(logs) == 0 {
		return nil
	}
	now := im.now()

	seen := make(map[directory.PairKey]bool)
	var pairs []directory.PairKey
	for i := range logs {
		k := directory.PairKey{NPI: logs[i].NPI, PlanID: logs[i].PlanID}
		if !seen[k] {
			seen[k] = true
			pairs = append(pairs, k)
		}
	}

	known, err := im.store.KnownPairs(ctx, pairs)
	if err != nil {
		return eris.Wrapf(err, "ingest: batch %d", t.res.Batches+1)
	}
	kept := logs[:0]
	for i, v := range logs {
		if !known[directory.PairKey{NPI: v.NPI, PlanID: v.PlanID}] {
			t.reject(lines[i], "unknown provider or plan")
			continue
		}
		if v.ID == "" {
			v.ID = im.newID()
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		kept = append(kept, v)
	}
	logs = kept
	if len(logs) == 0 {
		return nil
	}
	live := pairs[:0]
	for _, k := range pairs {
		if known[k] {
			live = append(live, k)
		}
	}
	pairs = live

	batch := t.res.Batches + 1
	written, err := im.store.AppendVerifications(ctx, logs)
	if err != nil {
		return eris.Wrapf(err, "ingest: batch %d", batch)
	}
	t.res.Affected += int(written)

	current, err := im.store.AcceptancesForPairs(ctx, pairs)
	if err != nil {
		return eris.Wrapf(err, "ingest: batch %d", batch)
	}
	history, err := im.store.VerificationsForPairs(ctx, pairs)
	if err != nil {
		return eris.Wrapf(err, "ingest: batch %d", batch)
	}

	accs := make([]model.ProviderPlanAcceptance, 0, len(pairs))
	for _, k := range pairs {
		var cur *model.ProviderPlanAcceptance
		if a, ok := current[k]; ok {
			cur = &a
		}
		accs = append(accs, verification.Recompute(im.scorer, cur, k.NPI, k.PlanID, history[k], now))
	}
	if _, err := im.store.UpsertAcceptances(ctx, accs); err != nil {
		return eris.Wrapf(err, "ingest: batch %d", batch)
	}

	t.res.Batches++
	recomputed, _ := t.res.Details["recomputed"].(int)
	t.res.Details["recomputed"] = recomputed + len(accs)
	return nil
}
