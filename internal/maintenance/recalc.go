package maintenance

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifymyprovider/vmp/internal/directory"
	"github.com/verifymyprovider/vmp/internal/model"
	"github.com/verifymyprovider/vmp/internal/verification"
)

// RecalcConfidence recomputes every acceptance from its verification logs
// and writes back the ones whose status or scores changed. Recency decays
// with time, so a periodic run keeps stored scores current.
func (r *Runner) RecalcConfidence(ctx context.Context, opts Options) (*model.JobResult, error) {
	res := &model.JobResult{}
	now := r.now()
	levels := make(map[string]int)

	var after int64
	for {
		accs, err := r.store.AcceptancesAfter(ctx, after, opts.batch())
		if err != nil {
			return res, eris.Wrap(err, "maintenance: recalc confidence")
		}
		if len(accs) == 0 {
			break
		}
		after = accs[len(accs)-1].ID
		res.Examined += len(accs)

		pairs := make([]directory.PairKey, len(accs))
		for i, a := range accs {
			pairs[i] = directory.PairKey{NPI: a.NPI, PlanID: a.PlanID}
		}
		logs, err := r.store.VerificationsForPairs(ctx, pairs)
		if err != nil {
			return res, eris.Wrap(err, "maintenance: recalc confidence")
		}

		var changed []model.ProviderPlanAcceptance
		for i := range accs {
			cur := &accs[i]
			next := verification.Recompute(r.scorer, cur, cur.NPI, cur.PlanID, logs[pairs[i]], now)
			levels[string(r.scorer.ForAcceptance(&next).Level)]++
			if acceptanceChanged(cur, &next) {
				changed = append(changed, next)
			}
		}

		if opts.Apply && len(changed) > 0 {
			n, err := r.store.UpsertAcceptances(ctx, changed)
			if err != nil {
				return res, eris.Wrapf(err, "maintenance: recalc confidence batch %d", res.Batches+1)
			}
			res.Affected += int(n)
		} else {
			res.Residual += len(changed)
		}
		res.Batches++
	}

	res.Details = map[string]any{"levels": levels}
	zap.L().Info("maintenance: recalc confidence",
		zap.Int("examined", res.Examined),
		zap.Int("updated", res.Affected),
		zap.Int("pending", res.Residual),
		zap.Bool("apply", opts.Apply),
	)
	return res, nil
}

const scoreEpsilon = 0.05

// acceptanceChanged reports whether a recomputed acceptance differs from
// the stored one in anything a reader would see.
func acceptanceChanged(a, b *model.ProviderPlanAcceptance) bool {
	if a.Status != b.Status || a.VerificationCount != b.VerificationCount || a.DataSource != b.DataSource {
		return true
	}
	if (a.AcceptsNewPatients == nil) != (b.AcceptsNewPatients == nil) ||
		(a.AcceptsNewPatients != nil && *a.AcceptsNewPatients != *b.AcceptsNewPatients) {
		return true
	}
	if (a.LastVerifiedAt == nil) != (b.LastVerifiedAt == nil) ||
		(a.LastVerifiedAt != nil && !a.LastVerifiedAt.Equal(*b.LastVerifiedAt)) {
		return true
	}
	for _, d := range []float64{
		a.ConfidenceScore - b.ConfidenceScore,
		a.DataSourceScore - b.DataSourceScore,
		a.RecencyScore - b.RecencyScore,
		a.VerificationScore - b.VerificationScore,
		a.AgreementScore - b.AgreementScore,
	} {
		if math.Abs(d) >= scoreEpsilon {
			return true
		}
	}
	return false
}
