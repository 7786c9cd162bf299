package maintenance

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifymyprovider/vmp/internal/address"
	"github.com/verifymyprovider/vmp/internal/directory"
	"github.com/verifymyprovider/vmp/internal/model"
)

// DuplicateGroup is a set of locations sharing one normalized address.
// Keeper is the lowest id.
type DuplicateGroup struct {
	Key        address.Key
	Keeper     int64
	Duplicates []int64
}

// GroupDuplicates groups locations by normalized address and returns the
// groups with more than one member, ordered by keeper id. Locations with
// no street are never grouped.
func GroupDuplicates(locs []model.Location) []DuplicateGroup {
	byKey := make(map[address.Key][]int64)
	for _, l := range locs {
		k := address.KeyOf(address.Parts{Line1: l.AddressLine1, City: l.City, State: l.State, Zip: l.Zip})
		if k.Empty() {
			continue
		}
		byKey[k] = append(byKey[k], l.ID)
	}

	var groups []DuplicateGroup
	for k, ids := range byKey {
		if len(ids) < 2 {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		groups = append(groups, DuplicateGroup{Key: k, Keeper: ids[0], Duplicates: ids[1:]})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Keeper < groups[j].Keeper })
	return groups
}

// duplicateGroups scans every location and groups duplicates.
func (r *Runner) duplicateGroups(ctx context.Context, batch int) ([]DuplicateGroup, int, error) {
	var all []model.Location
	var after int64
	for {
		page, err := r.store.LocationsAfter(ctx, after, batch)
		if err != nil {
			return nil, 0, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		after = page[len(page)-1].ID
	}
	return GroupDuplicates(all), len(all), nil
}

func countDuplicates(groups []DuplicateGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.Duplicates)
	}
	return n
}

// DedupLocations merges locations whose normalized addresses match into
// the oldest row of each group. After applying it returns ErrResidual if
// duplicate groups are still found.
func (r *Runner) DedupLocations(ctx context.Context, opts Options) (*model.JobResult, error) {
	groups, examined, err := r.duplicateGroups(ctx, opts.batch())
	if err != nil {
		return nil, eris.Wrap(err, "maintenance: dedup locations")
	}

	res := &model.JobResult{
		Examined: examined,
		Details: map[string]any{
			"groups":     len(groups),
			"duplicates": countDuplicates(groups),
		},
	}
	zap.L().Info("maintenance: duplicate locations found",
		zap.Int("locations", examined),
		zap.Int("groups", len(groups)),
		zap.Int("duplicates", countDuplicates(groups)),
		zap.Bool("apply", opts.Apply),
	)

	if !opts.Apply {
		res.Residual = len(groups)
		return res, nil
	}

	var moved int64
	for i, batch := range chunk(groups, opts.batch()) {
		var batchMoved int64
		err := r.store.InTx(ctx, func(tx *directory.Store) error {
			for _, g := range batch {
				n, err := tx.MergeLocations(ctx, g.Keeper, g.Duplicates)
				if err != nil {
					return err
				}
				batchMoved += n
			}
			return nil
		})
		if err != nil {
			res.Details["providers_moved"] = moved
			return res, eris.Wrapf(err, "maintenance: dedup locations batch %d", i+1)
		}
		moved += batchMoved
		res.Batches++
		res.Affected += countDuplicates(batch)
		zap.L().Debug("maintenance: dedup batch committed", zap.Int("batch", i+1), zap.Int("groups", len(batch)))
	}
	res.Details["providers_moved"] = moved

	remaining, _, err := r.duplicateGroups(ctx, opts.batch())
	if err != nil {
		return res, eris.Wrap(err, "maintenance: recheck duplicates")
	}
	res.Residual = len(remaining)
	if res.Residual > 0 {
		return res, eris.Wrapf(ErrResidual, "maintenance: %d duplicate groups remain after merge", res.Residual)
	}
	return res, nil
}

// VerifyDedup reports duplicate location groups and stale provider counts
// that remain. It returns ErrResidual when any are found.
func (r *Runner) VerifyDedup(ctx context.Context, opts Options) (*model.JobResult, error) {
	groups, examined, err := r.duplicateGroups(ctx, opts.batch())
	if err != nil {
		return nil, eris.Wrap(err, "maintenance: verify dedup")
	}
	stale, err := r.store.CountStaleProviderCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "maintenance: verify dedup")
	}

	res := &model.JobResult{
		Examined: examined,
		Residual: len(groups) + stale,
		Details: map[string]any{
			"duplicate_groups":      len(groups),
			"stale_provider_counts": stale,
		},
	}
	for i, g := range groups {
		if i == 10 {
			break
		}
		zap.L().Warn("maintenance: duplicate location group remains",
			zap.String("key", g.Key.String()),
			zap.Int64("keeper", g.Keeper),
			zap.Int64s("duplicates", g.Duplicates),
		)
	}
	if res.Residual > 0 {
		return res, eris.Wrapf(ErrResidual, "maintenance: %d duplicate groups, %d stale counts", len(groups), stale)
	}
	return res, nil
}

// RefreshCounts recomputes every stale provider_count.
func (r *Runner) RefreshCounts(ctx context.Context, opts Options) (*model.JobResult, error) {
	stale, err := r.store.CountStaleProviderCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "maintenance: refresh counts")
	}
	res := &model.JobResult{Examined: stale}
	if !opts.Apply || stale == 0 {
		res.Residual = stale
		return res, nil
	}

	n, err := r.store.RefreshAllProviderCounts(ctx)
	if err != nil {
		return res, eris.Wrap(err, "maintenance: refresh counts")
	}
	res.Affected = int(n)
	res.Batches = 1
	return res, nil
}
