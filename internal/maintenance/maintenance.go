// Package maintenance implements the batch jobs that keep the directory
// consistent: location dedup and enrichment, provider count refresh,
// confidence recalculation and export. Jobs are dry runs unless
// Options.Apply is set, and each applied batch commits on its own so a
// re-run picks up where a failed one stopped.
package maintenance

import (
	"errors"
	"time"

	"github.com/verifymyprovider/vmp/internal/confidence"
	"github.com/verifymyprovider/vmp/internal/directory"
	"github.com/verifymyprovider/vmp/internal/freshness"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 500

// ErrResidual is returned by checks that find problems left to fix.
var ErrResidual = errors.New("maintenance: residual problems remain")

// Options are shared by every job.
type Options struct {
	Apply     bool
	BatchSize int
}

func (o Options) batch() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

// Runner runs maintenance jobs against a directory store.
type Runner struct {
	store     *directory.Store
	scorer    *confidence.Scorer
	freshness *freshness.Evaluator
	now       func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(store *directory.Store, scorer *confidence.Scorer, fresh *freshness.Evaluator) *Runner {
	return &Runner{
		store:     store,
		scorer:    scorer,
		freshness: fresh,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// chunk splits items into slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
