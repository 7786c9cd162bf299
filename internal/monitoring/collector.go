package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verifymyprovider/vmp/internal/directory"
	"github.com/verifymyprovider/vmp/internal/freshness"
	"github.com/verifymyprovider/vmp/internal/store"
)

// lowConfidenceScore is the bottom of the MEDIUM band. Anything under it
// is shown to users as LOW or VERY_LOW.
const lowConfidenceScore = 51

// MetricsSnapshot holds a point-in-time view of directory data quality.
type MetricsSnapshot struct {
	// Acceptance quality.
	Acceptances        int                     `json:"acceptances"`
	ByFreshness        map[freshness.Level]int `json:"by_freshness"`
	StaleAcceptances   int                     `json:"stale_acceptances"`
	StaleRatio         float64                 `json:"stale_ratio"`
	LowConfidence      int                     `json:"low_confidence"`
	LowConfidenceRatio float64                 `json:"low_confidence_ratio"`

	// Moderation queue.
	PendingVerifications int `json:"pending_verifications"`

	// Job runs (within lookback window).
	JobRunsTotal  int `json:"job_runs_total"`
	JobRunsFailed int `json:"job_runs_failed"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// DirectoryStats abstracts the directory queries needed by the collector.
type DirectoryStats interface {
	AcceptanceAges(ctx context.Context, minScore float64) ([]directory.AgeBucket, error)
	CountPendingVerifications(ctx context.Context) (int, error)
}

// Collector gathers metrics from the directory and the job run log.
type Collector struct {
	dir   DirectoryStats
	runs  store.Store
	fresh *freshness.Evaluator
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(dir DirectoryStats, runs store.Store, fresh *freshness.Evaluator) *Collector {
	return &Collector{dir: dir, runs: runs, fresh: fresh, now: time.Now}
}

// Collect gathers a snapshot of directory health over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		ByFreshness:   map[freshness.Level]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	buckets, err := c.dir.AcceptanceAges(ctx, lowConfidenceScore)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: acceptance ages")
	}
	for _, b := range buckets {
		level := freshness.LevelStale
		if b.Days != nil {
			threshold := c.fresh.Threshold(freshness.Categorize(b.Specialty, b.TaxonomyCode))
			level = freshness.LevelFor(*b.Days, threshold)
		}
		snap.ByFreshness[level] += b.Count
		snap.Acceptances += b.Count
		snap.LowConfidence += b.LowConfidence
	}
	snap.StaleAcceptances = snap.ByFreshness[freshness.LevelStale]
	if snap.Acceptances > 0 {
		snap.StaleRatio = float64(snap.StaleAcceptances) / float64(snap.Acceptances)
		snap.LowConfidenceRatio = float64(snap.LowConfidence) / float64(snap.Acceptances)
	}

	snap.PendingVerifications, err = c.dir.CountPendingVerifications(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count pending verifications")
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Since: cutoff, Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	snap.JobRunsTotal = len(runs)
	snap.JobRunsFailed, err = c.runs.CountFailedSince(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count failed runs")
	}

	return snap, nil
}
