// Package store keeps the history of maintenance and import job runs.
package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/verifymyprovider/vmp/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Job    string          `json:"job,omitempty"`
	Status model.JobStatus `json:"status,omitempty"`
	Since  time.Time       `json:"since,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the persistence interface for job runs.
type Store interface {
	CreateRun(ctx context.Context, job string, dryRun bool, params map[string]any) (*model.JobRun, error)
	CompleteRun(ctx context.Context, runID string, result *model.JobResult) error
	FailRun(ctx context.Context, runID string, result *model.JobResult, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.JobRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.JobRun, error)
	CountFailedSince(ctx context.Context, since time.Time) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Track records fn as a run of job. The run is created before fn starts and
// completed or failed with its result afterwards. Bookkeeping failures are
// logged and never mask fn's own outcome.
func Track(ctx context.Context, st Store, job string, dryRun bool, params map[string]any,
	fn func(ctx context.Context) (*model.JobResult, error),
) (*model.JobResult, error) {
	run, err := st.CreateRun(ctx, job, dryRun, params)
	if err != nil {
		zap.L().Warn("store: could not record run start", zap.String("job", job), zap.Error(err))
		return fn(ctx)
	}
	log := zap.L().With(zap.String("job", job), zap.String("run_id", run.ID))
	log.Info("job started", zap.Bool("dry_run", dryRun))

	res, runErr := fn(ctx)
	// Record the outcome even when ctx was cancelled mid-run.
	bg := context.WithoutCancel(ctx)
	if runErr != nil {
		if err := st.FailRun(bg, run.ID, res, runErr); err != nil {
			log.Warn("store: could not record run failure", zap.Error(err))
		}
		log.Error("job failed", zap.Error(runErr))
		return res, runErr
	}
	if err := st.CompleteRun(bg, run.ID, res); err != nil {
		log.Warn("store: could not record run completion", zap.Error(err))
	}
	log.Info("job complete")
	return res, nil
}
