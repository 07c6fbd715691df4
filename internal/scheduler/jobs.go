package scheduler

import (
	"context"

	"github.com/ecobici-cdmx/dockarchive/config"
	"github.com/ecobici-cdmx/dockarchive/internal/archive"
	"github.com/ecobici-cdmx/dockarchive/internal/errors"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/retention"
)

// Job names.
const (
	JobSeal          = "seal"
	JobWarmYesterday = "warm_yesterday"
	JobWarmProfiles  = "warm_profiles"
	JobRetention     = "retention"
)

// Sealer converts finalized partitions to sealed files.
type Sealer interface {
	SealFinalized(ctx context.Context) (int, error)
}

// Warmer precomputes cached results.
type Warmer interface {
	WarmYesterday(ctx context.Context) (archive.WarmResult, error)
	WarmProfiles(ctx context.Context) (archive.WarmResult, error)
}

// Cleaner applies the retention policy.
type Cleaner interface {
	Enabled() bool
	RunCleanup(ctx context.Context) retention.CleanupResult
}

// BuildJobs returns the daemon's jobs for cfg. A nil collaborator leaves
// its jobs out, as does a disabled retention policy.
func BuildJobs(cfg *config.Config, sealer Sealer, warmer Warmer, cleaner Cleaner) []Job {
	var jobs []Job

	if sealer != nil {
		jobs = append(jobs, Job{
			Name:  JobSeal,
			Every: cfg.Storage.Partition.SealInterval,
			Run: func(ctx context.Context) error {
				_, err := sealer.SealFinalized(ctx)
				return err
			},
		})
	}

	if warmer != nil {
		jobs = append(jobs,
			Job{
				Name: JobWarmYesterday,
				At:   cfg.Scheduler.WarmYesterdayAt,
				Run: func(ctx context.Context) error {
					_, err := warmer.WarmYesterday(ctx)
					return err
				},
			},
			Job{
				Name: JobWarmProfiles,
				At:   cfg.Scheduler.WarmProfilesAt,
				Run: func(ctx context.Context) error {
					_, err := warmer.WarmProfiles(ctx)
					return err
				},
			},
		)
	}

	if cleaner != nil && cleaner.Enabled() {
		jobs = append(jobs, Job{
			Name: JobRetention,
			At:   cfg.Scheduler.RetentionAt,
			Run: func(ctx context.Context) error {
				res := cleaner.RunCleanup(ctx)
				return errors.Join(res.Errors...)
			},
		})
	}

	return jobs
}
