package scheduler

import (
	"context"
)

// Sweeper is the settlement work the scheduler drives.
type Sweeper interface {
	FinalizeDue(ctx context.Context) (int, error)
	ArchiveSettled(ctx context.Context) (int, error)
}

// PruneFunc drops old local audit rows and reports how many.
type PruneFunc func(ctx context.Context) (int64, error)

// Schedules for the standard jobs. An empty spec disables the job.
type Schedules struct {
	Finalize string
	Archive  string
	Prune    string
}

// DefaultSchedules are used when the config leaves a spec unset.
var DefaultSchedules = Schedules{
	Finalize: "@every 30s",
	Archive:  "0 */10 * * * *",
	Prune:    "0 0 3 * * *",
}

type jobDef struct {
	name string
	spec string
	job  Job
}

// Register adds the finalization sweep, journal archival and audit pruning
// jobs. prune may be nil.
func Register(r *Runner, s Schedules, sweeper Sweeper, prune PruneFunc) error {
	jobs := []jobDef{
		{"finalize_due", s.Finalize, func(ctx context.Context) error {
			_, err := sweeper.FinalizeDue(ctx)
			return err
		}},
		{"archive_settled", s.Archive, func(ctx context.Context) error {
			_, err := sweeper.ArchiveSettled(ctx)
			return err
		}},
	}
	if prune != nil {
		jobs = append(jobs, jobDef{"prune_audit", s.Prune, func(ctx context.Context) error {
			_, err := prune(ctx)
			return err
		}})
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := r.Add(j.name, j.spec, j.job); err != nil {
			return err
		}
	}
	return nil
}
