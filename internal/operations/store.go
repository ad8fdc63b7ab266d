package operations

import (
	"context"
	"fmt"
	"sort"
	"time"

	"posextract/pkg/contracts/domain"
)

// JobStore persists jobs. Implementations must make TryAdmit atomic with
// respect to every other TryAdmit, and must reject updates that break the
// status lifecycle with ErrInvalidTransition.
type JobStore interface {
	// TryAdmit stores job (which must be pending) unless another job is
	// active, in which case it returns a *ConflictError.
	TryAdmit(ctx context.Context, job *domain.Job) error
	// Update applies fn to a copy of the job and persists the result.
	Update(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, filter JobFilter) ([]*domain.Job, error)
	// Delete removes a job. It is used to roll back an admission whose
	// job could not be started.
	Delete(ctx context.Context, id string) error
	Close() error
}

// JobFilter for querying jobs
type JobFilter struct {
	Status     domain.JobStatus
	ActiveOnly bool
	Since      time.Time
	Limit      int
}

func (f JobFilter) matches(job *domain.Job) bool {
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if f.ActiveOnly && !job.Status.IsActive() {
		return false
	}
	if !f.Since.IsZero() && job.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// applyUpdate runs fn on a copy of current and checks the resulting status
// change is legal. The returned job is safe to persist.
func applyUpdate(current *domain.Job, fn func(*domain.Job) error) (*domain.Job, error) {
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.ID != current.ID {
		return nil, fmt.Errorf("job id cannot change: %w", ErrInvalidTransition)
	}
	if next.Status != current.Status && !current.Status.CanTransitionTo(next.Status) {
		return nil, fmt.Errorf("%s -> %s: %w", current.Status, next.Status, ErrInvalidTransition)
	}
	return next, nil
}

func checkAdmittable(job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job without id")
	}
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("admitted job must be pending, got %s: %w", job.Status, ErrInvalidTransition)
	}
	return nil
}

// sortNewestFirst orders jobs by creation time, newest first, and applies limit.
func sortNewestFirst(jobs []*domain.Job, limit int) []*domain.Job {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
