package operations

import (
	"context"
	"fmt"
	"sync"

	"posextract/pkg/contracts/domain"
)

// MemoryJobStore is an in-memory implementation of JobStore
type MemoryJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	active string
}

// NewMemoryJobStore creates a new in-memory job store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*domain.Job),
	}
}

// TryAdmit checks for an active job and inserts under one lock.
func (s *MemoryJobStore) TryAdmit(ctx context.Context, job *domain.Job) error {
	if err := checkAdmittable(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != "" {
		return &ConflictError{ActiveJobID: s.active}
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	s.jobs[job.ID] = job.Clone()
	s.active = job.ID
	return nil
}

// Update applies fn to the stored job
func (s *MemoryJobStore) Update(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}

	next, err := applyUpdate(current, fn)
	if err != nil {
		return nil, err
	}

	s.jobs[id] = next
	if s.active == id && !next.Status.IsActive() {
		s.active = ""
	}
	return next.Clone(), nil
}

// Get retrieves a job by ID
func (s *MemoryJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	// Return a copy to prevent external modification
	return job.Clone(), nil
}

// List returns jobs matching the filter, newest first
func (s *MemoryJobStore) List(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.Job
	for _, job := range s.jobs {
		if filter.matches(job) {
			result = append(result, job.Clone())
		}
	}
	return sortNewestFirst(result, filter.Limit), nil
}

// Delete removes a job
func (s *MemoryJobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	delete(s.jobs, id)
	if s.active == id {
		s.active = ""
	}
	return nil
}

// Close is a no-op
func (s *MemoryJobStore) Close() error {
	return nil
}
