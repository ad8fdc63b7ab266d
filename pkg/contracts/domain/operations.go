package domain

import (
	"time"
)

// Job is one end-to-end run of the extraction pipeline.
type Job struct {
	ID          string     `json:"id" db:"id" validate:"required,uuid"`
	Status      JobStatus  `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Result      *JobResult `json:"result,omitempty" db:"result"`
	Error       string     `json:"error,omitempty" db:"error"`
	DeliveryURL string     `json:"delivery_url,omitempty" db:"delivery_url" validate:"omitempty,url"`
	ReportDate  string     `json:"report_date" db:"report_date" validate:"omitempty,datetime=2006-01-02"`
	// Delivered is nil until a delivery has been attempted.
	Delivered *bool `json:"delivered,omitempty" db:"delivered"`
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsActive reports whether the status counts against admission control.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo enforces pending -> running -> {completed, failed}.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Clone returns a deep copy so stores never hand out shared state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Delivered != nil {
		d := *j.Delivered
		cp.Delivered = &d
	}
	if j.Result != nil {
		r := j.Result.Clone()
		cp.Result = &r
	}
	return &cp
}

// DeliveryPayload is the JSON body posted to a caller-supplied endpoint.
type DeliveryPayload struct {
	JobID      string     `json:"job_id"`
	Success    bool       `json:"success"`
	Status     JobStatus  `json:"status"`
	Result     *JobResult `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewDeliveryPayload builds the payload for a job in a terminal state.
func NewDeliveryPayload(job *Job) DeliveryPayload {
	return DeliveryPayload{
		JobID:      job.ID,
		Success:    job.Status == JobStatusCompleted,
		Status:     job.Status,
		Result:     job.Result,
		Error:      job.Error,
		StartedAt:  job.StartedAt,
		FinishedAt: job.CompletedAt,
	}
}
