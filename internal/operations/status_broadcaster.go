package operations

import (
	"log/slog"
	"sync"
	"time"

	"posextract/pkg/contracts/domain"
)

// WebSocketHub interface for sending WebSocket messages
type WebSocketHub interface {
	BroadcastUpdate(eventType, step, status string, metadata interface{})
}

// ProgressReporter receives stage transitions from a running pipeline.
type ProgressReporter interface {
	StartStage(jobID, stage, message string)
	CompleteStage(jobID, stage, message string)
	FailStage(jobID, stage string, err error)
}

// JobSnapshot is the complete state of a job pushed to clients.
type JobSnapshot struct {
	JobID               string          `json:"job_id"`
	Status              string          `json:"status"`
	Progress            int             `json:"progress"`
	CurrentStage        string          `json:"current_stage,omitempty"`
	Stages              []StageSnapshot `json:"stages"`
	StartedAt           time.Time       `json:"started_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	Error               string          `json:"error,omitempty"`
	Message             string          `json:"message,omitempty"`
	TotalItems          int             `json:"total_items,omitempty"`
	SuccessfulLocations int             `json:"successful_locations,omitempty"`
	FailedLocations     int             `json:"failed_locations,omitempty"`
	Delivered           *bool           `json:"delivered,omitempty"`
}

// StageSnapshot is the state of one pipeline stage.
type StageSnapshot struct {
	ID      string `json:"id"`
	Status  string `json:"status"` // pending|running|completed|failed|skipped
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type updateRequest struct {
	jobID      string
	updateFunc func(*JobSnapshot)
	done       chan struct{}
}

// StatusBroadcaster is the single writer of job snapshots. Updates are
// applied sequentially and each resulting snapshot is pushed to the hub.
type StatusBroadcaster struct {
	mu       sync.RWMutex
	jobs     map[string]*JobSnapshot
	hub      WebSocketHub
	logger   *slog.Logger
	updates  chan updateRequest
	stop     chan struct{}
	stopOnce sync.Once
}

// NewStatusBroadcaster creates a new status broadcaster
func NewStatusBroadcaster(hub WebSocketHub, logger *slog.Logger) *StatusBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}

	sb := &StatusBroadcaster{
		jobs:    make(map[string]*JobSnapshot),
		hub:     hub,
		logger:  logger.With(slog.String("component", "status_broadcaster")),
		updates: make(chan updateRequest, 100),
		stop:    make(chan struct{}),
	}

	go sb.processUpdates()
	return sb
}

// Stop ends the update loop. Later updates are dropped.
func (sb *StatusBroadcaster) Stop() {
	sb.stopOnce.Do(func() { close(sb.stop) })
}

func (sb *StatusBroadcaster) processUpdates() {
	for {
		select {
		case <-sb.stop:
			return
		case req := <-sb.updates:
			sb.handleUpdate(req)
		}
	}
}

func (sb *StatusBroadcaster) handleUpdate(req updateRequest) {
	defer close(req.done)

	sb.mu.Lock()
	snapshot, exists := sb.jobs[req.jobID]
	if !exists {
		now := time.Now()
		snapshot = &JobSnapshot{
			JobID:     req.jobID,
			Status:    string(domain.JobStatusPending),
			StartedAt: now,
			Stages:    newStages(),
		}
		sb.jobs[req.jobID] = snapshot
	}

	req.updateFunc(snapshot)
	snapshot.UpdatedAt = time.Now()
	snapshot.Progress = stageProgress(snapshot.Stages)
	if snapshot.Status == string(domain.JobStatusCompleted) || snapshot.Status == string(domain.JobStatusFailed) {
		snapshot.Progress = 100
		if snapshot.CompletedAt == nil {
			now := time.Now()
			snapshot.CompletedAt = &now
		}
	}
	out := *snapshot
	out.Stages = append([]StageSnapshot(nil), snapshot.Stages...)
	sb.mu.Unlock()

	sb.broadcast(&out)
}

func (sb *StatusBroadcaster) broadcast(snapshot *JobSnapshot) {
	if sb.hub == nil {
		return
	}
	sb.logger.Debug("Broadcasting job snapshot",
		slog.String("job_id", snapshot.JobID),
		slog.String("status", snapshot.Status),
		slog.Int("progress", snapshot.Progress),
		slog.String("current_stage", snapshot.CurrentStage))
	sb.hub.BroadcastUpdate("job:snapshot", snapshot.JobID, "update", snapshot)
}

// update applies fn to the job's snapshot and waits for the broadcast.
func (sb *StatusBroadcaster) update(jobID string, fn func(*JobSnapshot)) {
	if sb == nil {
		return
	}
	req := updateRequest{jobID: jobID, updateFunc: fn, done: make(chan struct{})}
	select {
	case sb.updates <- req:
	case <-sb.stop:
		return
	}
	select {
	case <-req.done:
	case <-sb.stop:
	}
}

// Snapshot returns a copy of the job's latest snapshot.
func (sb *StatusBroadcaster) Snapshot(jobID string) (JobSnapshot, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	s, ok := sb.jobs[jobID]
	if !ok {
		return JobSnapshot{}, false
	}
	out := *s
	out.Stages = append([]StageSnapshot(nil), s.Stages...)
	return out, true
}

// ActiveSnapshot returns the snapshot of the pending or running job, if any.
func (sb *StatusBroadcaster) ActiveSnapshot() (JobSnapshot, bool) {
	if sb == nil {
		return JobSnapshot{}, false
	}
	sb.mu.RLock()
	var id string
	for jobID, s := range sb.jobs {
		if domain.JobStatus(s.Status).IsActive() {
			id = jobID
			break
		}
	}
	sb.mu.RUnlock()
	if id == "" {
		return JobSnapshot{}, false
	}
	return sb.Snapshot(id)
}

// JobChanged mirrors the job's status, error and result summary.
func (sb *StatusBroadcaster) JobChanged(job *domain.Job) {
	if sb == nil || job == nil {
		return
	}
	j := job.Clone()
	sb.update(j.ID, func(s *JobSnapshot) {
		s.Status = string(j.Status)
		s.Error = j.Error
		s.Delivered = j.Delivered
		if j.StartedAt != nil {
			s.StartedAt = *j.StartedAt
		}
		if j.CompletedAt != nil {
			s.CompletedAt = j.CompletedAt
		}
		if j.Result != nil {
			s.TotalItems = j.Result.TotalItems
			s.SuccessfulLocations = j.Result.SuccessfulLocations
			s.FailedLocations = j.Result.FailedLocations
		}
		switch j.Status {
		case domain.JobStatusRunning:
			s.Message = "Job started"
		case domain.JobStatusCompleted:
			s.Message = "Job completed"
			s.CurrentStage = ""
		case domain.JobStatusFailed:
			s.Message = "Job failed"
			s.CurrentStage = ""
		}
	})
}

// StartStage marks stage running.
func (sb *StatusBroadcaster) StartStage(jobID, stage, message string) {
	sb.update(jobID, func(s *JobSnapshot) {
		setStage(s, stage, "running", message, "")
		s.CurrentStage = stage
		s.Message = message
	})
}

// CompleteStage marks stage completed.
func (sb *StatusBroadcaster) CompleteStage(jobID, stage, message string) {
	sb.update(jobID, func(s *JobSnapshot) {
		setStage(s, stage, "completed", message, "")
		s.Message = message
	})
}

// SkipStage marks stage skipped.
func (sb *StatusBroadcaster) SkipStage(jobID, stage, message string) {
	sb.update(jobID, func(s *JobSnapshot) {
		setStage(s, stage, "skipped", message, "")
	})
}

// FailStage marks stage failed.
func (sb *StatusBroadcaster) FailStage(jobID, stage string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	sb.update(jobID, func(s *JobSnapshot) {
		setStage(s, stage, "failed", "", msg)
	})
}

func newStages() []StageSnapshot {
	stages := make([]StageSnapshot, len(PipelineStages))
	for i, id := range PipelineStages {
		stages[i] = StageSnapshot{ID: id, Status: "pending"}
	}
	return stages
}

func setStage(s *JobSnapshot, id, status, message, errMsg string) {
	for i := range s.Stages {
		if s.Stages[i].ID == id {
			s.Stages[i].Status = status
			s.Stages[i].Message = message
			s.Stages[i].Error = errMsg
			return
		}
	}
	s.Stages = append(s.Stages, StageSnapshot{ID: id, Status: status, Message: message, Error: errMsg})
}

func stageProgress(stages []StageSnapshot) int {
	if len(stages) == 0 {
		return 0
	}
	done := 0
	for _, st := range stages {
		switch st.Status {
		case "completed", "skipped", "failed":
			done++
		}
	}
	return done * 100 / len(stages)
}
