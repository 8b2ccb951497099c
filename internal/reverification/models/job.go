package models

import (
	"fmt"
	"time"

	id "tokenverif/pkg/domain"
)

// JobStatus is the state of one re-verification cycle.
type JobStatus string

const (
	JobStatusScheduled   JobStatus = "scheduled"
	JobStatusInProgress  JobStatus = "in_progress"
	JobStatusPassed      JobStatus = "passed"
	JobStatusFailed      JobStatus = "failed"
	JobStatusGracePeriod JobStatus = "grace_period"
)

// IsOpen reports whether the job still blocks scheduling another for its token.
func (s JobStatus) IsOpen() bool {
	return s == JobStatusScheduled || s == JobStatusInProgress
}

// Job tracks one scheduled or completed re-check of an approved token.
type Job struct {
	ID                  id.JobID
	TokenID             id.TokenID
	Status              JobStatus
	ScheduledAt         time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	ConsecutiveFailures int
	ResultSummary       string
	CreatedAt           time.Time
}

// NewJob returns a job scheduled to run at runAt.
func NewJob(tokenID id.TokenID, runAt, now time.Time) *Job {
	return &Job{
		ID:          id.NewJobID(),
		TokenID:     tokenID,
		Status:      JobStatusScheduled,
		ScheduledAt: runAt,
		CreatedAt:   now,
	}
}

// Start moves a scheduled job to in_progress.
func (j *Job) Start(now time.Time) error {
	if j.Status != JobStatusScheduled {
		return fmt.Errorf("job %s cannot start from %s", j.ID, j.Status)
	}
	startedAt := now
	j.Status = JobStatusInProgress
	j.StartedAt = &startedAt
	return nil
}

// Complete records the outcome of a started job.
func (j *Job) Complete(status JobStatus, failures int, summary string, now time.Time) error {
	if j.Status != JobStatusInProgress {
		return fmt.Errorf("job %s cannot complete from %s", j.ID, j.Status)
	}
	if status.IsOpen() {
		return fmt.Errorf("job %s cannot complete as %s", j.ID, status)
	}
	completedAt := now
	j.Status = status
	j.ConsecutiveFailures = failures
	j.ResultSummary = summary
	j.CompletedAt = &completedAt
	return nil
}

// Candidate is an approved token considered by the scheduling phase.
type Candidate struct {
	TokenID      id.TokenID
	RequestID    id.RequestID
	ApprovedAt   time.Time
	LastPassedAt *time.Time
	HasOpenJob   bool
}

// LastCheckedAt is the last passed re-check, or the approval if there was none.
func (c Candidate) LastCheckedAt() time.Time {
	if c.LastPassedAt != nil && c.LastPassedAt.After(c.ApprovedAt) {
		return *c.LastPassedAt
	}
	return c.ApprovedAt
}
