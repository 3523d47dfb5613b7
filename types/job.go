package types

import (
	"fmt"
	"time"
)

// JobStatus tracks a job through its lifecycle. Valid transitions are
// pending -> processing -> completed, or pending -> processing -> pending
// (retry) until attempts are exhausted, at which point the job becomes
// failed and terminal.
type JobStatus string

// Job statuses.
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo reports whether a status change is legal. Retries move a
// processing job back to pending.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing
	case JobProcessing:
		return next == JobCompleted || next == JobFailed || next == JobPending
	default:
		return false
	}
}

// Job is a unit of scheduled work consumed by a fetch stage. The queue
// treats the payload fields (Action, Metadata) as opaque.
type Job struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	IntegrationType string            `json:"integration_type"`
	EntityType      EntityType        `json:"entity_type"`
	DataSourceID    string            `json:"data_source_id,omitempty"`
	Action          string            `json:"action"`
	Priority        int               `json:"priority"`
	Status          JobStatus         `json:"status"`
	Attempt         int               `json:"attempt"`
	MaxAttempts     int               `json:"max_attempts"`
	SyncID          string            `json:"sync_id,omitempty"`
	Error           string            `json:"error,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       time.Time         `json:"started_at,omitempty"`
	CompletedAt     time.Time         `json:"completed_at,omitempty"`
}

// Validate checks the fields the queue requires before accepting a job.
func (j *Job) Validate() error {
	if j.TenantID == "" {
		return fmt.Errorf("job missing tenant_id")
	}
	if j.IntegrationType == "" {
		return fmt.Errorf("job missing integration_type")
	}
	if j.Action == "" {
		return fmt.Errorf("job missing action")
	}
	return nil
}

// Topic returns the bus topic the job is dispatched on:
// {integrationType}.sync.{entityType}.
func (j *Job) Topic() string {
	return fmt.Sprintf("%s.%s.%s", j.IntegrationType, StageSync, j.EntityType)
}
