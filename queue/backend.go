// Package queue provides the durable, priority-ordered, retryable job store
// that drives the sync pipeline. The queue itself never interprets job
// payloads; it is a generic priority/retry substrate over opaque
// {action, tenantID, dataSourceID, metadata} records.
//
// Jobs are dispatched onto the message bus as sync-stage envelopes; the
// fetch stage that consumes them reports completion or failure back through
// CompleteJob/FailJob.
package queue

import (
	"context"
	"time"

	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Backend is the narrow contract over the external key-value/queue store
// backing the queue. Production uses Redis; tests use the memory backend.
type Backend interface {
	// Enqueue persists the job and places it on the pending queue, or on
	// the delayed queue when delay > 0.
	Enqueue(ctx context.Context, job *types.Job, delay time.Duration) error

	// Dequeue promotes due delayed jobs, pops the highest-priority pending
	// job, marks it processing with the given visibility deadline, and
	// returns it. Returns nil when the queue is empty.
	Dequeue(ctx context.Context, visibility time.Duration) (*types.Job, error)

	// Update persists changed job fields.
	Update(ctx context.Context, job *types.Job) error

	// Release removes the job's processing marker after a terminal
	// transition or a retry re-enqueue.
	Release(ctx context.Context, jobID string) error

	// Get returns the job by ID or errors.ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*types.Job, error)

	// ReapStalled returns processing jobs whose visibility deadline passed,
	// removing their processing markers. The queue decides whether each
	// becomes a retry or a terminal failure.
	ReapStalled(ctx context.Context, now time.Time) ([]*types.Job, error)

	// Stats reports queue depths by state.
	Stats(ctx context.Context) (Stats, error)

	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error
}

// Stats reports queue depths by state.
type Stats struct {
	Pending    int64 `json:"pending"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// StatusInfo is the answer to a job status query.
type StatusInfo struct {
	Status  types.JobStatus `json:"status"`
	Attempt int             `json:"attempt"`
	Error   string          `json:"error,omitempty"`
}
