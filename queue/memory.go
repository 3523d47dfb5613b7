package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// MemoryBackend is an in-process Backend for tests and single-binary runs.
type MemoryBackend struct {
	mu         sync.Mutex
	jobs       map[string]*types.Job
	pending    []queuedJob // kept sorted by score
	delayed    map[string]time.Time
	processing map[string]time.Time // jobID -> visibility deadline
	completed  int64
	failed     int64
}

type queuedJob struct {
	id    string
	score float64
}

// NewMemoryBackend creates an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		jobs:       make(map[string]*types.Job),
		delayed:    make(map[string]time.Time),
		processing: make(map[string]time.Time),
	}
}

func (b *MemoryBackend) clone(job *types.Job) *types.Job {
	copied := *job
	return &copied
}

// Enqueue persists and queues the job.
func (b *MemoryBackend) Enqueue(_ context.Context, job *types.Job, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.jobs[job.ID] = b.clone(job)
	if delay > 0 {
		b.delayed[job.ID] = time.Now().Add(delay)
		return nil
	}
	b.push(job)
	return nil
}

func (b *MemoryBackend) push(job *types.Job) {
	score := pendingScore(job, time.Now())
	b.pending = append(b.pending, queuedJob{id: job.ID, score: score})
	sort.Slice(b.pending, func(i, j int) bool { return b.pending[i].score < b.pending[j].score })
}

// Dequeue pops the best due job.
func (b *MemoryBackend) Dequeue(_ context.Context, visibility time.Duration) (*types.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for id, due := range b.delayed {
		if !due.After(now) {
			if job, ok := b.jobs[id]; ok {
				b.push(job)
			}
			delete(b.delayed, id)
		}
	}

	if len(b.pending) == 0 {
		return nil, nil
	}

	next := b.pending[0]
	b.pending = b.pending[1:]
	b.processing[next.id] = now.Add(visibility)

	job, ok := b.jobs[next.id]
	if !ok {
		return nil, errors.ErrJobNotFound
	}
	return b.clone(job), nil
}

// Update persists changed job fields.
func (b *MemoryBackend) Update(_ context.Context, job *types.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.jobs[job.ID]; !ok {
		return errors.ErrJobNotFound
	}
	b.jobs[job.ID] = b.clone(job)
	switch job.Status {
	case types.JobCompleted:
		b.completed++
	case types.JobFailed:
		b.failed++
	}
	return nil
}

// Release removes the processing marker.
func (b *MemoryBackend) Release(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.processing, jobID)
	return nil
}

// Get returns the job by ID.
func (b *MemoryBackend) Get(_ context.Context, jobID string) (*types.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return nil, errors.ErrJobNotFound
	}
	return b.clone(job), nil
}

// ReapStalled returns processing jobs past deadline.
func (b *MemoryBackend) ReapStalled(_ context.Context, now time.Time) ([]*types.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var stalled []*types.Job
	for id, deadline := range b.processing {
		if deadline.Before(now) {
			delete(b.processing, id)
			if job, ok := b.jobs[id]; ok {
				stalled = append(stalled, b.clone(job))
			}
		}
	}
	return stalled, nil
}

// Stats reports queue depths.
func (b *MemoryBackend) Stats(_ context.Context) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Pending:    int64(len(b.pending)),
		Delayed:    int64(len(b.delayed)),
		Processing: int64(len(b.processing)),
		Completed:  b.completed,
		Failed:     b.failed,
	}, nil
}

// Ping always succeeds.
func (b *MemoryBackend) Ping(_ context.Context) error {
	return nil
}
