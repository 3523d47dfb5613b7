package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Redis key layout. Jobs live as JSON strings under jobKey; the pending,
// delayed, and processing queues are sorted sets of job IDs.
const (
	keyJobPrefix    = "syncd:job:"
	keyPending      = "syncd:queue:pending"
	keyDelayed      = "syncd:queue:delayed"
	keyProcessing   = "syncd:queue:processing"
	keyCountPrefix  = "syncd:queue:count:"
	jobRetention    = 7 * 24 * time.Hour
	priorityStride  = float64(1 << 42) // priority dominates, enqueue time breaks ties
)

// dequeueScript atomically promotes due delayed jobs, pops the best pending
// job, and moves it to the processing set with a visibility deadline.
var dequeueScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local deadline = tonumber(ARGV[2])

-- promote due delayed jobs into pending, keeping their priority score
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(due) do
	local prio = redis.call('HGET', 'syncd:job:prio', id) or '0'
	redis.call('ZADD', KEYS[1], tonumber(prio), id)
	redis.call('ZREM', KEYS[2], id)
end

local popped = redis.call('ZPOPMIN', KEYS[1], 1)
if #popped == 0 then
	return nil
end
local id = popped[1]
redis.call('ZADD', KEYS[3], deadline, id)
return id
`)

// RedisBackend stores queue state in Redis.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a backend over an existing Redis client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func jobKey(id string) string { return keyJobPrefix + id }

// pendingScore orders the pending set: lower priority number first, then
// enqueue time.
func pendingScore(job *types.Job, at time.Time) float64 {
	return float64(job.Priority)*priorityStride + float64(at.UnixMilli())
}

// Enqueue persists the job and queues it.
func (b *RedisBackend) Enqueue(ctx context.Context, job *types.Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.WrapInvalid(err, "RedisBackend", "Enqueue", "marshal job")
	}

	now := time.Now()
	score := pendingScore(job, now)

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, jobRetention)
	pipe.HSet(ctx, "syncd:job:prio", job.ID, score)
	if delay > 0 {
		pipe.ZAdd(ctx, keyDelayed, redis.Z{Score: float64(now.Add(delay).UnixMilli()), Member: job.ID})
	} else {
		pipe.ZAdd(ctx, keyPending, redis.Z{Score: score, Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.WrapTransient(err, "RedisBackend", "Enqueue", "queue job")
	}
	return nil
}

// Dequeue pops the highest-priority due job.
func (b *RedisBackend) Dequeue(ctx context.Context, visibility time.Duration) (*types.Job, error) {
	now := time.Now()
	res, err := dequeueScript.Run(ctx, b.client,
		[]string{keyPending, keyDelayed, keyProcessing},
		now.UnixMilli(), now.Add(visibility).UnixMilli(),
	).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "RedisBackend", "Dequeue", "pop pending job")
	}

	id, ok := res.(string)
	if !ok || id == "" {
		return nil, nil
	}
	return b.Get(ctx, id)
}

// Update persists changed job fields.
func (b *RedisBackend) Update(ctx context.Context, job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.WrapInvalid(err, "RedisBackend", "Update", "marshal job")
	}
	if err := b.client.Set(ctx, jobKey(job.ID), data, jobRetention).Err(); err != nil {
		return errors.WrapTransient(err, "RedisBackend", "Update", "write job")
	}
	return nil
}

// Release removes the processing marker.
func (b *RedisBackend) Release(ctx context.Context, jobID string) error {
	if err := b.client.ZRem(ctx, keyProcessing, jobID).Err(); err != nil {
		return errors.WrapTransient(err, "RedisBackend", "Release", "remove processing marker")
	}
	return nil
}

// Get returns the job by ID.
func (b *RedisBackend) Get(ctx context.Context, jobID string) (*types.Job, error) {
	data, err := b.client.Get(ctx, jobKey(jobID)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.ErrJobNotFound
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "RedisBackend", "Get", "read job")
	}

	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.WrapInvalid(err, "RedisBackend", "Get", "unmarshal job")
	}
	return &job, nil
}

// ReapStalled removes and returns processing jobs past their deadline.
func (b *RedisBackend) ReapStalled(ctx context.Context, now time.Time) ([]*types.Job, error) {
	ids, err := b.client.ZRangeByScore(ctx, keyProcessing, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, errors.WrapTransient(err, "RedisBackend", "ReapStalled", "scan processing set")
	}

	var stalled []*types.Job
	for _, id := range ids {
		// Only the remover of the marker owns the retry decision; a zero
		// removal count means another instance got there first.
		removed, err := b.client.ZRem(ctx, keyProcessing, id).Result()
		if err != nil || removed == 0 {
			continue
		}
		job, err := b.Get(ctx, id)
		if err != nil {
			continue
		}
		stalled = append(stalled, job)
	}
	return stalled, nil
}

// Stats reports queue depths.
func (b *RedisBackend) Stats(ctx context.Context) (Stats, error) {
	pipe := b.client.Pipeline()
	pending := pipe.ZCard(ctx, keyPending)
	delayed := pipe.ZCard(ctx, keyDelayed)
	processing := pipe.ZCard(ctx, keyProcessing)
	completed := pipe.Get(ctx, keyCountPrefix+"completed")
	failed := pipe.Get(ctx, keyCountPrefix+"failed")
	if _, err := pipe.Exec(ctx); err != nil && !stderrors.Is(err, redis.Nil) {
		return Stats{}, errors.WrapTransient(err, "RedisBackend", "Stats", "gather queue depths")
	}

	s := Stats{
		Pending:    pending.Val(),
		Delayed:    delayed.Val(),
		Processing: processing.Val(),
	}
	s.Completed, _ = completed.Int64()
	s.Failed, _ = failed.Int64()
	return s, nil
}

// IncrementCounter bumps a terminal-status counter.
func (b *RedisBackend) IncrementCounter(ctx context.Context, status types.JobStatus) {
	b.client.Incr(ctx, keyCountPrefix+string(status))
}

// Ping checks connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return errors.WrapTransient(err, "RedisBackend", "Ping", "ping redis")
	}
	return nil
}
