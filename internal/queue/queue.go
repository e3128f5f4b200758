// Package queue implements a durable named job queue: Redis-backed,
// concurrency-1 per queue, caller-supplied jobId idempotency,
// exponential backoff retries, and bounded retention of completed/failed
// jobs.
//
// Jobs move through waiting, delayed, and active states, backed by a
// Redis hash of job records, a waiting list, and a delayed sorted set.
// An active job holds no lease: nothing records which worker took it,
// and a job whose worker stops stays active.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"codeforge/internal/domain/job"
	"codeforge/internal/shared/logging"
)

// Client is a Redis-backed durable queue.
type Client struct {
	rdb              *redis.Client
	retainedPerState int
	logger           logging.Logger
}

// Config configures the Redis connection and retention policy.
type Config struct {
	Host             string
	Port             int
	Password         string
	DB               int
	RetainedPerState int // bounded retention per queue, default 100
	Logger           logging.Logger
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	retained := cfg.RetainedPerState
	if retained <= 0 {
		retained = 100
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{rdb: rdb, retainedPerState: retained, logger: logging.OrNop(cfg.Logger)}
}

func waitingKey(queue string) string   { return "codeforge:queue:" + queue + ":waiting" }
func delayedKey(queue string) string   { return "codeforge:queue:" + queue + ":delayed" }
func jobsKey(queue string) string      { return "codeforge:queue:" + queue + ":jobs" }
func completedKey(queue string) string { return "codeforge:queue:" + queue + ":completed" }
func failedKey(queue string) string    { return "codeforge:queue:" + queue + ":failed" }

// Enqueue adds a new job to queueName, or returns the already-stored job
// unchanged if opts.JobID was already enqueued.
func (c *Client) Enqueue(ctx context.Context, queueName, name string, payload any, opts job.Options) (*job.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal payload: %w", err)
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	now := time.Now()
	runAt := now.Add(opts.Delay)
	j := &job.Job{
		ID:          jobID,
		Queue:       queueName,
		Name:        name,
		Payload:     raw,
		MaxAttempts: attempts,
		Backoff:     backoff,
		State:       job.StateWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
		RunAt:       runAt,
		OwnerUserID: opts.OwnerID,
	}

	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal job: %w", err)
	}

	created, err := c.rdb.HSetNX(ctx, jobsKey(queueName), jobID, data).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: enqueue %s: %w", jobID, err)
	}
	if !created {
		existing, err := c.GetJob(ctx, queueName, jobID)
		if err != nil {
			return nil, fmt.Errorf("queue: load existing idempotent job %s: %w", jobID, err)
		}
		return existing, nil
	}

	if opts.Delay > 0 {
		if err := c.rdb.ZAdd(ctx, delayedKey(queueName), redis.Z{Score: float64(runAt.Unix()), Member: jobID}).Err(); err != nil {
			return nil, fmt.Errorf("queue: schedule delayed job %s: %w", jobID, err)
		}
	} else {
		if err := c.rdb.LPush(ctx, waitingKey(queueName), jobID).Err(); err != nil {
			return nil, fmt.Errorf("queue: push waiting job %s: %w", jobID, err)
		}
	}
	return j, nil
}

// GetJob loads queueName's job record by id.
func (c *Client) GetJob(ctx context.Context, queueName, jobID string) (*job.Job, error) {
	data, err := c.rdb.HGet(ctx, jobsKey(queueName), jobID).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("queue: job %s not found in %s", jobID, queueName)
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get job %s: %w", jobID, err)
	}
	var j job.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("queue: unmarshal job %s: %w", jobID, err)
	}
	return &j, nil
}

func (c *Client) saveJob(ctx context.Context, j *job.Job) error {
	j.UpdatedAt = time.Now()
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("queue: marshal job %s: %w", j.ID, err)
	}
	return c.rdb.HSet(ctx, jobsKey(j.Queue), j.ID, data).Err()
}

// PromoteDelayed moves delayed jobs whose runAt has arrived onto the
// waiting list; workers call this once per poll cycle.
func (c *Client) PromoteDelayed(ctx context.Context, queueName string) error {
	now := float64(time.Now().Unix())
	ids, err := c.rdb.ZRangeByScore(ctx, delayedKey(queueName), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return fmt.Errorf("queue: scan delayed %s: %w", queueName, err)
	}
	for _, id := range ids {
		if err := c.rdb.ZRem(ctx, delayedKey(queueName), id).Err(); err != nil {
			return fmt.Errorf("queue: promote %s: %w", id, err)
		}
		if err := c.rdb.LPush(ctx, waitingKey(queueName), id).Err(); err != nil {
			return fmt.Errorf("queue: push promoted %s: %w", id, err)
		}
	}
	return nil
}

// Dequeue blocks up to timeout for the next waiting job in queueName,
// marking it active and counting the attempt; ownerID is not stored on
// the job. Returns (nil, nil) on timeout.
// Concurrency is the caller's responsibility: callers must run exactly
// one Dequeue loop per queue name to get concurrency=1 semantics.
func (c *Client) Dequeue(ctx context.Context, queueName, ownerID string, timeout time.Duration) (*job.Job, error) {
	result, err := c.rdb.BRPop(ctx, timeout, waitingKey(queueName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue %s: %w", queueName, err)
	}
	jobID := result[1]

	j, err := c.GetJob(ctx, queueName, jobID)
	if err != nil {
		return nil, err
	}
	j.State = job.StateActive
	j.Attempts++
	if err := c.saveJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// UpdateProgress sets a job's progress percentage (0-100).
func (c *Client) UpdateProgress(ctx context.Context, queueName, jobID string, progress int) error {
	j, err := c.GetJob(ctx, queueName, jobID)
	if err != nil {
		return err
	}
	j.Progress = progress
	return c.saveJob(ctx, j)
}

// Complete marks a job completed, stores its result, and retains it
// in the bounded completed list, evicting older entries past the
// configured retention count.
func (c *Client) Complete(ctx context.Context, queueName, jobID string, result any) error {
	j, err := c.GetJob(ctx, queueName, jobID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("queue: marshal result for %s: %w", jobID, err)
	}
	j.State = job.StateCompleted
	j.Progress = 100
	j.Result = raw
	if err := c.saveJob(ctx, j); err != nil {
		return err
	}
	return c.retain(ctx, completedKey(queueName), jobID)
}

// Fail records a failed attempt. If attempts remain, it schedules a
// retry at an exponential backoff delay; otherwise it marks the job
// terminally failed and retains it in the bounded failed list.
func (c *Client) Fail(ctx context.Context, queueName, jobID, reason string) error {
	j, err := c.GetJob(ctx, queueName, jobID)
	if err != nil {
		return err
	}
	j.FailedReason = reason

	if j.Attempts < j.MaxAttempts {
		delay := job.NextBackoff(j.Backoff, j.Attempts)
		j.State = job.StateWaiting
		j.RunAt = time.Now().Add(delay)
		if err := c.saveJob(ctx, j); err != nil {
			return err
		}
		return c.rdb.ZAdd(ctx, delayedKey(queueName), redis.Z{Score: float64(j.RunAt.Unix()), Member: jobID}).Err()
	}

	j.State = job.StateFailed
	if err := c.saveJob(ctx, j); err != nil {
		return err
	}
	return c.retain(ctx, failedKey(queueName), jobID)
}

func (c *Client) retain(ctx context.Context, listKey, jobID string) error {
	if err := c.rdb.LPush(ctx, listKey, jobID).Err(); err != nil {
		return fmt.Errorf("queue: retain %s: %w", jobID, err)
	}
	return c.rdb.LTrim(ctx, listKey, 0, int64(c.retainedPerState-1)).Err()
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
