package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"codeforge/internal/domain/job"
)

// fakeQueue is an in-memory QueueClient: enough to exercise the HTTP
// edge's enqueue and status-lookup paths without a real Redis.
type fakeQueue struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[string]*job.Job)}
}

func (f *fakeQueue) Enqueue(ctx context.Context, queueName, name string, payload any, opts job.Options) (*job.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.jobs[queueKey(queueName, jobID)]; ok {
		return existing, nil
	}
	j := &job.Job{
		ID:          jobID,
		Queue:       queueName,
		Name:        name,
		Payload:     raw,
		State:       job.StateWaiting,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		OwnerUserID: opts.OwnerID,
	}
	f.jobs[queueKey(queueName, jobID)] = j
	return j, nil
}

func (f *fakeQueue) GetJob(ctx context.Context, queueName, jobID string) (*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[queueKey(queueName, jobID)]
	if !ok {
		return nil, fmt.Errorf("job %s not found in %s", jobID, queueName)
	}
	return j, nil
}

// setState lets a test simulate a worker advancing a job's state
// without wiring an actual pipeline.
func (f *fakeQueue) setState(queueName, jobID string, state job.State, progress int, result any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[queueKey(queueName, jobID)]
	if !ok {
		return
	}
	j.State = state
	j.Progress = progress
	if result != nil {
		raw, _ := json.Marshal(result)
		j.Result = raw
	}
}

func queueKey(queueName, jobID string) string { return queueName + ":" + jobID }
