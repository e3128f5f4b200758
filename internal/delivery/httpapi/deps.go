// Package httpapi is codeforge's HTTP edge: it decodes inbound webhook
// and job-submission requests, enqueues work onto the durable queue,
// and answers job-status lookups. It owns no pipeline logic itself —
// every request becomes a queue job a worker later picks up.
package httpapi

import (
	"context"

	"codeforge/internal/domain/indexstate"
	"codeforge/internal/domain/installation"
	"codeforge/internal/domain/job"
	"codeforge/internal/observability"
	"codeforge/internal/shared/logging"
)

// QueueClient is the subset of *queue.Client the HTTP edge needs:
// enqueue new work and look up a job's current status.
type QueueClient interface {
	Enqueue(ctx context.Context, queueName, name string, payload any, opts job.Options) (*job.Job, error)
	GetJob(ctx context.Context, queueName, jobID string) (*job.Job, error)
}

// RouterDeps wires the external collaborators every handler needs.
type RouterDeps struct {
	Queue                QueueClient
	Installations        installation.Store
	IndexMeta            indexstate.Store
	Metrics              *observability.Metrics
	WebhookSecret        string
	IncrementalThreshold int // values <= 0 mean 100, applied by the webhook handler
	Logger               logging.Logger
}

// RouterConfig configures cross-cutting router behaviour.
type RouterConfig struct {
	// Environment selects CORS strictness: "production" enforces
	// AllowedOrigins; anything else allows all origins.
	Environment    string
	AllowedOrigins []string
}
