// Command codeforge-worker drains the indexing and generation queues:
// one dequeue loop per queue, as queue.Client's concurrency-1-per-queue
// contract requires.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeforge/internal/app"
	"codeforge/internal/config"
	"codeforge/internal/domain/job"
	"codeforge/internal/external/forge"
	"codeforge/internal/pipeline/generation"
	indexingpipeline "codeforge/internal/pipeline/indexing"
	"codeforge/internal/shared/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("CODEFORGE_CONFIG"), "path to a YAML config overlay")
	flag.Parse()

	logger := logging.NewComponentLogger("Worker")
	logger.Info("Starting codeforge worker...")

	if err := run(*configPath, logger); err != nil {
		logger.Error("worker exited: %v", err)
		os.Exit(1)
	}
}

func run(configPath string, logger logging.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	container, err := app.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn("container close: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	go func() {
		<-quit
		logger.Info("Shutting down worker...")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); promoteDelayedLoop(ctx, container, logger) }()
	go func() { defer wg.Done(); indexingLoop(ctx, container, logger.With("loop", "indexing")) }()
	go func() { defer wg.Done(); generationLoop(ctx, cfg, container, logger.With("loop", "generation")) }()
	wg.Wait()

	logger.Info("Worker stopped")
	return nil
}

// promoteDelayedLoop periodically moves delayed retries back onto each
// queue's waiting list once their backoff has elapsed.
func promoteDelayedLoop(ctx context.Context, container *app.Container, logger logging.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := container.Queue.PromoteDelayed(ctx, job.QueueIndexing); err != nil {
				logger.Warn("promote delayed indexing jobs: %v", err)
			}
			if err := container.Queue.PromoteDelayed(ctx, job.QueueGeneration); err != nil {
				logger.Warn("promote delayed generation jobs: %v", err)
			}
		}
	}
}

func indexingLoop(ctx context.Context, container *app.Container, logger logging.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		j, err := container.Queue.Dequeue(ctx, job.QueueIndexing, "codeforge-worker", 5*time.Second)
		if err != nil {
			logger.Warn("dequeue indexing job: %v", err)
			continue
		}
		if j == nil {
			continue
		}
		runIndexingJob(ctx, container, logger, j)
	}
}

func runIndexingJob(ctx context.Context, container *app.Container, logger logging.Logger, j *job.Job) {
	logger = logger.With("jobId", j.ID)
	var runErr error
	switch j.Name {
	case job.NameIndexFull:
		var payload indexingpipeline.FullPayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			runErr = fmt.Errorf("decode full-index payload: %w", err)
			break
		}
		payload.JobID = j.ID
		runErr = container.Indexing.RunFull(ctx, payload)
	case job.NameIndexIncremental:
		var payload indexingpipeline.IncrementalPayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			runErr = fmt.Errorf("decode incremental-index payload: %w", err)
			break
		}
		payload.JobID = j.ID
		runErr = container.Indexing.RunIncremental(ctx, payload)
	default:
		runErr = fmt.Errorf("unrecognized indexing job name %q", j.Name)
	}

	if runErr != nil {
		logger.Error("indexing job failed: %v", runErr)
		if err := container.Queue.Fail(ctx, job.QueueIndexing, j.ID, runErr.Error()); err != nil {
			logger.Error("record indexing job failure: %v", err)
		}
		return
	}
	if err := container.Queue.Complete(ctx, job.QueueIndexing, j.ID, map[string]string{"status": "ok"}); err != nil {
		logger.Error("record indexing job completion: %v", err)
	}
}

func generationLoop(ctx context.Context, cfg config.Config, container *app.Container, logger logging.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		j, err := container.Queue.Dequeue(ctx, job.QueueGeneration, "codeforge-worker", 5*time.Second)
		if err != nil {
			logger.Warn("dequeue generation job: %v", err)
			continue
		}
		if j == nil {
			continue
		}
		runGenerationJob(ctx, cfg, container, logger, j)
	}
}

func runGenerationJob(ctx context.Context, cfg config.Config, container *app.Container, logger logging.Logger, j *job.Job) {
	logger = logger.With("jobId", j.ID)

	var payload generation.Payload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		logger.Error("decode generation payload: %v", err)
		_ = container.Queue.Fail(ctx, job.QueueGeneration, j.ID, fmt.Sprintf("decode payload: %v", err))
		return
	}
	payload.JobID = j.ID

	// Each job carries its own installation token, scoped to the
	// requesting user's repo access, so the forge client is built
	// per-job rather than shared across the container.
	forgeClient := forge.NewGitHubClient(ctx, payload.InstallationToken, nil)

	pipeline := generation.New(generation.Config{
		Sandbox:           container.Sandboxes,
		Indexes:           container.Indexing,
		Embedder:          container.Embedder,
		CodeGraph:         container.CodeGraph,
		LLM:               container.LLM,
		Validator:         container.Validator,
		Forge:             forgeClient,
		DiffGen:           container.DiffGen,
		Jobs:              container.Queue,
		Progress:          container.Queue,
		RetrieveTopK:      cfg.Generation.RetrieveTopK,
		MaxIterations:     cfg.Generation.MaxIterations,
		IndexPollInterval: cfg.Generation.IndexPollInterval,
		IndexWaitTimeout:  cfg.Generation.IndexWaitTimeout,
		CommitAuthorName:  cfg.Generation.CommitAuthorName,
		CommitAuthorEmail: cfg.Generation.CommitAuthorEmail,
		Logger:            logger,
	})

	result, err := pipeline.Run(ctx, payload)
	if err != nil {
		logger.Error("generation job failed: %v", err)
		_ = container.Queue.Fail(ctx, job.QueueGeneration, j.ID, err.Error())
		return
	}
	if err := container.Queue.Complete(ctx, job.QueueGeneration, j.ID, result); err != nil {
		logger.Error("record generation job completion: %v", err)
	}
}
