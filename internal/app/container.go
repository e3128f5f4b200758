// Package app wires codeforge's collaborators into a single Container,
// shared by the HTTP server and the queue worker so both processes
// build their dependency graph the same way.
package app

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"codeforge/internal/codegraph"
	"codeforge/internal/config"
	"codeforge/internal/diff"
	"codeforge/internal/domain/indexstate"
	"codeforge/internal/domain/installation"
	"codeforge/internal/external/embedclient"
	"codeforge/internal/external/installdb"
	"codeforge/internal/external/llm"
	"codeforge/internal/indexing/chunk"
	"codeforge/internal/indexing/embed"
	"codeforge/internal/indexing/vector"
	indexingpipeline "codeforge/internal/pipeline/indexing"
	"codeforge/internal/queue"
	"codeforge/internal/sandbox"
	cferrors "codeforge/internal/shared/errors"
	"codeforge/internal/shared/logging"
	"codeforge/internal/validate"
)

// Container holds every long-lived collaborator codeforge's processes
// share. The HTTP server uses Queue/Installations/IndexMeta; the worker
// additionally uses the indexing and generation building blocks.
type Container struct {
	Config Config

	Queue         *queue.Client
	Installations installation.Store
	IndexMeta     indexstate.Store

	Sandboxes *sandbox.Manager
	Chunker   *chunk.Chunker
	Embedder  *embed.Embedder
	Vectors   *vector.Store
	CodeGraph *codegraph.Builder
	Validator *validate.Validator
	DiffGen   *diff.Generator
	LLM       llm.Client

	Indexing *indexingpipeline.Pipeline

	installStore *installdb.Store
}

// Config is an alias of the full config.Config that drives the
// container's wiring.
type Config = config.Config

// Build constructs every collaborator from cfg. Callers own Close().
func Build(cfg config.Config, logger logging.Logger) (*Container, error) {
	logger = logging.OrNop(logger)

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Queue.RedisHost, cfg.Queue.RedisPort),
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	queueClient := queue.New(queue.Config{
		Host:             cfg.Queue.RedisHost,
		Port:             cfg.Queue.RedisPort,
		Password:         cfg.Queue.RedisPassword,
		DB:               cfg.Queue.RedisDB,
		RetainedPerState: cfg.Queue.RetainedPerState,
		Logger:           logger.With("component", "queue"),
	})

	installStore, err := installdb.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open installation store: %w", err)
	}

	metaStore := indexingpipeline.NewRedisMetaStore(rdb)

	sandboxes := sandbox.NewManager(sandbox.Config{
		Client:            sandbox.NewCLIClient(),
		BaseDir:           cfg.Sandbox.BaseDir,
		InactivityTimeout: cfg.Sandbox.InactivityTimeout,
		Logger:            logger.With("component", "sandbox"),
	})

	chunker := chunk.New(chunk.Config{
		LineWindow: cfg.Indexing.ChunkLineWindow,
		Logger:     logger.With("component", "chunker"),
	})

	embedClient := embedclient.NewHTTPClient(embedclient.HTTPConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbedModel,
	})
	embedder := embed.New(embedClient, embed.Config{
		BatchSize:  cfg.Indexing.EmbedBatchSize,
		BatchSleep: cfg.Indexing.EmbedBatchSleep,
		Logger:     logger.With("component", "embedder"),
	})

	vectors, err := vector.Open(vector.Config{
		PersistDir: cfg.Indexing.VectorPersistDir,
		Logger:     logger.With("component", "vectors"),
	})
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	codeGraph := codegraph.NewBuilder(logger.With("component", "codegraph"))
	validator := validate.New(sandboxes, cfg.Sandbox.TestTimeout, logger.With("component", "validator"))
	diffGen := diff.NewGenerator(3, false)

	breaker := cferrors.NewCircuitBreaker("llm", cferrors.CircuitBreakerConfig{})
	llmClient := llm.NewRetryClient(
		llm.NewHTTPClient(llm.HTTPConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
		}),
		llm.RetryConfig{},
		breaker,
		logger.With("component", "llm"),
	)

	indexing := indexingpipeline.New(indexingpipeline.Config{
		Sandbox:  sandboxes,
		Chunker:  chunker,
		Embedder: embedder,
		Vectors:  vectors,
		Meta:     metaStore,
		Progress: queueClient,
		Logger:   logger.With("component", "indexing"),
	})

	return &Container{
		Config:        cfg,
		Queue:         queueClient,
		Installations: installStore,
		IndexMeta:     metaStore,
		Sandboxes:     sandboxes,
		Chunker:       chunker,
		Embedder:      embedder,
		Vectors:       vectors,
		CodeGraph:     codeGraph,
		Validator:     validator,
		DiffGen:       diffGen,
		LLM:           llmClient,
		Indexing:      indexing,
		installStore:  installStore,
	}, nil
}

// Close releases every collaborator holding an external connection.
func (c *Container) Close() error {
	if c.Queue != nil {
		_ = c.Queue.Close()
	}
	if c.installStore != nil {
		return c.installStore.Close()
	}
	return nil
}
