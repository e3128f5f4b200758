// Package embed turns ordered chunks into fixed-dimension vectors via an
// external provider, batching calls with bounded concurrency and
// substituting a zero vector for any chunk whose embedding call fails.
// Vectors are cached by content hash in an LRU
// (github.com/hashicorp/golang-lru/v2) so an unchanged chunk is not
// re-embedded while its vector is still cached; the cache is bounded
// (1024 entries by default) and evicts least-recently-used vectors.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"codeforge/internal/domain/chunk"
	"codeforge/internal/external/embedclient"
	"codeforge/internal/shared/logging"
)

// Config tunes batching behaviour.
type Config struct {
	BatchSize  int
	BatchSleep time.Duration
	CacheSize  int
	Logger     logging.Logger
}

// Embedder wraps an embedclient.Client with spec-mandated batching,
// rate-limiting sleeps, per-chunk failure isolation, and a query-time
// cache.
type Embedder struct {
	client     embedclient.Client
	batchSize  int
	batchSleep time.Duration
	cache      *lru.Cache[string, []float32]
	logger     logging.Logger
}

// New constructs an Embedder over client.
func New(client embedclient.Client, cfg Config) *Embedder {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	sleep := cfg.BatchSleep
	if sleep <= 0 {
		sleep = time.Second
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &Embedder{client: client, batchSize: batchSize, batchSleep: sleep, cache: cache, logger: logging.OrNop(cfg.Logger)}
}

// Dimensions returns the provider's fixed vector width.
func (e *Embedder) Dimensions() int { return e.client.Dimensions() }

// EmbedChunks embeds chunks in order, batching B at a time with a
// between-batch sleep, and returns vectors aligned 1:1 with the input
//. A chunk whose call fails gets a zero vector
// in its slot rather than aborting the whole batch.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []chunk.Chunk) [][]float32 {
	out := make([][]float32, len(chunks))
	for start := 0; start < len(chunks); start += e.batchSize {
		end := start + e.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		e.embedBatch(ctx, chunks[start:end], out[start:end])

		if end < len(chunks) {
			select {
			case <-ctx.Done():
				return out
			case <-time.After(e.batchSleep):
			}
		}
	}
	return out
}

func (e *Embedder) embedBatch(ctx context.Context, batch []chunk.Chunk, dst [][]float32) {
	g, gctx := errgroup.WithContext(ctx)
	for i := range batch {
		i := i
		g.Go(func() error {
			vec, err := e.EmbedQuery(gctx, batch[i].Content)
			if err != nil {
				e.logger.Warn("embedding failed for chunk %s, substituting zero vector: %v", batch[i].ID, err)
				dst[i] = make([]float32, e.Dimensions())
				return nil
			}
			dst[i] = vec
			return nil
		})
	}
	_ = g.Wait() // embedBatch never returns an error: per-chunk failures are absorbed above.
}

// EmbedQuery embeds free text (used at query time by the retriever),
// serving from cache when available.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := e.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, vec)
	return vec, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
