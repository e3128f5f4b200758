// Package vector implements a dense vector index: one chromem-go
// collection per repo+branch, supporting upsert, delete by file path,
// and cosine-similarity query by embedding. Vectors are keyed by chunk
// id the same way the BM25 index is keyed, so the two indexes can be
// kept consistent against the same underlying chunk set.
package vector

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"codeforge/internal/shared/logging"
)

// Vector is one chunk's embedding plus the metadata needed to resolve a
// hit back to a source location without a second lookup.
type Vector struct {
	ChunkID   string
	FilePath  string
	LineStart int
	LineEnd   int
	ChunkType string
	Preview   string
	Embedding []float32
}

// Match is one ranked query hit.
type Match struct {
	ChunkID   string
	FilePath  string
	LineStart int
	LineEnd   int
	ChunkType string
	Preview   string
	Score     float32
}

const previewMaxLen = 200

// Store is a repo-scoped dense vector index backed by one chromem-go
// collection per repoId:branch.
type Store struct {
	mu          sync.Mutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
	logger      logging.Logger
}

// Config configures the on-disk location of the store.
type Config struct {
	PersistDir string
	Logger     logging.Logger
}

// Open opens (creating if absent) the persistent chromem-go database
// rooted at cfg.PersistDir. One Store serves every repo; collections are
// created lazily per repo+branch.
func Open(cfg Config) (*Store, error) {
	dir := cfg.PersistDir
	if dir == "" {
		dir = "./data/vectors"
	}
	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, fmt.Errorf("vector: open persistent db at %s: %w", dir, err)
	}
	return &Store{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		logger:      logging.OrNop(cfg.Logger),
	}, nil
}

// CollectionName returns the deterministic collection name for a repo
// and branch, used as the consistency-unit boundary for I1.
func CollectionName(repoID, branch string) string {
	safeRepo := strings.ReplaceAll(repoID, "/", "_")
	safeBranch := strings.ReplaceAll(branch, "/", "_")
	return fmt.Sprintf("%s__%s", safeRepo, safeBranch)
}

// neverEmbed is passed to chromem-go as the collection's embedding
// function. It must never actually run: every Document we add already
// carries a precomputed Embedding, and chromem-go only calls the
// embedding function when a document's Embedding field is nil.
func neverEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("vector: embedding function invoked unexpectedly; all documents must carry precomputed embeddings")
}

// Initialize ensures the repo+branch's collection exists.
func (s *Store) Initialize(repoID, branch string) error {
	_, err := s.collection(repoID, branch)
	return err
}

func (s *Store) collection(repoID, branch string) (*chromem.Collection, error) {
	name := CollectionName(repoID, branch)

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, neverEmbed)
	if err != nil {
		return nil, fmt.Errorf("vector: get or create collection %s: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// UpsertVectors writes vectors into the repo+branch collection. chromem-go's
// AddDocuments overwrites existing ids in place, so this also serves as
// update.
func (s *Store) UpsertVectors(ctx context.Context, repoID, branch string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	col, err := s.collection(repoID, branch)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(vectors))
	for i, v := range vectors {
		docs[i] = chromem.Document{
			ID:        v.ChunkID,
			Embedding: v.Embedding,
			Content:   v.Preview,
			Metadata:  metadataOf(v),
		}
	}
	if err := col.AddDocuments(ctx, docs, concurrencyFor(len(docs))); err != nil {
		return fmt.Errorf("vector: upsert %d vectors: %w", len(docs), err)
	}
	return nil
}

func metadataOf(v Vector) map[string]string {
	preview := v.Preview
	if len(preview) > previewMaxLen {
		preview = preview[:previewMaxLen]
	}
	return map[string]string{
		"filePath":  v.FilePath,
		"lineStart": strconv.Itoa(v.LineStart),
		"lineEnd":   strconv.Itoa(v.LineEnd),
		"chunkType": v.ChunkType,
		"preview":   preview,
	}
}

func concurrencyFor(n int) int {
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

// DeleteByFilePath removes every vector belonging to filePath from the
// repo+branch collection.
func (s *Store) DeleteByFilePath(ctx context.Context, repoID, branch, filePath string) error {
	col, err := s.collection(repoID, branch)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, map[string]string{"filePath": filePath}, nil); err != nil {
		return fmt.Errorf("vector: delete by path %s: %w", filePath, err)
	}
	return nil
}

// Count returns the number of vectors currently stored for repo+branch.
func (s *Store) Count(repoID, branch string) (int, error) {
	col, err := s.collection(repoID, branch)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Query returns the topK nearest chunks to queryEmbedding by cosine
// similarity.
func (s *Store) Query(ctx context.Context, repoID, branch string, queryEmbedding []float32, topK int) ([]Match, error) {
	col, err := s.collection(repoID, branch)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}

	results, err := col.QueryEmbedding(ctx, queryEmbedding, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector: query: %w", err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		lineStart, _ := strconv.Atoi(r.Metadata["lineStart"])
		lineEnd, _ := strconv.Atoi(r.Metadata["lineEnd"])
		matches[i] = Match{
			ChunkID:   r.ID,
			FilePath:  r.Metadata["filePath"],
			LineStart: lineStart,
			LineEnd:   lineEnd,
			ChunkType: r.Metadata["chunkType"],
			Preview:   r.Metadata["preview"],
			Score:     r.Similarity,
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

// PersistRoot reports the directory this Store's data is rooted under;
// used by operational tooling to size/prune on-disk indexes.
func (s *Store) PersistRoot(base, repoID, branch string) string {
	return filepath.Join(base, CollectionName(repoID, branch))
}
