// Package retrieve implements the Hybrid Retriever: it
// fuses BM25 and vector-index rankings with Reciprocal Rank Fusion so a
// single query benefits from both lexical and semantic matching.
package retrieve

import (
	"context"
	"sort"

	"codeforge/internal/indexing/bm25"
	"codeforge/internal/indexing/embed"
	"codeforge/internal/indexing/vector"
)

// rrfK is the RRF damping constant.
const rrfK = 60

// Hit is one fused, ranked chunk.
type Hit struct {
	ChunkID   string
	FilePath  string
	Score     float64
	FromBM25  bool
	FromVector bool
}

// Retriever combines a repo's BM25 index and vector store behind one
// query contract.
type Retriever struct {
	bm25Index *bm25.Index
	vectors   *vector.Store
	embedder  *embed.Embedder
	repoID    string
	branch    string
}

// New constructs a Retriever scoped to one repo+branch.
func New(bm25Index *bm25.Index, vectors *vector.Store, embedder *embed.Embedder, repoID, branch string) *Retriever {
	return &Retriever{bm25Index: bm25Index, vectors: vectors, embedder: embedder, repoID: repoID, branch: branch}
}

// Query returns at most topK fused chunk hits for queryText . topK is a chunk count; see UniqueFilesFromResults for a
// file-count view.
func (r *Retriever) Query(ctx context.Context, queryText string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}

	// Each source is asked for a generous candidate set (wider than
	// topK) so fusion has enough overlap to work with; the fused result
	// is truncated to topK at the end.
	candidateWidth := topK * 4
	if candidateWidth < 50 {
		candidateWidth = 50
	}

	bm25Results := r.bm25Index.Query(queryText, candidateWidth)

	queryVec, err := r.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, err
	}
	vectorResults, err := r.vectors.Query(ctx, r.repoID, r.branch, queryVec, candidateWidth)
	if err != nil {
		return nil, err
	}

	return fuse(bm25Results, vectorResults, topK), nil
}

type fusedEntry struct {
	chunkID    string
	filePath   string
	score      float64
	fromBM25   bool
	fromVector bool
}

// fuse combines two independently-ranked result lists via Reciprocal
// Rank Fusion: score(d) = Σ 1/(k + rank_s(d)) over sources present.
// Deterministic: ties are broken by chunk id ascending.
func fuse(bm25Results []bm25.Result, vectorResults []vector.Match, topK int) []Hit {
	entries := make(map[string]*fusedEntry)

	for rank, res := range bm25Results {
		e, ok := entries[res.ChunkID]
		if !ok {
			e = &fusedEntry{chunkID: res.ChunkID}
			entries[res.ChunkID] = e
		}
		e.fromBM25 = true
		e.filePath = res.FilePath
		e.score += 1.0 / float64(rrfK+rank+1)
	}
	for rank, res := range vectorResults {
		e, ok := entries[res.ChunkID]
		if !ok {
			e = &fusedEntry{chunkID: res.ChunkID}
			entries[res.ChunkID] = e
		}
		e.fromVector = true
		e.filePath = res.FilePath
		e.score += 1.0 / float64(rrfK+rank+1)
	}

	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		hits = append(hits, Hit{
			ChunkID:    e.chunkID,
			FilePath:   e.filePath,
			Score:      e.score,
			FromBM25:   e.fromBM25,
			FromVector: e.fromVector,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// UniqueFilesFromResults returns the distinct file paths represented in
// hits, in hit order, first-occurrence-wins. This may return fewer than
// len(hits) files; topK bounds chunks returned by Query, not files.
func UniqueFilesFromResults(hits []Hit) []string {
	seen := make(map[string]bool)
	var files []string
	for _, h := range hits {
		if h.FilePath == "" || seen[h.FilePath] {
			continue
		}
		seen[h.FilePath] = true
		files = append(files, h.FilePath)
	}
	return files
}

// GroupByFile buckets hits by file path, preserving each bucket's
// relative hit order.
func GroupByFile(hits []Hit) map[string][]Hit {
	grouped := make(map[string][]Hit)
	for _, h := range hits {
		if h.FilePath == "" {
			continue
		}
		grouped[h.FilePath] = append(grouped[h.FilePath], h)
	}
	return grouped
}
