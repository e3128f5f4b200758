// Package bm25 implements a repo-scoped lexical inverted index: classical
// BM25 (k1=1.2, b=0.75) with per-file incremental invalidation via a
// secondary filePath -> chunkIds map.
//
// This is hand-rolled rather than backed by a general-purpose search
// library because the exact scoring constants and the per-file-batch
// atomicity contract need a granularity no off-the-shelf BM25 library
// exposes; see DESIGN.md.
package bm25

import (
	"math"
	"sort"
	"sync"

	"codeforge/internal/domain/chunk"
)

const (
	k1 = 1.2
	b  = 0.75
)

// Result is one ranked hit.
type Result struct {
	ChunkID  string
	FilePath string
	Score    float64
}

// Index is a repo-scoped BM25 inverted index.
type Index struct {
	mu sync.RWMutex

	docs        map[string]*document       // chunkId -> document
	postings    map[string]map[string]int  // term -> chunkId -> term frequency
	fileToChunks map[string]map[string]bool // filePath -> set of chunkIds
	totalLen    int
}

type document struct {
	chunk  chunk.Chunk
	length int
	terms  map[string]int
}

// New constructs an empty index for one repository.
func New() *Index {
	return &Index{
		docs:         make(map[string]*document),
		postings:     make(map[string]map[string]int),
		fileToChunks: make(map[string]map[string]bool),
	}
}

// Build replaces the entire index with chunks. It is the moral equivalent of removeAll + updateFiles but
// skips per-file diffing since everything is being replaced.
func (idx *Index) Build(chunks []chunk.Chunk) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs = make(map[string]*document)
	idx.postings = make(map[string]map[string]int)
	idx.fileToChunks = make(map[string]map[string]bool)
	idx.totalLen = 0
	for _, c := range chunks {
		idx.insertLocked(c)
	}
}

// RemoveFile removes every chunk belonging to filePath.
func (idx *Index) RemoveFile(filePath string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeFileLocked(filePath)
}

// UpdateFiles replaces all chunks for each file represented in
// newChunks: it first resolves the affected chunk ids by path, removes
// them from postings and doc-length tables, then inserts newChunks
//. Writers for the same repo must
// serialize their own calls (the caller holds a per-repo lock); Index's
// internal mutex only protects the structures themselves.
func (idx *Index) UpdateFiles(newChunks []chunk.Chunk) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	affectedFiles := make(map[string]bool)
	for _, c := range newChunks {
		affectedFiles[c.FilePath] = true
	}
	for file := range affectedFiles {
		idx.removeFileLocked(file)
	}
	for _, c := range newChunks {
		idx.insertLocked(c)
	}
}

func (idx *Index) removeFileLocked(filePath string) {
	ids, ok := idx.fileToChunks[filePath]
	if !ok {
		return
	}
	for id := range ids {
		doc, ok := idx.docs[id]
		if !ok {
			continue
		}
		for term := range doc.terms {
			if postings, ok := idx.postings[term]; ok {
				delete(postings, id)
				if len(postings) == 0 {
					delete(idx.postings, term)
				}
			}
		}
		idx.totalLen -= doc.length
		delete(idx.docs, id)
	}
	delete(idx.fileToChunks, filePath)
}

func (idx *Index) insertLocked(c chunk.Chunk) {
	terms := tokenize(c.Content)
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	doc := &document{chunk: c, length: len(terms), terms: tf}
	idx.docs[c.ID] = doc
	idx.totalLen += doc.length

	for term, freq := range tf {
		bucket, ok := idx.postings[term]
		if !ok {
			bucket = make(map[string]int)
			idx.postings[term] = bucket
		}
		bucket[c.ID] = freq
	}

	files, ok := idx.fileToChunks[c.FilePath]
	if !ok {
		files = make(map[string]bool)
		idx.fileToChunks[c.FilePath] = files
	}
	files[c.ID] = true
}

// DocCount returns the number of indexed chunks.
func (idx *Index) DocCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// avgDocLen returns the average document length, 0 when empty.
func (idx *Index) avgDocLenLocked() float64 {
	if len(idx.docs) == 0 {
		return 0
	}
	return float64(idx.totalLen) / float64(len(idx.docs))
}

// Query ranks chunks by BM25 score against text, returning at most topK
// results, ties broken by chunk id. All-stop-word input
// yields an empty (not erroring) ranking.
func (idx *Index) Query(text string, topK int) []Result {
	terms := tokenize(text)
	if len(terms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.docs) == 0 {
		return nil
	}
	avgLen := idx.avgDocLenLocked()
	n := float64(len(idx.docs))

	scores := make(map[string]float64)
	seen := make(map[string]bool)
	for _, term := range terms {
		if seen[term] {
			continue // a repeated query term contributes once; idf already accounts for term frequency via tf below
		}
		seen[term] = true

		bucket, ok := idx.postings[term]
		if !ok {
			continue
		}
		df := float64(len(bucket))
		idfScore := idf(n, df)

		for chunkID, tf := range bucket {
			doc := idx.docs[chunkID]
			norm := 1 - b + b*(float64(doc.length)/avgLen)
			score := idfScore * (float64(tf) * (k1 + 1)) / (float64(tf) + k1*norm)
			scores[chunkID] += score
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{ChunkID: id, FilePath: idx.docs[id].chunk.FilePath, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// idf is the classical BM25 idf term, floored at a small positive value
// so terms appearing in every document don't contribute negative scores.
func idf(n, df float64) float64 {
	v := math.Log(1 + (n-df+0.5)/(df+0.5))
	if v < 0 {
		v = 0.0001
	}
	return v
}
