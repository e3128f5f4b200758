package indexing

import (
	"sync"

	"codeforge/internal/indexing/bm25"
)

// bm25Registry holds one in-memory bm25.Index per repo+branch. Unlike
// the vector store, the lexical index has no on-disk persistence — a
// process restart loses it, and the next push simply triggers a full
// reindex (isIndexed in the decision rule is driven by the meta record,
// not by this registry's contents).
type bm25Registry struct {
	mu      sync.Mutex
	indexes map[string]*bm25.Index
}

func newBM25Registry() *bm25Registry {
	return &bm25Registry{indexes: make(map[string]*bm25.Index)}
}

func (r *bm25Registry) getOrCreate(key string) *bm25.Index {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.indexes[key]
	if !ok {
		idx = bm25.New()
		r.indexes[key] = idx
	}
	return idx
}

func registryKey(repoID, branch string) string {
	return repoID + "@" + branch
}
