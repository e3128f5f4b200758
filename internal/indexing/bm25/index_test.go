package bm25

import (
	"testing"

	"codeforge/internal/domain/chunk"
)

func sampleChunks() []chunk.Chunk {
	return []chunk.Chunk{
		{ID: "a", FilePath: "a.go", Content: "function parseRequest reads the incoming payload", Kind: chunk.KindFunction},
		{ID: "b", FilePath: "b.go", Content: "function writeResponse serializes the outgoing payload", Kind: chunk.KindFunction},
		{ID: "c", FilePath: "c.go", Content: "class HTTPHandler routes requests to handlers", Kind: chunk.KindClass},
	}
}

func TestQuery_MatchesEveryChunkContainingTerm(t *testing.T) {
	idx := New()
	idx.Build(sampleChunks())

	results := idx.Query("payload", 10)
	if len(results) != 2 {
		t.Fatalf("expected 2 matches for 'payload', got %d", len(results))
	}
}

func TestQuery_AllStopWordsReturnsEmptyNotError(t *testing.T) {
	idx := New()
	idx.Build(sampleChunks())

	results := idx.Query("the and for", 10)
	if results != nil {
		t.Fatalf("expected nil/empty results for all-stop-word query, got %v", results)
	}
}

func TestRemoveFile_RemovesOnlyThatFilesChunks(t *testing.T) {
	idx := New()
	idx.Build(sampleChunks())
	idx.RemoveFile("a.go")

	if idx.DocCount() != 2 {
		t.Fatalf("expected 2 remaining docs, got %d", idx.DocCount())
	}
	results := idx.Query("payload", 10)
	for _, r := range results {
		if r.ChunkID == "a" {
			t.Fatalf("expected chunk a to be removed")
		}
	}
}

func TestUpdateFiles_IdempotentWithRemoveThenUpdate(t *testing.T) {
	chunks := sampleChunks()
	idxA := New()
	idxA.Build(chunks)
	idxA.RemoveFile("a.go")
	idxA.UpdateFiles([]chunk.Chunk{chunks[0]})

	idxB := New()
	idxB.Build(chunks)
	idxB.UpdateFiles([]chunk.Chunk{chunks[0]})

	if idxA.DocCount() != idxB.DocCount() {
		t.Fatalf("expected equivalent doc counts, got %d vs %d", idxA.DocCount(), idxB.DocCount())
	}
}

func TestQuery_TiesBrokenByChunkID(t *testing.T) {
	idx := New()
	idx.Build([]chunk.Chunk{
		{ID: "z", FilePath: "z.go", Content: "widget widget widget"},
		{ID: "a", FilePath: "a.go", Content: "widget widget widget"},
	})
	results := idx.Query("widget", 10)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Score == results[1].Score && results[0].ChunkID != "a" {
		t.Fatalf("expected tie broken by chunk id ascending, got order %v", results)
	}
}

func TestQuery_TopKTruncates(t *testing.T) {
	idx := New()
	idx.Build(sampleChunks())
	results := idx.Query("payload", 1)
	if len(results) != 1 {
		t.Fatalf("expected topK=1 to truncate, got %d", len(results))
	}
}
