package retrieve

import (
	"context"
	"testing"

	"codeforge/internal/domain/chunk"
	"codeforge/internal/external/embedclient"
	"codeforge/internal/indexing/bm25"
	"codeforge/internal/indexing/embed"
	"codeforge/internal/indexing/vector"
)

type fakeEmbedClient struct{}

func (fakeEmbedClient) Dimensions() int { return 3 }
func (fakeEmbedClient) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "payload parsing" {
		return []float32{1, 0, 0}, nil
	}
	return []float32{0, 0, 1}, nil
}
func (f fakeEmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

var _ embedclient.Client = fakeEmbedClient{}

func buildTestRetriever(t *testing.T) *Retriever {
	t.Helper()
	chunks := []chunk.Chunk{
		{ID: "a", FilePath: "a.go", Content: "function parseRequest reads the incoming payload"},
		{ID: "b", FilePath: "b.go", Content: "function writeResponse serializes the outgoing payload"},
		{ID: "c", FilePath: "c.go", Content: "completely unrelated content about widgets"},
	}

	idx := bm25.New()
	idx.Build(chunks)

	store, err := vector.Open(vector.Config{PersistDir: t.TempDir()})
	if err != nil {
		t.Fatalf("vector.Open: %v", err)
	}
	if err := store.Initialize("acme/widgets", "main"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ctx := context.Background()
	if err := store.UpsertVectors(ctx, "acme/widgets", "main", []vector.Vector{
		{ChunkID: "a", FilePath: "a.go", Embedding: []float32{1, 0, 0}},
		{ChunkID: "b", FilePath: "b.go", Embedding: []float32{0.9, 0.1, 0}},
		{ChunkID: "c", FilePath: "c.go", Embedding: []float32{0, 0, 1}},
	}); err != nil {
		t.Fatalf("UpsertVectors: %v", err)
	}

	embedder := embed.New(fakeEmbedClient{}, embed.Config{})
	return New(idx, store, embedder, "acme/widgets", "main")
}

func TestQuery_FusesBM25AndVectorRankings(t *testing.T) {
	r := buildTestRetriever(t)
	hits, err := r.Query(context.Background(), "payload parsing", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected at least one hit")
	}
	if hits[0].ChunkID != "a" {
		t.Fatalf("expected chunk 'a' to rank first (strong in both sources), got %s", hits[0].ChunkID)
	}
}

func TestQuery_TopKTruncatesFusedResults(t *testing.T) {
	r := buildTestRetriever(t)
	hits, err := r.Query(context.Background(), "payload parsing", 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected exactly 1 fused hit, got %d", len(hits))
	}
}

func TestQuery_IsDeterministicAcrossRepeatedCalls(t *testing.T) {
	r := buildTestRetriever(t)
	ctx := context.Background()
	first, err := r.Query(ctx, "payload parsing", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	second, err := r.Query(ctx, "payload parsing", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected stable result count, got %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ChunkID != second[i].ChunkID {
			t.Fatalf("expected stable ordering at index %d: %s vs %s", i, first[i].ChunkID, second[i].ChunkID)
		}
	}
}

func TestUniqueFilesFromResults_FirstOccurrenceWins(t *testing.T) {
	hits := []Hit{
		{ChunkID: "a1", FilePath: "a.go"},
		{ChunkID: "a2", FilePath: "a.go"},
		{ChunkID: "b1", FilePath: "b.go"},
	}
	files := UniqueFilesFromResults(hits)
	if len(files) != 2 || files[0] != "a.go" || files[1] != "b.go" {
		t.Fatalf("expected [a.go b.go], got %v", files)
	}
}

func TestGroupByFile_PreservesRelativeOrder(t *testing.T) {
	hits := []Hit{
		{ChunkID: "a1", FilePath: "a.go"},
		{ChunkID: "b1", FilePath: "b.go"},
		{ChunkID: "a2", FilePath: "a.go"},
	}
	grouped := GroupByFile(hits)
	if len(grouped["a.go"]) != 2 || grouped["a.go"][0].ChunkID != "a1" || grouped["a.go"][1].ChunkID != "a2" {
		t.Fatalf("expected a.go bucket [a1 a2], got %v", grouped["a.go"])
	}
}
