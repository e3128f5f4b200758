package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"codeforge/internal/domain/chunk"
)

type fakeClient struct {
	dim      int
	failText string
}

func (f *fakeClient) Dimensions() int { return f.dim }

func (f *fakeClient) Embed(_ context.Context, text string) ([]float32, error) {
	if text == f.failText {
		return nil, errors.New("provider down")
	}
	return []float32{1, 2, 3}, nil
}

func (f *fakeClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestEmbedChunks_ZeroVectorOnFailure(t *testing.T) {
	client := &fakeClient{dim: 3, failText: "bad"}
	e := New(client, Config{BatchSize: 2, BatchSleep: time.Millisecond})

	chunks := []chunk.Chunk{
		{ID: "a", Content: "good"},
		{ID: "b", Content: "bad"},
		{ID: "c", Content: "good"},
	}

	vecs := e.EmbedChunks(context.Background(), chunks)
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs[1] {
		if v != 0 {
			t.Fatalf("expected zero vector for failed chunk, got non-zero at index %d", i)
		}
	}
	if len(vecs[0]) != 3 || vecs[0][0] == 0 {
		t.Fatalf("expected real vector for chunk a, got %v", vecs[0])
	}
}

func TestEmbedQuery_CacheHit(t *testing.T) {
	client := &fakeClient{dim: 3}
	e := New(client, Config{})

	v1, err := e.EmbedQuery(context.Background(), "cached text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := e.EmbedQuery(context.Background(), "cached text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v1) != len(v2) {
		t.Fatalf("expected matching cached vector lengths")
	}
}

func TestEmbedChunks_PreservesOrder(t *testing.T) {
	client := &fakeClient{dim: 3}
	e := New(client, Config{BatchSize: 1, BatchSleep: time.Millisecond})
	chunks := []chunk.Chunk{{ID: "a", Content: "1"}, {ID: "b", Content: "2"}, {ID: "c", Content: "3"}}
	vecs := e.EmbedChunks(context.Background(), chunks)
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors in order, got %d", len(vecs))
	}
}
