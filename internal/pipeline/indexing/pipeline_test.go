package indexing

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"codeforge/internal/domain/indexstate"
	"codeforge/internal/indexing/chunk"
	"codeforge/internal/indexing/embed"
	"codeforge/internal/indexing/vector"
	"codeforge/internal/sandbox"
)

// fakeContainerClient simulates just enough of sandbox.ContainerClient
// for the pipeline: Exec recognizes a "git clone" command (every other
// command succeeds with no output) and materializes a fixture file set directly into the
// container's mounted workdir (sandbox.Manager.ReadFiles/FileTree read
// that local path directly, bypassing the container entirely).
type fakeContainerClient struct {
	mu       sync.Mutex
	volumes  map[string]string // container name -> host workdir
	fixtures map[string]string // file path -> content, written on clone
}

func newFakeContainerClient(fixtures map[string]string) *fakeContainerClient {
	return &fakeContainerClient{volumes: make(map[string]string), fixtures: fixtures}
}

func (f *fakeContainerClient) ContainerExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
func (f *fakeContainerClient) ContainerRunning(ctx context.Context, name string) (bool, error) {
	return true, nil
}
func (f *fakeContainerClient) ContainerCreate(ctx context.Context, opts sandbox.CreateOpts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for host, container := range opts.Volumes {
		if container == "/workspace" {
			f.volumes[opts.Name] = host
		}
	}
	return nil
}
func (f *fakeContainerClient) ContainerStart(ctx context.Context, name string) error { return nil }
func (f *fakeContainerClient) ContainerStop(ctx context.Context, name string, timeout time.Duration) error {
	return nil
}
func (f *fakeContainerClient) ContainerRemove(ctx context.Context, name string) error { return nil }
func (f *fakeContainerClient) ContainerInspect(ctx context.Context, name string) (*sandbox.ContainerInfo, error) {
	return &sandbox.ContainerInfo{Name: name, Running: true}, nil
}

func (f *fakeContainerClient) Exec(ctx context.Context, container string, cmd []string, opts sandbox.ExecOpts) (string, error) {
	joined := strings.Join(cmd, " ")
	if !strings.Contains(joined, "git clone") {
		return "", nil
	}
	f.mu.Lock()
	workdir := f.volumes[container]
	f.mu.Unlock()
	for path, content := range f.fixtures {
		full := filepath.Join(workdir, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	return "", nil
}
func (f *fakeContainerClient) CopyTo(ctx context.Context, container string, src, dst string) error {
	return nil
}
func (f *fakeContainerClient) ImagePull(ctx context.Context, image string) error { return nil }

// fakeEmbedClient returns a deterministic fixed-dimension vector per
// text, distinguishing distinct inputs by a single varying component so
// cosine similarity isn't degenerate across chunks.
type fakeEmbedClient struct {
	dims int
}

func (f *fakeEmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dims)
	vec[0] = float32(len(text)%97) + 1
	vec[1] = 1
	return vec, nil
}

func (f *fakeEmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedClient) Dimensions() int { return f.dims }

// fakeMetaStore is an in-memory indexstate.Store standing in for the
// real RedisMetaStore, a thin marshal/Get/Set wrapper over Redis that
// these tests do not exercise.
type fakeMetaStore struct {
	mu      sync.Mutex
	records map[string]indexstate.Meta
}

func newFakeMetaStore() *fakeMetaStore {
	return &fakeMetaStore{records: make(map[string]indexstate.Meta)}
}

func (s *fakeMetaStore) Get(repoID, branch string) (*indexstate.Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[repoID+"@"+branch]
	if !ok {
		return nil, false
	}
	return &m, true
}

func (s *fakeMetaStore) Put(meta indexstate.Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[meta.RepoID+"@"+meta.Branch] = meta
	return nil
}

type noopProgress struct {
	mu    sync.Mutex
	calls []int
}

func (p *noopProgress) UpdateProgress(ctx context.Context, queueName, jobID string, progress int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, progress)
	return nil
}

func newTestPipeline(t *testing.T, fixtures map[string]string) (*Pipeline, *noopProgress, *fakeMetaStore) {
	t.Helper()
	client := newFakeContainerClient(fixtures)
	mgr := sandbox.NewManager(sandbox.Config{Client: client, Image: "codeforge/sandbox:latest", BaseDir: t.TempDir()})

	vecStore, err := vector.Open(vector.Config{PersistDir: t.TempDir()})
	if err != nil {
		t.Fatalf("vector.Open: %v", err)
	}

	embedder := embed.New(&fakeEmbedClient{dims: 8}, embed.Config{BatchSize: 10, BatchSleep: time.Millisecond})
	progress := &noopProgress{}
	meta := newFakeMetaStore()

	p := New(Config{
		Sandbox:  mgr,
		Chunker:  chunk.New(chunk.Config{LineWindow: 20}),
		Embedder: embedder,
		Vectors:  vecStore,
		Meta:     meta,
		Progress: progress,
	})
	return p, progress, meta
}

func sampleFixtures() map[string]string {
	return map[string]string{
		"main.go":           "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n",
		"pkg/util.go":       "package pkg\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n",
		"README.md":         "# sample\n",
		"node_modules/x.go": "package x\n",
	}
}

func TestPipeline_RunFull_IndexesCodeFiles(t *testing.T) {
	p, progress, meta := newTestPipeline(t, sampleFixtures())
	ctx := context.Background()

	err := p.RunFull(ctx, FullPayload{
		ProjectID: "proj-1",
		RepoURL:   "https://github.com/acme/widgets.git",
		RepoID:    "acme/widgets",
		Branch:    "main",
		AfterSHA:  "abc123",
		JobID:     "job-1",
	})
	if err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	idx := p.BM25For("acme/widgets", "main")
	if idx.DocCount() == 0 {
		t.Fatal("expected BM25 index to contain chunks after a full run")
	}
	if idx.DocCount() > 0 {
		if results := idx.Query("Add", 5); len(results) == 0 {
			t.Fatal("expected a BM25 hit for a term present in pkg/util.go")
		}
	}

	m, ok := meta.Get("acme/widgets", "main")
	if !ok {
		t.Fatal("expected a meta record to be written")
	}
	if m.LastIndexType != indexstate.IndexTypeFull {
		t.Fatalf("expected full index type, got %s", m.LastIndexType)
	}
	if m.LastIndexedSha != "abc123" {
		t.Fatalf("expected sha abc123, got %s", m.LastIndexedSha)
	}
	if !m.Indexed() {
		t.Fatal("expected Indexed() to report true")
	}

	progress.mu.Lock()
	defer progress.mu.Unlock()
	want := []int{10, 25, 50, 65, 90, 100}
	if len(progress.calls) != len(want) {
		t.Fatalf("expected progress milestones %v, got %v", want, progress.calls)
	}
	for i, w := range want {
		if progress.calls[i] != w {
			t.Fatalf("expected progress milestone %d at index %d, got %d", w, i, progress.calls[i])
		}
	}
}

func TestPipeline_RunFull_ExcludesNodeModulesAndNonCodeFiles(t *testing.T) {
	p, _, _ := newTestPipeline(t, sampleFixtures())
	ctx := context.Background()

	if err := p.RunFull(ctx, FullPayload{
		ProjectID: "proj-2",
		RepoURL:   "https://github.com/acme/widgets.git",
		RepoID:    "acme/widgets2",
		Branch:    "main",
		AfterSHA:  "sha1",
		JobID:     "",
	}); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	idx := p.BM25For("acme/widgets2", "main")
	for _, hit := range idx.Query("hi", 50) {
		if strings.Contains(hit.FilePath, "node_modules") {
			t.Fatalf("expected node_modules to be excluded, found chunk at %s", hit.FilePath)
		}
	}
}

func TestPipeline_RunFull_FatalOnZeroChunks(t *testing.T) {
	p, _, _ := newTestPipeline(t, map[string]string{"README.md": "# empty repo, no code files\n"})
	ctx := context.Background()

	err := p.RunFull(ctx, FullPayload{
		ProjectID: "proj-3",
		RepoURL:   "https://github.com/acme/empty.git",
		RepoID:    "acme/empty",
		Branch:    "main",
		AfterSHA:  "sha1",
	})
	if err == nil {
		t.Fatal("expected an error when zero chunks are produced")
	}
}

func TestPipeline_RunIncremental_AddsAndRemovesFiles(t *testing.T) {
	fixtures := sampleFixtures()
	p, progress, meta := newTestPipeline(t, fixtures)
	ctx := context.Background()

	if err := p.RunFull(ctx, FullPayload{
		ProjectID: "proj-4", RepoURL: "https://github.com/acme/widgets.git",
		RepoID: "acme/widgets3", Branch: "main", AfterSHA: "sha1",
	}); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	progress.mu.Lock()
	progress.calls = nil
	progress.mu.Unlock()

	// RunIncremental re-clones (the fixture client overwrites the same
	// files) and simulates pkg/util.go being modified and main.go being
	// removed from the push.
	err := p.RunIncremental(ctx, IncrementalPayload{
		ProjectID: "proj-4",
		RepoURL:   "https://github.com/acme/widgets.git",
		RepoID:    "acme/widgets3",
		Branch:    "main",
		BeforeSHA: "sha1",
		AfterSHA:  "sha2",
		Added:     nil,
		Modified:  []string{"pkg/util.go"},
		Removed:   []string{"main.go"},
	})
	if err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}

	idx := p.BM25For("acme/widgets3", "main")
	for _, hit := range idx.Query("hi", 50) {
		if hit.FilePath == "main.go" {
			t.Fatal("expected main.go to be removed from the BM25 index")
		}
	}

	m, ok := meta.Get("acme/widgets3", "main")
	if !ok {
		t.Fatal("expected a meta record after incremental run")
	}
	if m.LastIndexType != indexstate.IndexTypeIncremental {
		t.Fatalf("expected incremental index type, got %s", m.LastIndexType)
	}
	if m.LastIndexedSha != "sha2" {
		t.Fatalf("expected sha2, got %s", m.LastIndexedSha)
	}

	progress.mu.Lock()
	defer progress.mu.Unlock()
	want := []int{10, 25, 50, 65, 90, 100}
	if len(progress.calls) != len(want) {
		t.Fatalf("expected progress milestones %v, got %v", want, progress.calls)
	}
}

func TestPipeline_RunIncremental_NoTouchedFilesStillWritesMeta(t *testing.T) {
	p, _, meta := newTestPipeline(t, sampleFixtures())
	ctx := context.Background()

	if err := p.RunFull(ctx, FullPayload{
		ProjectID: "proj-5", RepoURL: "https://github.com/acme/widgets.git",
		RepoID: "acme/widgets4", Branch: "main", AfterSHA: "sha1",
	}); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	err := p.RunIncremental(ctx, IncrementalPayload{
		ProjectID: "proj-5",
		RepoURL:   "https://github.com/acme/widgets.git",
		RepoID:    "acme/widgets4",
		Branch:    "main",
		BeforeSHA: "sha1",
		AfterSHA:  "sha1",
	})
	if err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}

	m, ok := meta.Get("acme/widgets4", "main")
	if !ok || m.LastIndexType != indexstate.IndexTypeIncremental {
		t.Fatalf("expected an incremental meta record to be written even with no touched files, got %+v ok=%v", m, ok)
	}
}

func TestRegistryKey_IsStableAcrossCalls(t *testing.T) {
	if registryKey("acme/widgets", "main") != registryKey("acme/widgets", "main") {
		t.Fatal("expected registryKey to be deterministic")
	}
	if registryKey("acme/widgets", "main") == registryKey("acme/widgets", "dev") {
		t.Fatal("expected different branches to produce different keys")
	}
}
